// Package audit keeps the creation and modification times of persisted
// entities consistent. Stores route every insert and update of an audited
// entity through a Guard inside the same database transaction as the write.
package audit

import (
	"time"
)

// Resolution is the precision timestamps are kept at. Both stores persist
// microseconds, so stamped values survive a round trip unchanged.
const Resolution = time.Microsecond

// Timestamps is embedded by every audited entity.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// AuditTimestamps exposes the embedded timestamps to the Guard.
func (t *Timestamps) AuditTimestamps() *Timestamps {
	return t
}

// Audited is implemented by any entity embedding Timestamps.
type Audited interface {
	AuditTimestamps() *Timestamps
}

// Guard stamps audited entities on their write path.
type Guard struct {
	now func() time.Time
}

// NewGuard builds a guard reading the given clock. A nil clock uses time.Now.
func NewGuard(clock func() time.Time) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{now: clock}
}

// OnCreate discards whatever the caller put in the timestamps: CreatedAt
// becomes the current time and UpdatedAt stays empty.
func (g *Guard) OnCreate(e Audited) {
	ts := e.AuditTimestamps()
	ts.CreatedAt = g.current()
	ts.UpdatedAt = nil
}

// OnUpdate restores CreatedAt from the stored row, silently undoing any
// attempt to change it, and moves UpdatedAt forward. The new UpdatedAt is
// strictly later than both stored timestamps even if the clock stalls or
// steps backwards.
func (g *Guard) OnUpdate(stored Timestamps, e Audited) {
	ts := e.AuditTimestamps()
	ts.CreatedAt = stored.CreatedAt

	floor := stored.CreatedAt
	if stored.UpdatedAt != nil && stored.UpdatedAt.After(floor) {
		floor = *stored.UpdatedAt
	}
	next := g.current()
	if !next.After(floor) {
		next = floor.Add(Resolution)
	}
	ts.UpdatedAt = &next
}

func (g *Guard) current() time.Time {
	return g.now().UTC().Truncate(Resolution)
}
