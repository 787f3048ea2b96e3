package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name string
	Timestamps
}

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func TestOnCreateDiscardsCallerValues(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC)
	g := NewGuard(func() time.Time { return fixed })

	forged := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &record{Name: "a", Timestamps: Timestamps{CreatedAt: forged, UpdatedAt: &forged}}
	g.OnCreate(r)

	assert.Equal(t, fixed.Truncate(Resolution), r.CreatedAt)
	assert.Nil(t, r.UpdatedAt)
}

func TestOnUpdateRestoresCreatedAt(t *testing.T) {
	clock := &stepClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), step: time.Second}
	g := NewGuard(clock.now)

	r := &record{Name: "a"}
	g.OnCreate(r)
	stored := r.Timestamps

	r.CreatedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	g.OnUpdate(stored, r)

	assert.Equal(t, stored.CreatedAt, r.CreatedAt)
	require.NotNil(t, r.UpdatedAt)
	assert.True(t, r.UpdatedAt.After(r.CreatedAt))
}

func TestOnUpdateStrictlyIncreasesWithStalledClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	g := NewGuard(func() time.Time { return fixed })

	r := &record{}
	g.OnCreate(r)
	created := r.CreatedAt

	g.OnUpdate(r.Timestamps, r)
	require.NotNil(t, r.UpdatedAt)
	first := *r.UpdatedAt
	assert.True(t, first.After(created))

	g.OnUpdate(r.Timestamps, r)
	second := *r.UpdatedAt
	assert.True(t, second.After(first))
	assert.Equal(t, created, r.CreatedAt)
}

func TestOnUpdateClockBehindStoredValue(t *testing.T) {
	stored := Timestamps{CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	later := stored.CreatedAt.Add(time.Hour)
	stored.UpdatedAt = &later

	g := NewGuard(func() time.Time { return stored.CreatedAt.Add(time.Minute) })
	r := &record{Timestamps: stored}
	g.OnUpdate(stored, r)

	assert.Equal(t, later.Add(Resolution), *r.UpdatedAt)
}
