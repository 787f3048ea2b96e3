package wallet

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists wallet identity and policy. Implementations stamp
// audit timestamps through an audit.Guard inside the write they guard.
type Repository interface {
	Create(ctx context.Context, input CreateInput) (Wallet, error)
	FindByID(ctx context.Context, id uuid.UUID) (Wallet, bool, error)
	FindByLabel(ctx context.Context, label Label) (Wallet, bool, error)
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]Wallet, error)
	SetOverdraftPolicy(ctx context.Context, id uuid.UUID, allow bool) (Wallet, error)
	SetLabel(ctx context.Context, id uuid.UUID, label *Label) (Wallet, error)
	DetachOwner(ctx context.Context, owner uuid.UUID) (int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

const (
	labelConstraint = "label"
	walletColumns   = `id, owner_actor_id, label, allow_overdraft, created_at, updated_at`
)

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func labelArg(label *Label) any {
	if label == nil {
		return nil
	}
	return string(*label)
}
