package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/logging"
)

// Service exposes wallet operations on top of a Repository.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{repo: repo, logger: logger}
}

// Create registers a wallet. A blank label is stored as no label.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	label, err := NormalizeLabel(input.Label)
	if err != nil {
		return Wallet{}, err
	}
	input.Label = label

	w, err := s.repo.Create(ctx, input)
	if err != nil {
		return Wallet{}, classify(err)
	}
	s.log(ctx).InfoContext(ctx, "wallet.created", "wallet_id", w.ID, "allow_overdraft", w.AllowOverdraft)
	return w, nil
}

// Get retrieves wallet metadata, failing with ErrNotFound when absent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Wallet, error) {
	w, ok, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return Wallet{}, classify(err)
	}
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

// Find returns the wallet and whether it exists.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (Wallet, bool, error) {
	w, ok, err := s.repo.FindByID(ctx, id)
	return w, ok, classify(err)
}

// FindByLabel returns the wallet carrying label and whether it exists.
func (s *Service) FindByLabel(ctx context.Context, label Label) (Wallet, bool, error) {
	normalized, err := NormalizeLabel(&label)
	if err != nil {
		return Wallet{}, false, err
	}
	if normalized == nil {
		return Wallet{}, false, nil
	}
	w, ok, err := s.repo.FindByLabel(ctx, *normalized)
	return w, ok, classify(err)
}

// ListByOwner returns every wallet attached to an actor.
func (s *Service) ListByOwner(ctx context.Context, owner uuid.UUID) ([]Wallet, error) {
	wallets, err := s.repo.ListByOwner(ctx, owner)
	return wallets, classify(err)
}

// SetOverdraftPolicy toggles whether the wallet may go below zero.
func (s *Service) SetOverdraftPolicy(ctx context.Context, id uuid.UUID, allow bool) (Wallet, error) {
	w, err := s.repo.SetOverdraftPolicy(ctx, id, allow)
	if err != nil {
		return Wallet{}, classify(err)
	}
	s.log(ctx).InfoContext(ctx, "wallet.overdraft_policy_changed", "wallet_id", id, "allow_overdraft", allow)
	return w, nil
}

// SetLabel renames the wallet. A nil or blank label clears it.
func (s *Service) SetLabel(ctx context.Context, id uuid.UUID, label *Label) (Wallet, error) {
	normalized, err := NormalizeLabel(label)
	if err != nil {
		return Wallet{}, err
	}
	w, err := s.repo.SetLabel(ctx, id, normalized)
	if err != nil {
		return Wallet{}, classify(err)
	}
	s.log(ctx).InfoContext(ctx, "wallet.label_changed", "wallet_id", id)
	return w, nil
}

// DetachOwner is called when an actor is removed. Its wallets survive
// without an owner so that ledger history stays intact.
func (s *Service) DetachOwner(ctx context.Context, owner uuid.UUID) (int, error) {
	n, err := s.repo.DetachOwner(ctx, owner)
	if err != nil {
		return 0, classify(err)
	}
	s.log(ctx).InfoContext(ctx, "wallet.owner_detached", "owner_id", owner, "wallets", n)
	return n, nil
}

// Delete removes a wallet that has never been part of a transfer.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return classify(err)
	}
	s.log(ctx).InfoContext(ctx, "wallet.deleted", "wallet_id", id)
	return nil
}

// EnsureSystemWallets creates the well-known labelled wallets that are
// missing. They allow overdraft since they mirror money outside the ledger.
func (s *Service) EnsureSystemWallets(ctx context.Context) (map[Label]Wallet, error) {
	wallets := make(map[Label]Wallet, len(SystemLabels()))
	for _, label := range SystemLabels() {
		w, ok, err := s.repo.FindByLabel(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("EnsureSystemWallets: %w", classify(err))
		}
		if !ok {
			l := label
			w, err = s.repo.Create(ctx, CreateInput{Label: &l, AllowOverdraft: true})
			if errors.Is(err, ErrDuplicateLabel) {
				// another instance won the race
				w, ok, err = s.repo.FindByLabel(ctx, label)
				if err == nil && !ok {
					err = ErrNotFound
				}
			}
			if err != nil {
				return nil, fmt.Errorf("EnsureSystemWallets %s: %w", label, classify(err))
			}
			s.log(ctx).InfoContext(ctx, "wallet.system_wallet_created", "label", string(label), "wallet_id", w.ID)
		}
		wallets[label] = w
	}
	return wallets, nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}
