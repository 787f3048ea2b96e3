package wallet

import (
	"strings"

	"github.com/google/uuid"

	"github.com/tallybook/tallybook/internal/audit"
)

// MaxLabelLength bounds the human readable wallet name.
const MaxLabelLength = 64

// Label is an optional unique human readable wallet name.
type Label string

const (
	// LabelOutsideCash names the system wallet cash enters and leaves the shop through.
	LabelOutsideCash Label = "outside_cash"
	// LabelOutsideCashDiscrepancy absorbs differences found when counting cash.
	LabelOutsideCashDiscrepancy Label = "outside_cash_discrepancy"
)

// SystemLabels lists the wallets every deployment is expected to have.
func SystemLabels() []Label {
	return []Label{LabelOutsideCash, LabelOutsideCashDiscrepancy}
}

// NormalizeLabel trims the label and maps blank values to no label.
func NormalizeLabel(label *Label) (*Label, error) {
	if label == nil {
		return nil, nil
	}
	trimmed := Label(strings.TrimSpace(string(*label)))
	if trimmed == "" {
		return nil, nil
	}
	if len(trimmed) > MaxLabelLength {
		return nil, ErrInvalidLabel
	}
	return &trimmed, nil
}

// Wallet holds the identity and overdraft policy of a balance-carrying
// account. The balance itself is derived from the transaction log.
type Wallet struct {
	ID             uuid.UUID
	Owner          *uuid.UUID
	Label          *Label
	AllowOverdraft bool
	audit.Timestamps
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	Owner          *uuid.UUID
	Label          *Label
	AllowOverdraft bool
}
