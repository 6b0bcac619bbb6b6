package model

import (
	"fmt"
	"time"
)

// Ledger entry types. The signed Amount carries direction: credits are
// positive, debits negative.
const (
	EntryTypeDeposit       = "deposit"
	EntryTypeEscrowHold    = "escrow_hold"
	EntryTypeEscrowRelease = "escrow_release"
	EntryTypeReward        = "reward"
	EntryTypeRefund        = "refund"
	EntryTypeAufReceived   = "auf_received"
	EntryTypePayoutTracked = "payout_tracked"
	EntryTypeWithdrawal    = "withdrawal"
)

// LedgerEntry is an immutable, append-only record of a single balance
// movement. Entries are never updated or deleted; the unique IdempotencyKey
// is the sole mechanism preventing double-application of a retried request.
type LedgerEntry struct {
	ID             int64                  `json:"-"`
	EntryID        string                 `json:"entry_id"`
	OwnerType      string                 `json:"owner_type"`
	OwnerID        string                 `json:"owner_id"`
	EntryType      string                 `json:"entry_type"`
	Amount         int64                  `json:"amount"`
	Currency       string                 `json:"currency"`
	BalanceAfter   int64                  `json:"balance_after"`
	ReferenceType  string                 `json:"reference_type,omitempty"`
	ReferenceID    string                 `json:"reference_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	Description    string                 `json:"description,omitempty"`
	Hash           string                 `json:"hash"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// HashEntry generates a SHA-256 hash of the entry's identity fields so the
// audit trail can be integrity-checked offline.
func (e *LedgerEntry) HashEntry() string {
	return hashFields(
		fmt.Sprintf("%d", e.Amount),
		e.OwnerType,
		e.OwnerID,
		e.EntryType,
		e.Currency,
		e.IdempotencyKey,
		e.ReferenceID,
	)
}

// validEntryTypes guards against callers inventing entry types the projection
// queries would not recognise.
var validEntryTypes = map[string]struct{}{
	EntryTypeDeposit:       {},
	EntryTypeEscrowHold:    {},
	EntryTypeEscrowRelease: {},
	EntryTypeReward:        {},
	EntryTypeRefund:        {},
	EntryTypeAufReceived:   {},
	EntryTypePayoutTracked: {},
	EntryTypeWithdrawal:    {},
}

// Validate checks the entry is structurally sound before it reaches the store.
func (e *LedgerEntry) Validate() error {
	if !ValidOwnerType(e.OwnerType) {
		return fmt.Errorf("unknown owner type %q", e.OwnerType)
	}
	if e.OwnerID == "" {
		return fmt.Errorf("owner id is required")
	}
	if _, ok := validEntryTypes[e.EntryType]; !ok {
		return fmt.Errorf("unknown entry type %q", e.EntryType)
	}
	if e.Amount == 0 {
		return fmt.Errorf("entry amount must be non-zero")
	}
	return nil
}
