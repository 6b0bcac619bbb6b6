package model

import (
	"errors"
	"time"
)

// ErrInsufficientFunds is returned when a debit would take the available
// balance below zero. Callers treat it as a retry-later condition, not a bug.
var ErrInsufficientFunds = errors.New("insufficient funds in balance")

// ErrInsufficientPending is returned when a pending debit exceeds the funds
// currently earmarked for escrow.
var ErrInsufficientPending = errors.New("insufficient pending balance")

// Balance is the current projection of an owner's funds in one currency.
// Available is spendable; Pending is earmarked for held escrows. Both are
// integer minor units (cents) and must never go negative.
type Balance struct {
	ID        int64                  `json:"-"`
	BalanceID string                 `json:"balance_id"`
	OwnerType string                 `json:"owner_type"`
	OwnerID   string                 `json:"owner_id"`
	Currency  string                 `json:"currency"`
	Available int64                  `json:"available"`
	Pending   int64                  `json:"pending"`
	Version   int64                  `json:"version"`
	CreatedAt time.Time              `json:"created_at"`
	MetaData  map[string]interface{} `json:"meta_data,omitempty"`
}

// Total returns available plus pending, the owner's conserved sum.
func (b *Balance) Total() int64 {
	return b.Available + b.Pending
}

// ApplyCredit increases the available balance.
func (b *Balance) ApplyCredit(amount int64) error {
	if amount <= 0 {
		return errors.New("credit amount must be positive")
	}
	b.Available += amount
	b.Version++
	return nil
}

// ApplyDebit decreases the available balance, failing rather than going negative.
func (b *Balance) ApplyDebit(amount int64) error {
	if amount <= 0 {
		return errors.New("debit amount must be positive")
	}
	if b.Available < amount {
		return ErrInsufficientFunds
	}
	b.Available -= amount
	b.Version++
	return nil
}

// HoldFunds moves amount from available to pending, the in-memory mirror of
// the guarded escrow-hold update the store performs.
func (b *Balance) HoldFunds(amount int64) error {
	if amount <= 0 {
		return errors.New("hold amount must be positive")
	}
	if b.Available < amount {
		return ErrInsufficientFunds
	}
	b.Available -= amount
	b.Pending += amount
	b.Version++
	return nil
}

// ReleasePending removes amount from pending after an escrow release pays it out.
func (b *Balance) ReleasePending(amount int64) error {
	if amount <= 0 {
		return errors.New("release amount must be positive")
	}
	if b.Pending < amount {
		return ErrInsufficientPending
	}
	b.Pending -= amount
	b.Version++
	return nil
}

// RefundPending moves amount from pending back to available on escrow refund.
func (b *Balance) RefundPending(amount int64) error {
	if amount <= 0 {
		return errors.New("refund amount must be positive")
	}
	if b.Pending < amount {
		return ErrInsufficientPending
	}
	b.Pending -= amount
	b.Available += amount
	b.Version++
	return nil
}
