package model

import (
	"errors"
	"time"
)

// Escrow hold states. A hold is terminal once released or refunded; a deal
// never has two simultaneously-held escrows.
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
)

// ErrInsufficientEscrow is returned when a release asks for more than the
// hold's remaining amount.
var ErrInsufficientEscrow = errors.New("insufficient escrow remaining")

// EscrowHold earmarks an agent's funds for one deal. Amount is the remaining
// balance of the hold and decrements on each partial release; the hold flips
// to released once it reaches zero.
type EscrowHold struct {
	ID         int64      `json:"-"`
	EscrowID   string     `json:"escrow_id"`
	DealID     string     `json:"deal_id"`
	AgentID    string     `json:"agent_id"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
}

// IsTerminal returns true if the hold is in a final state.
func (h *EscrowHold) IsTerminal() bool {
	switch h.Status {
	case EscrowStatusReleased, EscrowStatusRefunded:
		return true
	}
	return false
}

// CanRelease reports whether amount can still be drawn from the hold.
func (h *EscrowHold) CanRelease(amount int64) error {
	if h.Status != EscrowStatusHeld {
		return errors.New("escrow hold is not in held status")
	}
	if amount <= 0 {
		return errors.New("release amount must be positive")
	}
	if h.Amount < amount {
		return ErrInsufficientEscrow
	}
	return nil
}

// DrawDown decrements the remaining amount, flipping the hold to released
// when it is exhausted.
func (h *EscrowHold) DrawDown(amount int64, at time.Time) error {
	if err := h.CanRelease(amount); err != nil {
		return err
	}
	h.Amount -= amount
	if h.Amount == 0 {
		h.Status = EscrowStatusReleased
		h.ReleasedAt = &at
	}
	return nil
}

// Refund returns the whole remaining amount and marks the hold refunded.
func (h *EscrowHold) Refund(at time.Time) (int64, error) {
	if h.Status != EscrowStatusHeld {
		return 0, errors.New("escrow hold is not in held status")
	}
	remaining := h.Amount
	h.Amount = 0
	h.Status = EscrowStatusRefunded
	h.RefundedAt = &at
	return remaining, nil
}
