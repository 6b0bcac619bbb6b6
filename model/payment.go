package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Payment types and states. One mission produces at most one auf and one
// payout payment row; the only allowed status transition is
// pending -> confirmed/failed.
const (
	PaymentTypeAUF    = "auf"
	PaymentTypePayout = "payout"

	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

// Payment is the on-chain settlement record for a mission. TxHash is unique
// per chain, which is what makes replayed hash reports detectable.
type Payment struct {
	ID          int64      `json:"-"`
	PaymentID   string     `json:"payment_id"`
	MissionID   string     `json:"mission_id"`
	AgentID     string     `json:"agent_id"`
	OperatorID  string     `json:"operator_id,omitempty"`
	PaymentType string     `json:"payment_type"`
	AmountCents int64      `json:"amount_cents"`
	Chain       string     `json:"chain"`
	Token       string     `json:"token"`
	Status      string     `json:"status"`
	TxHash      string     `json:"tx_hash,omitempty"`
	ToAddress   string     `json:"to_address,omitempty"`
	DeadlineAt  time.Time  `json:"deadline_at,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AmountUSD renders the cent amount as a decimal dollar value for logs and
// webhook payloads.
func (p *Payment) AmountUSD() decimal.Decimal {
	return decimal.New(p.AmountCents, -2)
}

// CanTransitionTo enforces the single allowed payment status transition.
func (p *Payment) CanTransitionTo(status string) error {
	if p.Status != PaymentStatusPending {
		return errors.New("payment is not in pending status")
	}
	if status != PaymentStatusConfirmed && status != PaymentStatusFailed {
		return errors.New("payment can only transition to confirmed or failed")
	}
	return nil
}

// Token op kinds and states, an audit trail of every on-chain transfer
// attempt. The faucet cooldown is enforced from the most recent successful op.
const (
	TokenOpKindMint     = "mint"
	TokenOpKindTransfer = "transfer"
	TokenOpKindFaucet   = "faucet"

	TokenOpStatusSubmitted = "submitted"
	TokenOpStatusConfirmed = "confirmed"
	TokenOpStatusFailed    = "failed"
)

// TokenOp records a single on-chain token movement attempt with its outcome.
type TokenOp struct {
	ID          int64     `json:"-"`
	TokenOpID   string    `json:"token_op_id"`
	OwnerType   string    `json:"owner_type"`
	OwnerID     string    `json:"owner_id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Chain       string    `json:"chain"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
