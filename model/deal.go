package model

import "time"

// Deal and mission states the settlement core advances. Pricing, matching and
// the rest of the marketplace lifecycle belong to external collaborators.
const (
	DealStatusFunded    = "funded"
	DealStatusCompleted = "completed"
	DealStatusCancelled = "cancelled"

	MissionStatusActive  = "active"
	MissionStatusPaid    = "paid"
	MissionStatusOverdue = "overdue"
)

// Deal is a funded campaign. ExpiresAt bounds how long its escrow may stay held.
type Deal struct {
	ID        int64     `json:"-"`
	DealID    string    `json:"deal_id"`
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Mission is an individual performer's assignment within a deal. The payout
// deadline drives overdue detection in the reconciliation job.
type Mission struct {
	ID               int64     `json:"-"`
	MissionID        string    `json:"mission_id"`
	DealID           string    `json:"deal_id"`
	AgentID          string    `json:"agent_id"`
	OperatorID       string    `json:"operator_id"`
	Status           string    `json:"status"`
	PayoutDeadlineAt time.Time `json:"payout_deadline_at"`
	CreatedAt        time.Time `json:"created_at"`
}
