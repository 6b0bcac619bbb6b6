/*
Copyright 2025 Settld Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"time"

	"github.com/settldhq/settld/model"
)

// ISettlementStore defines the interface for settlement store operations,
// grouping related functionalities. Every Apply* method runs its statements in
// a single database transaction: either all apply or none do.
type ISettlementStore interface {
	balance  // Balance projection operations
	ledger   // Append-only ledger entry operations
	escrow   // Escrow hold state machine operations
	payment  // On-chain payment record operations
	tokenOp  // Token op audit operations
	trust    // Agent trust statistics operations
	deal     // Deal and mission resolution operations
}

// balance defines methods for the current-funds projection.
type balance interface {
	GetOrCreateBalance(ctx context.Context, ownerType, ownerID, currency string) (*model.Balance, error) // Creates a zeroed row on first access, never overwrites
	GetBalance(ctx context.Context, ownerType, ownerID, currency string) (*model.Balance, error)         // Retrieves an existing balance
	ApplyDeposit(ctx context.Context, entry *model.LedgerEntry) (*model.Balance, error)                  // Credits available and appends the deposit entry atomically
}

// ledger defines methods for the immutable entry log.
type ledger interface {
	EntryExistsByIdempotencyKey(ctx context.Context, key string) (bool, error)           // Pre-mutation idempotency lookup
	GetEntryByIdempotencyKey(ctx context.Context, key string) (*model.LedgerEntry, error) // Retrieves the prior entry for a retried request
	RecordAuditEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) // Appends a non-mutating audit entry (auf_received, payout_tracked)
	ListEntriesForOwner(ctx context.Context, ownerType, ownerID string, limit, offset int) ([]model.LedgerEntry, error)
}

// escrow defines the hold/release/refund state machine operations.
type escrow interface {
	GetEscrowHoldByDeal(ctx context.Context, dealID string) (*model.EscrowHold, error)
	ApplyEscrowHold(ctx context.Context, hold *model.EscrowHold, entry *model.LedgerEntry) (*model.EscrowHold, error)
	ApplyEscrowRelease(ctx context.Context, dealID, missionID string, amount int64, agentEntry, operatorEntry *model.LedgerEntry) (*model.EscrowHold, error)
	ApplyEscrowRefund(ctx context.Context, dealID string, entry *model.LedgerEntry) (*model.EscrowHold, error)
	ListExpiredHeldEscrows(ctx context.Context, before time.Time, limit int) ([]model.EscrowHold, error)
}

// payment defines methods for on-chain settlement records.
type payment interface {
	RecordPayment(ctx context.Context, p *model.Payment) (*model.Payment, error)
	GetPaymentByMission(ctx context.Context, missionID, paymentType string) (*model.Payment, error)
	PaymentTxHashExists(ctx context.Context, chain, txHash string) (bool, error) // Replay lookup, checked before any network call
	UpdatePaymentStatus(ctx context.Context, paymentID, status, txHash string) error
}

// tokenOp defines methods for the on-chain transfer audit trail.
type tokenOp interface {
	RecordTokenOp(ctx context.Context, op *model.TokenOp) (*model.TokenOp, error)
	LastSuccessfulTokenOp(ctx context.Context, ownerID, kind string) (*model.TokenOp, error)
}

// trust defines methods for agent payment-timeliness statistics.
type trust interface {
	GetOrCreateAgentTrust(ctx context.Context, agentID string) (*model.AgentTrust, error)
	UpdateAgentTrust(ctx context.Context, t *model.AgentTrust) error
}

// deal defines minimal deal/mission resolution used by settlement.
type deal interface {
	CreateDeal(ctx context.Context, d *model.Deal) (*model.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*model.Deal, error)
	CreateMission(ctx context.Context, m *model.Mission) (*model.Mission, error)
	GetMission(ctx context.Context, missionID string) (*model.Mission, error)
	UpdateMissionStatus(ctx context.Context, missionID, status string) error
	ListOverdueMissions(ctx context.Context, asOf time.Time, limit int) ([]model.Mission, error)
}
