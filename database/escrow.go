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
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// GetEscrowHoldByDeal retrieves the single escrow hold for a deal.
func (d Datasource) GetEscrowHoldByDeal(ctx context.Context, dealID string) (*model.EscrowHold, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT escrow_id, deal_id, agent_id, amount, currency, status, created_at, released_at, refunded_at
		FROM settld.escrow_holds
		WHERE deal_id = $1
	`, dealID)
	return scanEscrowRow(row, dealID)
}

func scanEscrowRow(row *sql.Row, dealID string) (*model.EscrowHold, error) {
	hold := &model.EscrowHold{}
	var releasedAt, refundedAt sql.NullTime
	err := row.Scan(&hold.EscrowID, &hold.DealID, &hold.AgentID, &hold.Amount, &hold.Currency,
		&hold.Status, &hold.CreatedAt, &releasedAt, &refundedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Escrow hold for deal '%s' not found", dealID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve escrow hold", err)
	}
	if releasedAt.Valid {
		hold.ReleasedAt = &releasedAt.Time
	}
	if refundedAt.Valid {
		hold.RefundedAt = &refundedAt.Time
	}
	return hold, nil
}

// ApplyEscrowHold earmarks funds for a deal in one transaction: the agent's
// available balance moves to pending under an `available >= amount` guard, the
// hold row is created, and the escrow_hold entry is appended. The unique
// deal_id constraint makes the operation idempotent per deal: a concurrent
// duplicate rolls back its balance move and returns the existing hold.
func (d Datasource) ApplyEscrowHold(ctx context.Context, hold *model.EscrowHold, entry *model.LedgerEntry) (*model.EscrowHold, error) {
	if hold.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Escrow amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var available, pending int64
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.balances
		SET available = available - $1, pending = pending + $1, version = version + 1
		WHERE owner_type = $2 AND owner_id = $3 AND currency = $4 AND available >= $1
		RETURNING available, pending
	`, hold.Amount, model.OwnerTypeAgent, hold.AgentID, hold.Currency).Scan(&available, &pending)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
				fmt.Sprintf("Agent '%s' has insufficient available balance for escrow of %d", hold.AgentID, hold.Amount), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to move funds to escrow", err)
	}

	hold.EscrowID = model.GenerateUUIDWithSuffix("esc")
	hold.Status = model.EscrowStatusHeld
	hold.CreatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settld.escrow_holds (escrow_id, deal_id, agent_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, hold.EscrowID, hold.DealID, hold.AgentID, hold.Amount, hold.Currency, hold.Status, hold.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			// A hold already exists for this deal. The balance move above was
			// rolled back, so returning the prior hold leaves state unchanged.
			return d.GetEscrowHoldByDeal(ctx, hold.DealID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create escrow hold", err)
	}

	entry.BalanceAfter = available
	if err := d.recordEntryTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		if isIdempotencyConflict(err) {
			return d.GetEscrowHoldByDeal(ctx, hold.DealID)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit escrow hold", err)
	}

	d.invalidateBalanceCache(ctx, model.OwnerTypeAgent, hold.AgentID, hold.Currency)
	return hold, nil
}

// ApplyEscrowRelease draws amount down from the deal's hold and pays the
// operator, all in one transaction: guarded hold decrement (flipping to
// released at zero), agent pending debit, operator available credit, two
// ledger entries, and the mission advancing to paid.
func (d Datasource) ApplyEscrowRelease(ctx context.Context, dealID, missionID string, amount int64, agentEntry, operatorEntry *model.LedgerEntry) (*model.EscrowHold, error) {
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Release amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	hold := &model.EscrowHold{}
	var releasedAt, refundedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.escrow_holds
		SET amount = amount - $1,
			status = CASE WHEN amount - $1 = 0 THEN 'released' ELSE status END,
			released_at = CASE WHEN amount - $1 = 0 THEN NOW() ELSE released_at END
		WHERE deal_id = $2 AND status = 'held' AND amount >= $1
		RETURNING escrow_id, deal_id, agent_id, amount, currency, status, created_at, released_at, refunded_at
	`, amount, dealID).Scan(&hold.EscrowID, &hold.DealID, &hold.AgentID, &hold.Amount, &hold.Currency,
		&hold.Status, &hold.CreatedAt, &releasedAt, &refundedAt)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientEscrow,
				fmt.Sprintf("Deal '%s' has no held escrow covering %d", dealID, amount), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to draw down escrow hold", err)
	}
	if releasedAt.Valid {
		hold.ReleasedAt = &releasedAt.Time
	}

	var agentAvailable int64
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.balances
		SET pending = pending - $1, version = version + 1
		WHERE owner_type = $2 AND owner_id = $3 AND currency = $4 AND pending >= $1
		RETURNING available
	`, amount, model.OwnerTypeAgent, hold.AgentID, hold.Currency).Scan(&agentAvailable)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			// The hold existed but the pending projection does not cover it.
			// That is a ledger inconsistency, not a caller error.
			return nil, apierror.NewAPIError(apierror.ErrInternalServer,
				fmt.Sprintf("Agent '%s' pending balance does not cover escrow release", hold.AgentID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to debit agent pending balance", err)
	}

	var operatorAvailable int64
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.balances
		SET available = available + $1, version = version + 1
		WHERE owner_type = $2 AND owner_id = $3 AND currency = $4
		RETURNING available
	`, amount, model.OwnerTypeOperator, operatorEntry.OwnerID, hold.Currency).Scan(&operatorAvailable)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Operator balance for '%s' not found", operatorEntry.OwnerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to credit operator balance", err)
	}

	agentEntry.BalanceAfter = agentAvailable
	operatorEntry.BalanceAfter = operatorAvailable
	for _, entry := range []*model.LedgerEntry{operatorEntry, agentEntry} {
		if err := d.recordEntryTx(ctx, tx, entry); err != nil {
			_ = tx.Rollback()
			if isIdempotencyConflict(err) {
				return d.GetEscrowHoldByDeal(ctx, dealID)
			}
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE settld.missions SET status = $2 WHERE mission_id = $1
	`, missionID, model.MissionStatusPaid)
	if err != nil {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark mission paid", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit escrow release", err)
	}

	d.invalidateBalanceCache(ctx, model.OwnerTypeAgent, hold.AgentID, hold.Currency)
	d.invalidateBalanceCache(ctx, model.OwnerTypeOperator, operatorEntry.OwnerID, hold.Currency)
	return hold, nil
}

// ApplyEscrowRefund returns the hold's full remaining amount to the agent's
// available balance and marks the hold refunded, in one transaction.
func (d Datasource) ApplyEscrowRefund(ctx context.Context, dealID string, entry *model.LedgerEntry) (*model.EscrowHold, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	hold := &model.EscrowHold{}
	var releasedAt, refundedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT escrow_id, deal_id, agent_id, amount, currency, status, created_at, released_at, refunded_at
		FROM settld.escrow_holds
		WHERE deal_id = $1
		FOR UPDATE
	`, dealID).Scan(&hold.EscrowID, &hold.DealID, &hold.AgentID, &hold.Amount, &hold.Currency,
		&hold.Status, &hold.CreatedAt, &releasedAt, &refundedAt)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Escrow hold for deal '%s' not found", dealID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock escrow hold", err)
	}

	if hold.Status != model.EscrowStatusHeld {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Escrow hold for deal '%s' is already %s", dealID, hold.Status), nil)
	}

	remaining := hold.Amount
	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE settld.escrow_holds
		SET amount = 0, status = $2, refunded_at = $3
		WHERE deal_id = $1 AND status = 'held'
	`, dealID, model.EscrowStatusRefunded, now)
	if err != nil {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark escrow refunded", err)
	}

	var available int64
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.balances
		SET pending = pending - $1, available = available + $1, version = version + 1
		WHERE owner_type = $2 AND owner_id = $3 AND currency = $4 AND pending >= $1
		RETURNING available
	`, remaining, model.OwnerTypeAgent, hold.AgentID, hold.Currency).Scan(&available)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer,
				fmt.Sprintf("Agent '%s' pending balance does not cover escrow refund", hold.AgentID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to refund agent balance", err)
	}

	entry.Amount = remaining
	entry.BalanceAfter = available
	if err := d.recordEntryTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		if isIdempotencyConflict(err) {
			return d.GetEscrowHoldByDeal(ctx, dealID)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit escrow refund", err)
	}

	d.invalidateBalanceCache(ctx, model.OwnerTypeAgent, hold.AgentID, hold.Currency)

	hold.Amount = 0
	hold.Status = model.EscrowStatusRefunded
	hold.RefundedAt = &now
	return hold, nil
}

// ListExpiredHeldEscrows returns held escrows whose deal expired before the
// given time, bounded so one reconciliation run stays cheap.
func (d Datasource) ListExpiredHeldEscrows(ctx context.Context, before time.Time, limit int) ([]model.EscrowHold, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT h.escrow_id, h.deal_id, h.agent_id, h.amount, h.currency, h.status, h.created_at, h.released_at, h.refunded_at
		FROM settld.escrow_holds h
		JOIN settld.deals d ON h.deal_id = d.deal_id
		WHERE h.status = 'held' AND d.expires_at < $1
		ORDER BY d.expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expired escrows", err)
	}
	defer rows.Close()

	var holds []model.EscrowHold
	for rows.Next() {
		hold := model.EscrowHold{}
		var releasedAt, refundedAt sql.NullTime
		err = rows.Scan(&hold.EscrowID, &hold.DealID, &hold.AgentID, &hold.Amount, &hold.Currency,
			&hold.Status, &hold.CreatedAt, &releasedAt, &refundedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan escrow hold", err)
		}
		if releasedAt.Valid {
			hold.ReleasedAt = &releasedAt.Time
		}
		if refundedAt.Valid {
			hold.RefundedAt = &refundedAt.Time
		}
		holds = append(holds, hold)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over escrows", err)
	}
	return holds, nil
}
