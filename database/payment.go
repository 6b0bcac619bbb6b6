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

// RecordPayment inserts an on-chain settlement record. The unique
// (mission_id, payment_type) constraint keeps one auf and one payout per
// mission; a duplicate insert returns the existing record.
func (d Datasource) RecordPayment(ctx context.Context, p *model.Payment) (*model.Payment, error) {
	if p.PaymentID == "" {
		p.PaymentID = model.GenerateUUIDWithSuffix("pay")
	}
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}
	p.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.payments
			(payment_id, mission_id, agent_id, operator_id, payment_type, amount_cents, chain, token, status, tx_hash, to_address, deadline_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.PaymentID, p.MissionID, p.AgentID, nullString(p.OperatorID), p.PaymentType, p.AmountCents,
		p.Chain, p.Token, p.Status, nullString(p.TxHash), nullString(p.ToAddress), nullTime(p.DeadlineAt), p.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return d.GetPaymentByMission(ctx, p.MissionID, p.PaymentType)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payment", err)
	}
	return p, nil
}

// GetPaymentByMission retrieves the single payment of the given type for a mission.
func (d Datasource) GetPaymentByMission(ctx context.Context, missionID, paymentType string) (*model.Payment, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT payment_id, mission_id, agent_id, operator_id, payment_type, amount_cents, chain, token, status, tx_hash, to_address, deadline_at, confirmed_at, created_at
		FROM settld.payments
		WHERE mission_id = $1 AND payment_type = $2
	`, missionID, paymentType)

	p := &model.Payment{}
	var operatorID, txHash, toAddress sql.NullString
	var deadlineAt, confirmedAt sql.NullTime
	err := row.Scan(&p.PaymentID, &p.MissionID, &p.AgentID, &operatorID, &p.PaymentType, &p.AmountCents,
		&p.Chain, &p.Token, &p.Status, &txHash, &toAddress, &deadlineAt, &confirmedAt, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("Payment of type '%s' for mission '%s' not found", paymentType, missionID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payment", err)
	}
	p.OperatorID = operatorID.String
	p.TxHash = txHash.String
	p.ToAddress = toAddress.String
	if deadlineAt.Valid {
		p.DeadlineAt = deadlineAt.Time
	}
	if confirmedAt.Valid {
		p.ConfirmedAt = &confirmedAt.Time
	}
	return p, nil
}

// PaymentTxHashExists reports whether a transaction hash was already accepted
// on the given chain. Callers check this before any network call so replayed
// hashes are rejected without touching the RPC layer.
func (d Datasource) PaymentTxHashExists(ctx context.Context, chain, txHash string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM settld.payments WHERE chain = $1 AND tx_hash = $2)
	`, chain, txHash).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check transaction hash", err)
	}
	return exists, nil
}

// UpdatePaymentStatus advances a pending payment to confirmed or failed. The
// `status = 'pending'` guard makes the transition one-way: a second update on
// the same payment affects zero rows and returns a conflict.
func (d Datasource) UpdatePaymentStatus(ctx context.Context, paymentID, status, txHash string) error {
	if status != model.PaymentStatusConfirmed && status != model.PaymentStatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Payment status '%s' is not a valid transition target", status), nil)
	}

	var confirmedAt interface{}
	if status == model.PaymentStatusConfirmed {
		confirmedAt = time.Now()
	}
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE settld.payments
		SET status = $2, tx_hash = COALESCE(NULLIF($3, ''), tx_hash), confirmed_at = $4
		WHERE payment_id = $1 AND status = 'pending'
	`, paymentID, status, txHash, confirmedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Transaction hash '%s' is already recorded for another payment", txHash), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update payment status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Payment '%s' is not pending", paymentID), nil)
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
