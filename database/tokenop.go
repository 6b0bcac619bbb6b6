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

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// RecordTokenOp appends one row to the on-chain transfer audit trail.
func (d Datasource) RecordTokenOp(ctx context.Context, op *model.TokenOp) (*model.TokenOp, error) {
	if op.TokenOpID == "" {
		op.TokenOpID = model.GenerateUUIDWithSuffix("top")
	}
	op.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.token_ops
			(token_op_id, owner_type, owner_id, kind, amount_cents, chain, tx_hash, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, op.TokenOpID, op.OwnerType, op.OwnerID, op.Kind, op.AmountCents, op.Chain,
		nullString(op.TxHash), op.Status, nullString(op.Error), op.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record token op", err)
	}
	return op, nil
}

// LastSuccessfulTokenOp returns the owner's most recent non-failed op of the
// given kind. Faucet cooldowns are computed from this row's created_at.
func (d Datasource) LastSuccessfulTokenOp(ctx context.Context, ownerID, kind string) (*model.TokenOp, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT token_op_id, owner_type, owner_id, kind, amount_cents, chain, tx_hash, status, error, created_at
		FROM settld.token_ops
		WHERE owner_id = $1 AND kind = $2 AND status != 'failed'
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, kind)

	op := &model.TokenOp{}
	var txHash, opError sql.NullString
	err := row.Scan(&op.TokenOpID, &op.OwnerType, &op.OwnerID, &op.Kind, &op.AmountCents, &op.Chain,
		&txHash, &op.Status, &opError, &op.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound,
				fmt.Sprintf("No successful '%s' op found for owner '%s'", kind, ownerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve token op", err)
	}
	op.TxHash = txHash.String
	op.Error = opError.String
	return op, nil
}
