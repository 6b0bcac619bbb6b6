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
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

const balanceCacheTTL = 5 * time.Minute

func balanceCacheKey(ownerType, ownerID, currency string) string {
	return fmt.Sprintf("balance:%s:%s:%s", ownerType, ownerID, currency)
}

// invalidateBalanceCache drops the cached projection after any balance write.
// A stale read here would only ever under-report, but settlement callers
// expect read-your-writes.
func (d Datasource) invalidateBalanceCache(ctx context.Context, ownerType, ownerID, currency string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, balanceCacheKey(ownerType, ownerID, currency)); err != nil {
		logrus.Warnf("failed to invalidate balance cache: %v", err)
	}
}

// GetOrCreateBalance fetches the balance row for (ownerType, ownerID, currency),
// creating a zeroed row on first access. An existing row is never overwritten:
// the insert is ON CONFLICT DO NOTHING and the subsequent select returns
// whatever row won.
//
// Parameters:
// - ownerType: "agent" or "operator".
// - ownerID: The owner's external identifier.
// - currency: ISO currency code, "USD" for the stable-token ledger.
//
// Returns:
// - *model.Balance: The existing or newly created balance.
// - error: An APIError on validation or database failure.
func (d Datasource) GetOrCreateBalance(ctx context.Context, ownerType, ownerID, currency string) (*model.Balance, error) {
	if !model.ValidOwnerType(ownerType) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown owner type '%s'", ownerType), nil)
	}

	balanceID := model.GenerateUUIDWithSuffix("bln")
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO settld.balances (balance_id, owner_type, owner_id, currency, available, pending, version, created_at, meta_data)
		VALUES ($1, $2, $3, $4, 0, 0, 0, NOW(), '{}')
		ON CONFLICT (owner_type, owner_id, currency) DO NOTHING
	`, balanceID, ownerType, ownerID, currency)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create balance", err)
	}

	return d.getBalance(ctx, ownerType, ownerID, currency)
}

// GetBalance retrieves the balance for (ownerType, ownerID, currency), serving
// from cache when possible.
func (d Datasource) GetBalance(ctx context.Context, ownerType, ownerID, currency string) (*model.Balance, error) {
	if d.Cache != nil {
		var cached model.Balance
		if err := d.Cache.Get(ctx, balanceCacheKey(ownerType, ownerID, currency), &cached); err == nil && cached.BalanceID != "" {
			return &cached, nil
		}
	}

	balance, err := d.getBalance(ctx, ownerType, ownerID, currency)
	if err != nil {
		return nil, err
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, balanceCacheKey(ownerType, ownerID, currency), balance, balanceCacheTTL); err != nil {
			logrus.Warnf("failed to cache balance: %v", err)
		}
	}
	return balance, nil
}

func (d Datasource) getBalance(ctx context.Context, ownerType, ownerID, currency string) (*model.Balance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT balance_id, owner_type, owner_id, currency, available, pending, version, created_at, meta_data
		FROM settld.balances
		WHERE owner_type = $1 AND owner_id = $2 AND currency = $3
	`, ownerType, ownerID, currency)

	balance := &model.Balance{}
	var metaDataJSON []byte
	err := row.Scan(&balance.BalanceID, &balance.OwnerType, &balance.OwnerID, &balance.Currency,
		&balance.Available, &balance.Pending, &balance.Version, &balance.CreatedAt, &metaDataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for %s '%s' not found", ownerType, ownerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve balance", err)
	}

	err = json.Unmarshal(metaDataJSON, &balance.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
	}

	return balance, nil
}

// ApplyDeposit credits the owner's available balance and appends the deposit
// entry in one transaction. The credit is a relative update so concurrent
// deposits never clobber each other, and the entry's unique idempotency key
// turns a racing duplicate into a no-op returning the current balance.
func (d Datasource) ApplyDeposit(ctx context.Context, entry *model.LedgerEntry) (*model.Balance, error) {
	if err := entry.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if entry.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Deposit amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var available, pending, version int64
	err = tx.QueryRowContext(ctx, `
		UPDATE settld.balances
		SET available = available + $1, version = version + 1
		WHERE owner_type = $2 AND owner_id = $3 AND currency = $4
		RETURNING available, pending, version
	`, entry.Amount, entry.OwnerType, entry.OwnerID, entry.Currency).Scan(&available, &pending, &version)
	if err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for %s '%s' not found", entry.OwnerType, entry.OwnerID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to credit balance", err)
	}

	entry.BalanceAfter = available
	if err := d.recordEntryTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		if isIdempotencyConflict(err) {
			// A concurrent retry already applied this deposit.
			return d.getBalance(ctx, entry.OwnerType, entry.OwnerID, entry.Currency)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit deposit", err)
	}

	d.invalidateBalanceCache(ctx, entry.OwnerType, entry.OwnerID, entry.Currency)

	balance, err := d.getBalance(ctx, entry.OwnerType, entry.OwnerID, entry.Currency)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// isIdempotencyConflict reports whether err is a unique violation on the
// ledger idempotency key, which settlement treats as success-already-applied.
func isIdempotencyConflict(err error) bool {
	apiErr, ok := err.(apierror.APIError)
	if !ok {
		return false
	}
	pqErr, ok := apiErr.Details.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
