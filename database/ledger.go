package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// recordEntryTx appends a ledger entry inside an open transaction. Entries are
// append-only; there is no update or delete path anywhere in this package.
func (d Datasource) recordEntryTx(ctx context.Context, tx *sql.Tx, entry *model.LedgerEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.Hash = entry.HashEntry()

	metaDataJSON, err := json.Marshal(entry.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var idempotencyKey interface{} = entry.IdempotencyKey
	if entry.IdempotencyKey == "" {
		idempotencyKey = nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settld.ledger_entries (entry_id, owner_type, owner_id, entry_type, amount, currency, balance_after, reference_type, reference_id, idempotency_key, description, hash, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.EntryID, entry.OwnerType, entry.OwnerID, entry.EntryType, entry.Amount, entry.Currency,
		entry.BalanceAfter, entry.ReferenceType, entry.ReferenceID, idempotencyKey, entry.Description,
		entry.Hash, metaDataJSON, entry.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record ledger entry", err)
	}
	return nil
}

// EntryExistsByIdempotencyKey checks whether a prior request already recorded
// an entry under this key. Called before any mutation so retried requests are
// safe after a timeout or crash.
func (d Datasource) EntryExistsByIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM settld.ledger_entries WHERE idempotency_key = $1)
	`, key).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check idempotency key", err)
	}
	return exists, nil
}

// GetEntryByIdempotencyKey retrieves the entry a retried request originally
// produced so the caller can return the prior result.
func (d Datasource) GetEntryByIdempotencyKey(ctx context.Context, key string) (*model.LedgerEntry, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT entry_id, owner_type, owner_id, entry_type, amount, currency, balance_after, reference_type, reference_id, COALESCE(idempotency_key, ''), description, hash, meta_data, created_at
		FROM settld.ledger_entries
		WHERE idempotency_key = $1
	`, key)
	return scanEntryRow(row, key)
}

func scanEntryRow(row *sql.Row, key string) (*model.LedgerEntry, error) {
	entry := &model.LedgerEntry{}
	var metaDataJSON []byte
	err := row.Scan(&entry.EntryID, &entry.OwnerType, &entry.OwnerID, &entry.EntryType, &entry.Amount,
		&entry.Currency, &entry.BalanceAfter, &entry.ReferenceType, &entry.ReferenceID,
		&entry.IdempotencyKey, &entry.Description, &entry.Hash, &metaDataJSON, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ledger entry with idempotency key '%s' not found", key), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entry", err)
	}

	err = json.Unmarshal(metaDataJSON, &entry.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
	}
	return entry, nil
}

// RecordAuditEntry appends an entry that tracks an on-chain movement without
// touching any balance (auf_received, payout_tracked). BalanceAfter is set to
// the owner's current available balance for audit continuity.
func (d Datasource) RecordAuditEntry(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	if err := entry.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var available int64
	err = tx.QueryRowContext(ctx, `
		SELECT available FROM settld.balances
		WHERE owner_type = $1 AND owner_id = $2 AND currency = $3
	`, entry.OwnerType, entry.OwnerID, entry.Currency).Scan(&available)
	if err != nil && err != sql.ErrNoRows {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read balance for audit entry", err)
	}
	entry.BalanceAfter = available

	if err := d.recordEntryTx(ctx, tx, entry); err != nil {
		_ = tx.Rollback()
		if isIdempotencyConflict(err) {
			return d.GetEntryByIdempotencyKey(ctx, entry.IdempotencyKey)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit audit entry", err)
	}
	return entry, nil
}

// ListEntriesForOwner returns the owner's entries, newest first.
func (d Datasource) ListEntriesForOwner(ctx context.Context, ownerType, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, owner_type, owner_id, entry_type, amount, currency, balance_after, reference_type, reference_id, COALESCE(idempotency_key, ''), description, hash, meta_data, created_at
		FROM settld.ledger_entries
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, ownerType, ownerID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		entry := model.LedgerEntry{}
		var metaDataJSON []byte
		err = rows.Scan(&entry.EntryID, &entry.OwnerType, &entry.OwnerID, &entry.EntryType, &entry.Amount,
			&entry.Currency, &entry.BalanceAfter, &entry.ReferenceType, &entry.ReferenceID,
			&entry.IdempotencyKey, &entry.Description, &entry.Hash, &metaDataJSON, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}

		err = json.Unmarshal(metaDataJSON, &entry.MetaData)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}

		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}
