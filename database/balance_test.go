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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/model"
)

func balanceRows(balanceID, ownerType, ownerID string, available, pending, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"balance_id", "owner_type", "owner_id", "currency", "available", "pending", "version", "created_at", "meta_data"}).
		AddRow(balanceID, ownerType, ownerID, "USD", available, pending, version, time.Now(), []byte("{}"))
}

func TestGetOrCreateBalance(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	ownerID := gofakeit.UUID()
	mock.ExpectExec("INSERT INTO settld.balances").
		WithArgs(sqlmock.AnyArg(), model.OwnerTypeAgent, ownerID, "USD").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT balance_id, owner_type").
		WithArgs(model.OwnerTypeAgent, ownerID, "USD").
		WillReturnRows(balanceRows("bln_1", model.OwnerTypeAgent, ownerID, 0, 0, 0))

	balance, err := ds.GetOrCreateBalance(context.Background(), model.OwnerTypeAgent, ownerID, "USD")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), balance.Available)
	assert.Equal(t, int64(0), balance.Pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateBalanceRejectsUnknownOwnerType(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	_, err = ds.GetOrCreateBalance(context.Background(), "treasury", gofakeit.UUID(), "USD")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDeposit(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	ownerID := gofakeit.UUID()
	entry := &model.LedgerEntry{
		OwnerType:      model.OwnerTypeAgent,
		OwnerID:        ownerID,
		EntryType:      model.EntryTypeDeposit,
		Amount:         10000,
		Currency:       "USD",
		IdempotencyKey: gofakeit.UUID(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE settld.balances").
		WithArgs(entry.Amount, entry.OwnerType, entry.OwnerID, entry.Currency).
		WillReturnRows(sqlmock.NewRows([]string{"available", "pending", "version"}).AddRow(10000, 0, 1))
	mock.ExpectExec("INSERT INTO settld.ledger_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT balance_id, owner_type").
		WithArgs(entry.OwnerType, entry.OwnerID, entry.Currency).
		WillReturnRows(balanceRows("bln_1", model.OwnerTypeAgent, ownerID, 10000, 0, 1))

	balance, err := ds.ApplyDeposit(context.Background(), entry)
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), balance.Available)
	assert.Equal(t, int64(10000), entry.BalanceAfter)
	assert.NotEmpty(t, entry.EntryID)
	assert.Contains(t, entry.EntryID, "led_")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyDepositRejectsNonPositiveAmount(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	entry := &model.LedgerEntry{
		OwnerType: model.OwnerTypeAgent,
		OwnerID:   gofakeit.UUID(),
		EntryType: model.EntryTypeDeposit,
		Amount:    0,
		Currency:  "USD",
	}
	_, err = ds.ApplyDeposit(context.Background(), entry)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
