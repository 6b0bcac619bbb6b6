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

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

func TestRecordPayment(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	p := &model.Payment{
		MissionID:   gofakeit.UUID(),
		AgentID:     gofakeit.UUID(),
		OperatorID:  gofakeit.UUID(),
		PaymentType: model.PaymentTypePayout,
		AmountCents: 2000,
		Chain:       "base",
		Token:       "USDC",
	}

	mock.ExpectExec("INSERT INTO settld.payments").
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := ds.RecordPayment(context.Background(), p)
	assert.NoError(t, err)
	assert.Contains(t, got.PaymentID, "pay_")
	assert.Equal(t, model.PaymentStatusPending, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentTxHashExists(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	txHash := gofakeit.UUID()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("base", txHash).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := ds.PaymentTxHashExists(context.Background(), "base", txHash)
	assert.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentStatus(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	paymentID := gofakeit.UUID()
	txHash := gofakeit.UUID()
	mock.ExpectExec("UPDATE settld.payments").
		WithArgs(paymentID, model.PaymentStatusConfirmed, txHash, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.UpdatePaymentStatus(context.Background(), paymentID, model.PaymentStatusConfirmed, txHash)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentStatusNotPending(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	paymentID := gofakeit.UUID()
	mock.ExpectExec("UPDATE settld.payments").
		WithArgs(paymentID, model.PaymentStatusFailed, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.UpdatePaymentStatus(context.Background(), paymentID, model.PaymentStatusFailed, "")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePaymentStatusRejectsBadTarget(t *testing.T) {
	ds, mock, err := newTestDatasource()
	assert.NoError(t, err)
	defer ds.Conn.Close()

	err = ds.UpdatePaymentStatus(context.Background(), gofakeit.UUID(), "pending", "")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
	assert.NoError(t, mock.ExpectationsWereMet())
}
