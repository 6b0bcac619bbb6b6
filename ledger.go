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

package settld

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

var tracer = otel.Tracer("settld.settlement")

func logAndRecordError(span trace.Span, err error) error {
	span.RecordError(err)
	return err
}

// DepositRequest credits an owner's available balance.
type DepositRequest struct {
	OwnerType      string `json:"owner_type"`
	OwnerID        string `json:"owner_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
	Description    string `json:"description"`
}

func (r *DepositRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OwnerType, validation.Required, validation.In(model.OwnerTypeAgent, model.OwnerTypeOperator)),
		validation.Field(&r.OwnerID, validation.Required),
		validation.Field(&r.AmountCents, validation.Required, validation.Min(1)),
		validation.Field(&r.IdempotencyKey, validation.Required),
	)
}

// Deposit credits the owner's available balance and appends a deposit entry.
// A request replaying an already-used idempotency key returns the current
// balance unchanged; the duplicate is success, not an error.
func (s *Settld) Deposit(ctx context.Context, req *DepositRequest) (*model.Balance, error) {
	ctx, span := tracer.Start(ctx, "Applying deposit")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	exists, err := s.store.EntryExistsByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if exists {
		span.AddEvent("idempotency key already applied, returning current balance")
		return s.store.GetBalance(ctx, req.OwnerType, req.OwnerID, DefaultCurrency)
	}

	if _, err := s.store.GetOrCreateBalance(ctx, req.OwnerType, req.OwnerID, DefaultCurrency); err != nil {
		return nil, logAndRecordError(span, err)
	}

	entry := &model.LedgerEntry{
		OwnerType:      req.OwnerType,
		OwnerID:        req.OwnerID,
		EntryType:      model.EntryTypeDeposit,
		Amount:         req.AmountCents,
		Currency:       DefaultCurrency,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
	}
	balance, err := s.store.ApplyDeposit(ctx, entry)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventDepositApplied, Payload: balance})
	return balance, nil
}

// GetBalance returns the owner's current balance projection.
func (s *Settld) GetBalance(ctx context.Context, ownerType, ownerID string) (*model.Balance, error) {
	return s.store.GetBalance(ctx, ownerType, ownerID, DefaultCurrency)
}

// GetLedgerEntries returns the owner's entries, newest first.
func (s *Settld) GetLedgerEntries(ctx context.Context, ownerType, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.ListEntriesForOwner(ctx, ownerType, ownerID, limit, offset)
}
