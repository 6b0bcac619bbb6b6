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
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/internal/apierror"
	redlock "github.com/settldhq/settld/internal/lock"
	"github.com/settldhq/settld/model"
)

const (
	dealLockTimeout  = 30 * time.Second
	dealLockWaitTime = 10 * time.Second
)

// lockDeal serializes settlement operations per deal. The database guards
// alone keep money safe; the lock keeps concurrent retries from burning
// transactions on conflicts.
func (s *Settld) lockDeal(ctx context.Context, dealID string) (*redlock.Locker, error) {
	locker := redlock.NewLocker(s.redis, fmt.Sprintf("lock:deal:%s", dealID), model.GenerateUUIDWithSuffix("lock"))
	if err := locker.WaitLock(ctx, dealLockTimeout, dealLockWaitTime); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Deal '%s' is busy, retry shortly", dealID), err)
	}
	return locker, nil
}

func (s *Settld) unlockDeal(ctx context.Context, locker *redlock.Locker) {
	if err := locker.Unlock(ctx); err != nil {
		logrus.Warnf("failed to release deal lock: %v", err)
	}
}

// HoldEscrowRequest earmarks agent funds for a deal.
type HoldEscrowRequest struct {
	AgentID        string `json:"agent_id"`
	DealID         string `json:"deal_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *HoldEscrowRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.AgentID, validation.Required),
		validation.Field(&r.DealID, validation.Required),
		validation.Field(&r.AmountCents, validation.Required, validation.Min(1)),
		validation.Field(&r.IdempotencyKey, validation.Required),
	)
}

// HoldEscrow moves amount from the agent's available balance into pending and
// creates the deal's hold. Idempotent two ways: on the ledger key, and on the
// deal itself (one hold per deal, a second call returns the existing hold).
// Suspended agents cannot open new holds; their already-held funds are
// untouched.
func (s *Settld) HoldEscrow(ctx context.Context, req *HoldEscrowRequest) (*model.EscrowHold, error) {
	ctx, span := tracer.Start(ctx, "Holding escrow")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	trust, err := s.store.GetOrCreateAgentTrust(ctx, req.AgentID)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if trust.Suspended(time.Now()) {
		return nil, apierror.NewAPIError(apierror.ErrAgentSuspended,
			fmt.Sprintf("Agent '%s' is suspended for overdue payments and cannot open new escrows", req.AgentID), nil)
	}

	exists, err := s.store.EntryExistsByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if exists {
		span.AddEvent("idempotency key already applied, returning existing hold")
		return s.store.GetEscrowHoldByDeal(ctx, req.DealID)
	}

	deal, err := s.store.GetDeal(ctx, req.DealID)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if deal.AgentID != req.AgentID {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Deal '%s' does not belong to agent '%s'", req.DealID, req.AgentID), nil)
	}

	locker, err := s.lockDeal(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	defer s.unlockDeal(ctx, locker)

	if _, err := s.store.GetOrCreateBalance(ctx, model.OwnerTypeAgent, req.AgentID, DefaultCurrency); err != nil {
		return nil, logAndRecordError(span, err)
	}

	hold := &model.EscrowHold{
		DealID:   req.DealID,
		AgentID:  req.AgentID,
		Amount:   req.AmountCents,
		Currency: DefaultCurrency,
	}
	entry := &model.LedgerEntry{
		OwnerType:      model.OwnerTypeAgent,
		OwnerID:        req.AgentID,
		EntryType:      model.EntryTypeEscrowHold,
		Amount:         -req.AmountCents,
		Currency:       DefaultCurrency,
		ReferenceType:  "deal",
		ReferenceID:    req.DealID,
		IdempotencyKey: req.IdempotencyKey,
	}
	hold, err = s.store.ApplyEscrowHold(ctx, hold, entry)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventEscrowHeld, Payload: hold})
	return hold, nil
}

// ReleaseRequest pays an operator out of a deal's held escrow.
type ReleaseRequest struct {
	MissionID      string `json:"mission_id"`
	OperatorID     string `json:"operator_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *ReleaseRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.MissionID, validation.Required),
		validation.Field(&r.OperatorID, validation.Required),
		validation.Field(&r.AmountCents, validation.Required, validation.Min(1)),
		validation.Field(&r.IdempotencyKey, validation.Required),
	)
}

// ReleaseToOperator draws the requested amount down from the mission's deal
// escrow and credits the operator. Partial releases are supported: a hold is
// drawn down release by release until exhausted, at which point it flips to
// released. The total released can never exceed the original hold.
func (s *Settld) ReleaseToOperator(ctx context.Context, req *ReleaseRequest) (*model.EscrowHold, error) {
	ctx, span := tracer.Start(ctx, "Releasing escrow to operator")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	mission, err := s.store.GetMission(ctx, req.MissionID)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	exists, err := s.store.EntryExistsByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if exists {
		span.AddEvent("idempotency key already applied, returning existing hold")
		return s.store.GetEscrowHoldByDeal(ctx, mission.DealID)
	}

	locker, err := s.lockDeal(ctx, mission.DealID)
	if err != nil {
		return nil, err
	}
	defer s.unlockDeal(ctx, locker)

	if _, err := s.store.GetOrCreateBalance(ctx, model.OwnerTypeOperator, req.OperatorID, DefaultCurrency); err != nil {
		return nil, logAndRecordError(span, err)
	}

	operatorEntry := &model.LedgerEntry{
		OwnerType:      model.OwnerTypeOperator,
		OwnerID:        req.OperatorID,
		EntryType:      model.EntryTypeReward,
		Amount:         req.AmountCents,
		Currency:       DefaultCurrency,
		ReferenceType:  "mission",
		ReferenceID:    req.MissionID,
		IdempotencyKey: req.IdempotencyKey,
	}
	agentEntry := &model.LedgerEntry{
		OwnerType:      model.OwnerTypeAgent,
		OwnerID:        mission.AgentID,
		EntryType:      model.EntryTypeEscrowRelease,
		Amount:         -req.AmountCents,
		Currency:       DefaultCurrency,
		ReferenceType:  "mission",
		ReferenceID:    req.MissionID,
		IdempotencyKey: req.IdempotencyKey + ".agent",
	}

	hold, err := s.store.ApplyEscrowRelease(ctx, mission.DealID, req.MissionID, req.AmountCents, agentEntry, operatorEntry)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	// Settling on time improves the agent's running pay-time average. A trust
	// bookkeeping failure never unwinds a completed release.
	paySeconds := time.Since(mission.CreatedAt).Seconds()
	if err := s.UpdateAgentTrustScore(ctx, mission.AgentID, paySeconds); err != nil {
		logrus.Warnf("failed to update trust score for agent %s: %v", mission.AgentID, err)
	}

	s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventEscrowReleased, Payload: hold})
	return hold, nil
}

// RefundEscrowRequest returns a deal's remaining escrow to the agent.
type RefundEscrowRequest struct {
	DealID         string `json:"deal_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *RefundEscrowRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.DealID, validation.Required),
		validation.Field(&r.IdempotencyKey, validation.Required),
	)
}

// RefundEscrow returns the full remaining held amount to the agent's
// available balance and marks the hold refunded.
func (s *Settld) RefundEscrow(ctx context.Context, req *RefundEscrowRequest) (*model.EscrowHold, error) {
	ctx, span := tracer.Start(ctx, "Refunding escrow")
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	exists, err := s.store.EntryExistsByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if exists {
		span.AddEvent("idempotency key already applied, returning existing hold")
		return s.store.GetEscrowHoldByDeal(ctx, req.DealID)
	}

	locker, err := s.lockDeal(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	defer s.unlockDeal(ctx, locker)

	hold, err := s.store.GetEscrowHoldByDeal(ctx, req.DealID)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	entry := &model.LedgerEntry{
		OwnerType:      model.OwnerTypeAgent,
		OwnerID:        hold.AgentID,
		EntryType:      model.EntryTypeRefund,
		Currency:       DefaultCurrency,
		ReferenceType:  "deal",
		ReferenceID:    req.DealID,
		IdempotencyKey: req.IdempotencyKey,
	}
	hold, err = s.store.ApplyEscrowRefund(ctx, req.DealID, entry)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventEscrowRefunded, Payload: hold})
	return hold, nil
}
