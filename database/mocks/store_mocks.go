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

// Package mocks provides an in-memory ISettlementStore used by scenario
// tests. It mirrors the guard semantics of the real store: relative balance
// updates, one hold per deal, unique idempotency keys and tx hashes.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

type MockStore struct {
	mu sync.Mutex

	balances     map[string]*model.Balance
	entries      []*model.LedgerEntry
	entriesByKey map[string]*model.LedgerEntry
	holds        map[string]*model.EscrowHold
	payments     map[string]*model.Payment
	txHashes     map[string]bool
	tokenOps     []*model.TokenOp
	trust        map[string]*model.AgentTrust
	deals        map[string]*model.Deal
	missions     map[string]*model.Mission
}

func NewMockStore() *MockStore {
	return &MockStore{
		balances:     make(map[string]*model.Balance),
		entriesByKey: make(map[string]*model.LedgerEntry),
		holds:        make(map[string]*model.EscrowHold),
		payments:     make(map[string]*model.Payment),
		txHashes:     make(map[string]bool),
		trust:        make(map[string]*model.AgentTrust),
		deals:        make(map[string]*model.Deal),
		missions:     make(map[string]*model.Mission),
	}
}

func balanceKey(ownerType, ownerID, currency string) string {
	return ownerType + ":" + ownerID + ":" + currency
}

func (s *MockStore) GetOrCreateBalance(_ context.Context, ownerType, ownerID, currency string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !model.ValidOwnerType(ownerType) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown owner type '%s'", ownerType), nil)
	}
	key := balanceKey(ownerType, ownerID, currency)
	if b, ok := s.balances[key]; ok {
		return copyBalance(b), nil
	}
	b := &model.Balance{
		BalanceID: model.GenerateUUIDWithSuffix("bln"),
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: time.Now(),
	}
	s.balances[key] = b
	return copyBalance(b), nil
}

func (s *MockStore) GetBalance(_ context.Context, ownerType, ownerID, currency string) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getBalanceLocked(ownerType, ownerID, currency)
}

func (s *MockStore) getBalanceLocked(ownerType, ownerID, currency string) (*model.Balance, error) {
	b, ok := s.balances[balanceKey(ownerType, ownerID, currency)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for %s '%s' not found", ownerType, ownerID), nil)
	}
	return copyBalance(b), nil
}

func (s *MockStore) ApplyDeposit(_ context.Context, entry *model.LedgerEntry) (*model.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := entry.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if entry.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Deposit amount must be positive", nil)
	}
	if _, ok := s.entriesByKey[entry.IdempotencyKey]; ok && entry.IdempotencyKey != "" {
		return s.getBalanceLocked(entry.OwnerType, entry.OwnerID, entry.Currency)
	}
	b, ok := s.balances[balanceKey(entry.OwnerType, entry.OwnerID, entry.Currency)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Balance for %s '%s' not found", entry.OwnerType, entry.OwnerID), nil)
	}
	b.Available += entry.Amount
	b.Version++
	entry.BalanceAfter = b.Available
	s.appendEntryLocked(entry)
	return copyBalance(b), nil
}

func (s *MockStore) appendEntryLocked(entry *model.LedgerEntry) {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("led")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.Hash = entry.HashEntry()
	s.entries = append(s.entries, entry)
	if entry.IdempotencyKey != "" {
		s.entriesByKey[entry.IdempotencyKey] = entry
	}
}

func (s *MockStore) EntryExistsByIdempotencyKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entriesByKey[key]
	return ok, nil
}

func (s *MockStore) GetEntryByIdempotencyKey(_ context.Context, key string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entriesByKey[key]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Ledger entry with idempotency key '%s' not found", key), nil)
	}
	return entry, nil
}

func (s *MockStore) RecordAuditEntry(_ context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := entry.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	if prior, ok := s.entriesByKey[entry.IdempotencyKey]; ok && entry.IdempotencyKey != "" {
		return prior, nil
	}
	if b, ok := s.balances[balanceKey(entry.OwnerType, entry.OwnerID, entry.Currency)]; ok {
		entry.BalanceAfter = b.Available
	}
	s.appendEntryLocked(entry)
	return entry, nil
}

func (s *MockStore) ListEntriesForOwner(_ context.Context, ownerType, ownerID string, limit, offset int) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.LedgerEntry
	for _, e := range s.entries {
		if e.OwnerType == ownerType && e.OwnerID == ownerID {
			matched = append(matched, *e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MockStore) GetEscrowHoldByDeal(_ context.Context, dealID string) (*model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getHoldLocked(dealID)
}

func (s *MockStore) getHoldLocked(dealID string) (*model.EscrowHold, error) {
	hold, ok := s.holds[dealID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Escrow hold for deal '%s' not found", dealID), nil)
	}
	h := *hold
	return &h, nil
}

func (s *MockStore) ApplyEscrowHold(_ context.Context, hold *model.EscrowHold, entry *model.LedgerEntry) (*model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hold.Amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Escrow amount must be positive", nil)
	}
	if existing, ok := s.holds[hold.DealID]; ok {
		h := *existing
		return &h, nil
	}
	if _, ok := s.entriesByKey[entry.IdempotencyKey]; ok && entry.IdempotencyKey != "" {
		return s.getHoldLocked(hold.DealID)
	}
	b, ok := s.balances[balanceKey(model.OwnerTypeAgent, hold.AgentID, hold.Currency)]
	if !ok || b.Available < hold.Amount {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Agent '%s' has insufficient available balance for escrow of %d", hold.AgentID, hold.Amount), nil)
	}
	b.Available -= hold.Amount
	b.Pending += hold.Amount
	b.Version++

	hold.EscrowID = model.GenerateUUIDWithSuffix("esc")
	hold.Status = model.EscrowStatusHeld
	hold.CreatedAt = time.Now()
	stored := *hold
	s.holds[hold.DealID] = &stored

	entry.BalanceAfter = b.Available
	s.appendEntryLocked(entry)
	return hold, nil
}

func (s *MockStore) ApplyEscrowRelease(_ context.Context, dealID, missionID string, amount int64, agentEntry, operatorEntry *model.LedgerEntry) (*model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Release amount must be positive", nil)
	}
	if _, ok := s.entriesByKey[operatorEntry.IdempotencyKey]; ok && operatorEntry.IdempotencyKey != "" {
		return s.getHoldLocked(dealID)
	}
	hold, ok := s.holds[dealID]
	if !ok || hold.Status != model.EscrowStatusHeld || hold.Amount < amount {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientEscrow,
			fmt.Sprintf("Deal '%s' has no held escrow covering %d", dealID, amount), nil)
	}
	agentBal, ok := s.balances[balanceKey(model.OwnerTypeAgent, hold.AgentID, hold.Currency)]
	if !ok || agentBal.Pending < amount {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Agent '%s' pending balance does not cover escrow release", hold.AgentID), nil)
	}
	operatorBal, ok := s.balances[balanceKey(model.OwnerTypeOperator, operatorEntry.OwnerID, hold.Currency)]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound,
			fmt.Sprintf("Operator balance for '%s' not found", operatorEntry.OwnerID), nil)
	}

	hold.Amount -= amount
	if hold.Amount == 0 {
		hold.Status = model.EscrowStatusReleased
		now := time.Now()
		hold.ReleasedAt = &now
	}
	agentBal.Pending -= amount
	agentBal.Version++
	operatorBal.Available += amount
	operatorBal.Version++

	agentEntry.BalanceAfter = agentBal.Available
	operatorEntry.BalanceAfter = operatorBal.Available
	s.appendEntryLocked(operatorEntry)
	s.appendEntryLocked(agentEntry)

	if m, ok := s.missions[missionID]; ok {
		m.Status = model.MissionStatusPaid
	}
	h := *hold
	return &h, nil
}

func (s *MockStore) ApplyEscrowRefund(_ context.Context, dealID string, entry *model.LedgerEntry) (*model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entriesByKey[entry.IdempotencyKey]; ok && entry.IdempotencyKey != "" {
		return s.getHoldLocked(dealID)
	}
	hold, ok := s.holds[dealID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Escrow hold for deal '%s' not found", dealID), nil)
	}
	if hold.Status != model.EscrowStatusHeld {
		return nil, apierror.NewAPIError(apierror.ErrConflict,
			fmt.Sprintf("Escrow hold for deal '%s' is already %s", dealID, hold.Status), nil)
	}
	b, ok := s.balances[balanceKey(model.OwnerTypeAgent, hold.AgentID, hold.Currency)]
	if !ok || b.Pending < hold.Amount {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Agent '%s' pending balance does not cover escrow refund", hold.AgentID), nil)
	}
	remaining := hold.Amount
	b.Pending -= remaining
	b.Available += remaining
	b.Version++

	now := time.Now()
	hold.Amount = 0
	hold.Status = model.EscrowStatusRefunded
	hold.RefundedAt = &now

	entry.Amount = remaining
	entry.BalanceAfter = b.Available
	s.appendEntryLocked(entry)
	h := *hold
	return &h, nil
}

func (s *MockStore) ListExpiredHeldEscrows(_ context.Context, before time.Time, limit int) ([]model.EscrowHold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var holds []model.EscrowHold
	for dealID, hold := range s.holds {
		if hold.Status != model.EscrowStatusHeld {
			continue
		}
		deal, ok := s.deals[dealID]
		if !ok || deal.ExpiresAt.IsZero() || !deal.ExpiresAt.Before(before) {
			continue
		}
		holds = append(holds, *hold)
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].CreatedAt.Before(holds[j].CreatedAt) })
	if len(holds) > limit {
		holds = holds[:limit]
	}
	return holds, nil
}

func (s *MockStore) RecordPayment(_ context.Context, p *model.Payment) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	missionKey := p.MissionID + ":" + p.PaymentType
	for _, existing := range s.payments {
		if existing.MissionID+":"+existing.PaymentType == missionKey {
			e := *existing
			return &e, nil
		}
	}
	if p.PaymentID == "" {
		p.PaymentID = model.GenerateUUIDWithSuffix("pay")
	}
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}
	p.CreatedAt = time.Now()
	stored := *p
	s.payments[p.PaymentID] = &stored
	if p.TxHash != "" {
		s.txHashes[p.Chain+":"+p.TxHash] = true
	}
	return p, nil
}

func (s *MockStore) GetPaymentByMission(_ context.Context, missionID, paymentType string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.MissionID == missionID && p.PaymentType == paymentType {
			e := *p
			return &e, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound,
		fmt.Sprintf("Payment of type '%s' for mission '%s' not found", paymentType, missionID), nil)
}

func (s *MockStore) PaymentTxHashExists(_ context.Context, chain, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txHashes[chain+":"+txHash], nil
}

func (s *MockStore) UpdatePaymentStatus(_ context.Context, paymentID, status, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status != model.PaymentStatusConfirmed && status != model.PaymentStatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Payment status '%s' is not a valid transition target", status), nil)
	}
	p, ok := s.payments[paymentID]
	if !ok || p.Status != model.PaymentStatusPending {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Payment '%s' is not pending", paymentID), nil)
	}
	p.Status = status
	if txHash != "" {
		p.TxHash = txHash
		s.txHashes[p.Chain+":"+txHash] = true
	}
	if status == model.PaymentStatusConfirmed {
		now := time.Now()
		p.ConfirmedAt = &now
	}
	return nil
}

func (s *MockStore) RecordTokenOp(_ context.Context, op *model.TokenOp) (*model.TokenOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.TokenOpID == "" {
		op.TokenOpID = model.GenerateUUIDWithSuffix("top")
	}
	op.CreatedAt = time.Now()
	stored := *op
	s.tokenOps = append(s.tokenOps, &stored)
	return op, nil
}

func (s *MockStore) LastSuccessfulTokenOp(_ context.Context, ownerID, kind string) (*model.TokenOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.tokenOps) - 1; i >= 0; i-- {
		op := s.tokenOps[i]
		if op.OwnerID == ownerID && op.Kind == kind && op.Status != model.TokenOpStatusFailed {
			e := *op
			return &e, nil
		}
	}
	return nil, apierror.NewAPIError(apierror.ErrNotFound,
		fmt.Sprintf("No successful '%s' op found for owner '%s'", kind, ownerID), nil)
}

func (s *MockStore) GetOrCreateAgentTrust(_ context.Context, agentID string) (*model.AgentTrust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trust[agentID]; ok {
		e := *t
		return &e, nil
	}
	t := &model.AgentTrust{AgentID: agentID, UpdatedAt: time.Now()}
	s.trust[agentID] = t
	e := *t
	return &e, nil
}

func (s *MockStore) UpdateAgentTrust(_ context.Context, t *model.AgentTrust) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trust[t.AgentID]; !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, "Agent trust record not found", nil)
	}
	t.UpdatedAt = time.Now()
	stored := *t
	s.trust[t.AgentID] = &stored
	return nil
}

func (s *MockStore) CreateDeal(_ context.Context, d *model.Deal) (*model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.DealID == "" {
		d.DealID = model.GenerateUUIDWithSuffix("deal")
	}
	if existing, ok := s.deals[d.DealID]; ok {
		e := *existing
		return &e, nil
	}
	if d.Status == "" {
		d.Status = model.DealStatusFunded
	}
	d.CreatedAt = time.Now()
	stored := *d
	s.deals[d.DealID] = &stored
	return d, nil
}

func (s *MockStore) GetDeal(_ context.Context, dealID string) (*model.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deals[dealID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Deal '%s' not found", dealID), nil)
	}
	e := *d
	return &e, nil
}

func (s *MockStore) CreateMission(_ context.Context, m *model.Mission) (*model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.MissionID == "" {
		m.MissionID = model.GenerateUUIDWithSuffix("msn")
	}
	if existing, ok := s.missions[m.MissionID]; ok {
		e := *existing
		return &e, nil
	}
	if _, ok := s.deals[m.DealID]; !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Deal '%s' not found for mission", m.DealID), nil)
	}
	if m.Status == "" {
		m.Status = model.MissionStatusActive
	}
	m.CreatedAt = time.Now()
	stored := *m
	s.missions[m.MissionID] = &stored
	return m, nil
}

func (s *MockStore) GetMission(_ context.Context, missionID string) (*model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mission '%s' not found", missionID), nil)
	}
	e := *m
	return &e, nil
}

func (s *MockStore) UpdateMissionStatus(_ context.Context, missionID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[missionID]
	if !ok {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Mission '%s' not found", missionID), nil)
	}
	m.Status = status
	return nil
}

func (s *MockStore) ListOverdueMissions(_ context.Context, asOf time.Time, limit int) ([]model.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missions []model.Mission
	for _, m := range s.missions {
		if m.Status == model.MissionStatusActive && !m.PayoutDeadlineAt.IsZero() && m.PayoutDeadlineAt.Before(asOf) {
			missions = append(missions, *m)
		}
	}
	sort.Slice(missions, func(i, j int) bool { return missions[i].PayoutDeadlineAt.Before(missions[j].PayoutDeadlineAt) })
	if len(missions) > limit {
		missions = missions[:limit]
	}
	return missions, nil
}

// TotalFunds sums available and pending across every balance, used by
// conservation checks.
func (s *MockStore) TotalFunds(currency string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.balances {
		if b.Currency == currency {
			total += b.Available + b.Pending
		}
	}
	return total
}

func copyBalance(b *model.Balance) *model.Balance {
	c := *b
	return &c
}
