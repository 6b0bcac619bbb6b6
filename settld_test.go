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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settldhq/settld/chain"
	"github.com/settldhq/settld/config"
	"github.com/settldhq/settld/database/mocks"
	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

func newTestSettld(t *testing.T) (*Settld, *mocks.MockStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	conf := &config.Configuration{
		Redis:          config.RedisConfig{Dns: mr.Addr()},
		Queue:          config.QueueConfig{WebhookQueue: "webhook"},
		Chain:          config.ChainConfig{Mode: config.ModeLedger, Chain: "base-sepolia", ChainID: 84532, FaucetCooldownHrs: 24},
		Reconciliation: config.ReconciliationConfig{BatchSize: 100},
	}
	config.MockConfig(conf)

	settler, err := chain.NewSettler(conf.Chain, "")
	require.NoError(t, err)

	store := mocks.NewMockStore()
	return &Settld{
		store:   store,
		settler: settler,
		rpc:     chain.NewRPCClient("https://rpc.primary.test", nil),
		queue:   NewQueue(conf),
		redis:   redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		conf:    conf,
	}, store
}

func registerDealAndMission(t *testing.T, s *Settld, dealID, agentID, missionID, operatorID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.RegisterDeal(ctx, &RegisterDealRequest{DealID: dealID, AgentID: agentID, ExpiresAt: time.Now().Add(24 * time.Hour)})
	require.NoError(t, err)
	if missionID != "" {
		_, err = s.RegisterMission(ctx, &RegisterMissionRequest{
			MissionID:        missionID,
			DealID:           dealID,
			AgentID:          agentID,
			OperatorID:       operatorID,
			PayoutDeadlineAt: time.Now().Add(24 * time.Hour),
		})
		require.NoError(t, err)
	}
}

// Full settlement pass: deposit, hold, partial release, refund of the
// remainder. Funds are conserved across every step.
func TestSettlementLifecycle(t *testing.T) {
	s, store := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "msn_1", "op_1")

	balance, err := s.Deposit(ctx, &DepositRequest{
		OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 10_000, IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), balance.Available)
	assert.Equal(t, int64(10_000), store.TotalFunds(DefaultCurrency))

	hold, err := s.HoldEscrow(ctx, &HoldEscrowRequest{
		AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2",
	})
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStatusHeld, hold.Status)

	balance, err = s.GetBalance(ctx, model.OwnerTypeAgent, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), balance.Available)
	assert.Equal(t, int64(4_000), balance.Pending)
	assert.Equal(t, int64(10_000), store.TotalFunds(DefaultCurrency))

	hold, err = s.ReleaseToOperator(ctx, &ReleaseRequest{
		MissionID: "msn_1", OperatorID: "op_1", AmountCents: 1_500, IdempotencyKey: "k3",
	})
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStatusHeld, hold.Status)
	assert.Equal(t, int64(2_500), hold.Amount)

	operatorBalance, err := s.GetBalance(ctx, model.OwnerTypeOperator, "op_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), operatorBalance.Available)
	balance, err = s.GetBalance(ctx, model.OwnerTypeAgent, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), balance.Available)
	assert.Equal(t, int64(2_500), balance.Pending)
	assert.Equal(t, int64(10_000), store.TotalFunds(DefaultCurrency))

	hold, err = s.RefundEscrow(ctx, &RefundEscrowRequest{DealID: "deal_1", IdempotencyKey: "k4"})
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStatusRefunded, hold.Status)
	assert.Equal(t, int64(0), hold.Amount)

	balance, err = s.GetBalance(ctx, model.OwnerTypeAgent, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, int64(8_500), balance.Available)
	assert.Equal(t, int64(0), balance.Pending)
	assert.Equal(t, int64(10_000), store.TotalFunds(DefaultCurrency))
}

func TestDepositIdempotency(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()

	req := &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 5_000, IdempotencyKey: "dep-1"}
	first, err := s.Deposit(ctx, req)
	require.NoError(t, err)
	second, err := s.Deposit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int64(5_000), first.Available)
	assert.Equal(t, int64(5_000), second.Available)

	entries, err := s.GetLedgerEntries(ctx, model.OwnerTypeAgent, "agent_1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHoldEscrowIdempotency(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "", "")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 10_000, IdempotencyKey: "k1"})
	require.NoError(t, err)

	req := &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"}
	first, err := s.HoldEscrow(ctx, req)
	require.NoError(t, err)
	second, err := s.HoldEscrow(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.EscrowID, second.EscrowID)

	// A different key against the same deal still returns the existing hold;
	// one hold per deal.
	third, err := s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 9_000, IdempotencyKey: "k2b"})
	require.NoError(t, err)
	assert.Equal(t, first.EscrowID, third.EscrowID)
	assert.Equal(t, int64(4_000), third.Amount)

	balance, err := s.GetBalance(ctx, model.OwnerTypeAgent, "agent_1")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), balance.Available)
	assert.Equal(t, int64(4_000), balance.Pending)
}

func TestHoldEscrowInsufficientFunds(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "", "")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 1_000, IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientFunds))
}

func TestHoldEscrowWrongAgent(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "", "")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_2", AmountCents: 10_000, IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_2", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestReleaseIdempotencyNoDoublePay(t *testing.T) {
	s, store := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "msn_1", "op_1")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 10_000, IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"})
	require.NoError(t, err)

	req := &ReleaseRequest{MissionID: "msn_1", OperatorID: "op_1", AmountCents: 1_500, IdempotencyKey: "k3"}
	_, err = s.ReleaseToOperator(ctx, req)
	require.NoError(t, err)
	_, err = s.ReleaseToOperator(ctx, req)
	require.NoError(t, err)

	operatorBalance, err := s.GetBalance(ctx, model.OwnerTypeOperator, "op_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500), operatorBalance.Available)
	assert.Equal(t, int64(10_000), store.TotalFunds(DefaultCurrency))
}

func TestReleaseCannotExceedHold(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "msn_1", "op_1")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 10_000, IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"})
	require.NoError(t, err)

	_, err = s.ReleaseToOperator(ctx, &ReleaseRequest{MissionID: "msn_1", OperatorID: "op_1", AmountCents: 3_000, IdempotencyKey: "k3"})
	require.NoError(t, err)

	// 1_000 remains; asking for more than the remainder must fail even though
	// the agent has other available funds.
	_, err = s.ReleaseToOperator(ctx, &ReleaseRequest{MissionID: "msn_1", OperatorID: "op_1", AmountCents: 2_000, IdempotencyKey: "k4"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientEscrow))
}

func TestRefundAfterFullRelease(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()
	registerDealAndMission(t, s, "deal_1", "agent_1", "msn_1", "op_1")

	_, err := s.Deposit(ctx, &DepositRequest{OwnerType: model.OwnerTypeAgent, OwnerID: "agent_1", AmountCents: 10_000, IdempotencyKey: "k1"})
	require.NoError(t, err)
	_, err = s.HoldEscrow(ctx, &HoldEscrowRequest{AgentID: "agent_1", DealID: "deal_1", AmountCents: 4_000, IdempotencyKey: "k2"})
	require.NoError(t, err)

	hold, err := s.ReleaseToOperator(ctx, &ReleaseRequest{MissionID: "msn_1", OperatorID: "op_1", AmountCents: 4_000, IdempotencyKey: "k3"})
	require.NoError(t, err)
	assert.Equal(t, model.EscrowStatusReleased, hold.Status)

	_, err = s.RefundEscrow(ctx, &RefundEscrowRequest{DealID: "deal_1", IdempotencyKey: "k4"})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestFundDealOnChainSimulated(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()

	txHash, err := s.FundDealOnChain(ctx, "deal_1", "agent_1", "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1", 4_000)
	require.NoError(t, err)
	assert.Len(t, txHash, 66)

	op, err := s.store.LastSuccessfulTokenOp(ctx, "agent_1", model.TokenOpKindTransfer)
	require.NoError(t, err)
	assert.Equal(t, model.TokenOpStatusSubmitted, op.Status)
	assert.Equal(t, txHash, op.TxHash)
}

func TestFundDealFromTreasurySimulated(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()

	txHash, err := s.FundDealFromTreasury(ctx, "deal_1", "agent_1", 4_000)
	require.NoError(t, err)
	assert.Len(t, txHash, 66)

	op, err := s.store.LastSuccessfulTokenOp(ctx, "agent_1", model.TokenOpKindMint)
	require.NoError(t, err)
	assert.Equal(t, model.TokenOpStatusSubmitted, op.Status)
	assert.Equal(t, txHash, op.TxHash)
	assert.Equal(t, int64(4_000), op.AmountCents)
}
