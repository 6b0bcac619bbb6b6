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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/chain"
	"github.com/settldhq/settld/model"
)

// recordBridgeOp writes the audit row for a broadcast on-chain call. A
// broadcast hash is submitted, not confirmed; nothing here touches ledger
// balances.
func (s *Settld) recordBridgeOp(ctx context.Context, ownerType, ownerID, kind string, amountCents int64, txHash string, opErr error) {
	op := &model.TokenOp{
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		Kind:        kind,
		AmountCents: amountCents,
		Chain:       s.conf.Chain.Chain,
		TxHash:      txHash,
		Status:      model.TokenOpStatusSubmitted,
	}
	if opErr != nil {
		op.Status = model.TokenOpStatusFailed
		op.Error = chain.RedactSecrets(opErr.Error())
	}
	if _, err := s.store.RecordTokenOp(ctx, op); err != nil {
		// Audit trail failure must not mask the bridge outcome.
		logrus.Warnf("failed to record token op for %s %s: %v", kind, ownerID, err)
	}
}

// FundDealOnChain asks the settler to move the depositor's tokens into the
// escrow contract for a deal. The returned hash is broadcast-only; callers
// must not credit ledger state until the transfer verifies.
func (s *Settld) FundDealOnChain(ctx context.Context, dealID, agentID, depositorAddress string, amountCents int64) (string, error) {
	txHash, err := s.settler.Deposit(ctx, dealID, common.HexToAddress(depositorAddress), amountCents)
	s.recordBridgeOp(ctx, model.OwnerTypeAgent, agentID, model.TokenOpKindTransfer, amountCents, txHash, err)
	return txHash, err
}

// FundDealFromTreasury moves treasury-custodied tokens into the escrow
// contract for a deal, covering deposits the marketplace fronts on an agent's
// behalf. Permit-capable tokens skip the separate approval transaction.
func (s *Settld) FundDealFromTreasury(ctx context.Context, dealID, agentID string, amountCents int64) (string, error) {
	txHash, err := s.settler.DepositFromTreasury(ctx, dealID, amountCents)
	s.recordBridgeOp(ctx, model.OwnerTypeAgent, agentID, model.TokenOpKindMint, amountCents, txHash, err)
	return txHash, err
}

// OnChainEscrowBalance reads a deal's remaining escrowed base units straight
// from the contract, for reconciling the ledger's view against the chain.
func (s *Settld) OnChainEscrowBalance(ctx context.Context, dealID string) (*big.Int, error) {
	return s.settler.EscrowedAmount(ctx, dealID)
}

// ReleaseDealOnChain asks the settler to pay a mission's operator from the
// deal's on-chain escrow. The contract splits the platform fee internally.
func (s *Settld) ReleaseDealOnChain(ctx context.Context, missionID, recipientAddress string) (string, error) {
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return "", err
	}
	txHash, err := s.settler.Release(ctx, mission.DealID, common.HexToAddress(recipientAddress))
	s.recordBridgeOp(ctx, model.OwnerTypeOperator, mission.OperatorID, model.TokenOpKindTransfer, 0, txHash, err)
	return txHash, err
}

// RefundDealOnChain asks the settler to return a deal's undisbursed on-chain
// escrow to its depositor.
func (s *Settld) RefundDealOnChain(ctx context.Context, dealID, agentID string) (string, error) {
	txHash, err := s.settler.Refund(ctx, dealID)
	s.recordBridgeOp(ctx, model.OwnerTypeAgent, agentID, model.TokenOpKindTransfer, 0, txHash, err)
	return txHash, err
}
