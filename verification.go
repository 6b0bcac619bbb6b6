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
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/chain"
	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// Tolerance bands for amount comparison, in basis points. They absorb
// unit-conversion rounding; a mismatch beyond them is a verification failure,
// not slippage to forgive.
const (
	stableToleranceBps = 10  // 0.1% for stable tokens
	nativeToleranceBps = 100 // 1% for native assets priced via the assumed rate
)

// TransactionReport is an externally reported settlement transaction awaiting
// verification before it is trusted.
type TransactionReport struct {
	TxHash      string `json:"tx_hash"`
	Chain       string `json:"chain"`
	Token       string `json:"token"`
	ToAddress   string `json:"to_address"`
	AmountCents int64  `json:"amount_cents"`
	MissionID   string `json:"mission_id"`
	AgentID     string `json:"agent_id"`
	OperatorID  string `json:"operator_id"`
	PaymentType string `json:"payment_type"`
}

func (r *TransactionReport) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.TxHash, validation.Required, validation.By(func(interface{}) error {
			if !strings.HasPrefix(r.TxHash, "0x") || len(r.TxHash) != 66 {
				return fmt.Errorf("tx hash must be a 0x-prefixed 32-byte hex string")
			}
			return nil
		})),
		validation.Field(&r.Chain, validation.Required),
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.ToAddress, validation.Required),
		validation.Field(&r.AmountCents, validation.Required, validation.Min(1)),
		validation.Field(&r.MissionID, validation.Required),
		validation.Field(&r.AgentID, validation.Required),
		validation.Field(&r.PaymentType, validation.Required, validation.In(model.PaymentTypeAUF, model.PaymentTypePayout)),
	)
}

// VerifyTransaction validates an externally reported tx hash against the
// expected recipient, amount, token and chain, then records it as a confirmed
// payment. The replay lookup runs before any network call, so a hash that was
// ever accepted is rejected immediately on reuse, no matter which mission it
// is reported for.
func (s *Settld) VerifyTransaction(ctx context.Context, report *TransactionReport) (*model.Payment, error) {
	ctx, span := tracer.Start(ctx, "Verifying reported transaction")
	defer span.End()

	if err := report.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	// The reported chain must be the configured settlement chain. Replay
	// lookups are keyed by chain name, so accepting an arbitrary chain label
	// would let an already-used hash verify again under a different name.
	if report.Chain != s.conf.Chain.Chain {
		return nil, apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Chain %s is not the configured settlement chain %s", report.Chain, s.conf.Chain.Chain), nil)
	}

	used, err := s.store.PaymentTxHashExists(ctx, report.Chain, report.TxHash)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if used {
		return nil, apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Transaction %s was already used for a payment on %s", report.TxHash, report.Chain), nil)
	}

	token, err := chain.ResolveToken(report.Chain, report.Token)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}

	if err := s.verifyOnChain(ctx, report, token); err != nil {
		return nil, logAndRecordError(span, err)
	}

	payment := &model.Payment{
		MissionID:   report.MissionID,
		AgentID:     report.AgentID,
		OperatorID:  report.OperatorID,
		PaymentType: report.PaymentType,
		AmountCents: report.AmountCents,
		Chain:       report.Chain,
		Token:       report.Token,
		Status:      model.PaymentStatusPending,
		ToAddress:   report.ToAddress,
	}
	payment, err = s.store.RecordPayment(ctx, payment)
	if err != nil {
		return nil, logAndRecordError(span, err)
	}
	if err := s.store.UpdatePaymentStatus(ctx, payment.PaymentID, model.PaymentStatusConfirmed, report.TxHash); err != nil {
		return nil, logAndRecordError(span, err)
	}
	payment.Status = model.PaymentStatusConfirmed
	payment.TxHash = report.TxHash
	now := time.Now()
	payment.ConfirmedAt = &now

	// Verified on-chain movements leave a non-mutating audit trail entry;
	// ledger balances only move through the escrow operations.
	entryType := model.EntryTypeAufReceived
	ownerType, ownerID := model.OwnerTypeAgent, report.AgentID
	if report.PaymentType == model.PaymentTypePayout {
		entryType = model.EntryTypePayoutTracked
		ownerType, ownerID = model.OwnerTypeOperator, report.OperatorID
	}
	auditEntry := &model.LedgerEntry{
		OwnerType:      ownerType,
		OwnerID:        ownerID,
		EntryType:      entryType,
		Amount:         report.AmountCents,
		Currency:       DefaultCurrency,
		ReferenceType:  "payment",
		ReferenceID:    payment.PaymentID,
		IdempotencyKey: fmt.Sprintf("txverify_%s_%s", report.Chain, report.TxHash),
	}
	if _, err := s.store.RecordAuditEntry(ctx, auditEntry); err != nil {
		return nil, logAndRecordError(span, err)
	}

	logrus.WithFields(logrus.Fields{
		"mission_id": payment.MissionID,
		"tx_hash":    payment.TxHash,
		"amount_usd": payment.AmountUSD().StringFixed(2),
	}).Info("payment verified")
	s.queue.EnqueueWebhook(ctx, NewWebhook{Event: EventPaymentVerified, Payload: payment})
	return payment, nil
}

// verifyOnChain fetches the reported transaction and checks recipient, token
// and amount. A failed verification never mutates ledger state.
func (s *Settld) verifyOnChain(ctx context.Context, report *TransactionReport, token chain.TokenInfo) error {
	tx, err := s.rpc.TransactionByHash(ctx, report.TxHash)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return apierror.NewAPIError(apierror.ErrVerificationFailed,
				fmt.Sprintf("Transaction %s not found on %s", report.TxHash, report.Chain), err)
		}
		return err
	}
	if tx.To == nil {
		return apierror.NewAPIError(apierror.ErrVerificationFailed, "Transaction is a contract creation, not a transfer", nil)
	}

	receipt, err := s.rpc.TransactionReceipt(ctx, report.TxHash)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return apierror.NewAPIError(apierror.ErrVerificationFailed,
				fmt.Sprintf("Transaction %s is not mined yet", report.TxHash), err)
		}
		return err
	}
	if receipt.Status != 1 {
		return apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Transaction %s reverted on chain", report.TxHash), nil)
	}

	expectedTo := common.HexToAddress(report.ToAddress)
	if token.Native {
		if *tx.To != expectedTo {
			return apierror.NewAPIError(apierror.ErrVerificationFailed,
				fmt.Sprintf("Transaction recipient %s does not match expected %s", tx.To.Hex(), expectedTo.Hex()), nil)
		}
		expectedWei := chain.CentsToWei(report.AmountCents)
		var value *big.Int
		if tx.Value != nil {
			value = tx.Value.ToInt()
		}
		if !chain.WithinBps(expectedWei, value, nativeToleranceBps) {
			return apierror.NewAPIError(apierror.ErrVerificationFailed,
				fmt.Sprintf("Native transfer value does not match expected %d cents", report.AmountCents), nil)
		}
		return nil
	}

	if *tx.To != token.Address {
		return apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Transaction target %s is not the %s contract on %s", tx.To.Hex(), report.Token, report.Chain), nil)
	}
	recipient, amount, err := chain.DecodeTransfer(tx.Input)
	if err != nil {
		return err
	}
	if recipient != expectedTo {
		return apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Token recipient %s does not match expected %s", recipient.Hex(), expectedTo.Hex()), nil)
	}
	if !chain.WithinBps(chain.CentsToBaseUnits(report.AmountCents), amount, stableToleranceBps) {
		return apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Token amount does not match expected %d cents", report.AmountCents), nil)
	}
	return nil
}
