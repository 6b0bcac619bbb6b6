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

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

// TokenOpRequest records an on-chain token movement attempt.
type TokenOpRequest struct {
	OwnerType   string `json:"owner_type"`
	OwnerID     string `json:"owner_id"`
	Kind        string `json:"kind"`
	AmountCents int64  `json:"amount_cents"`
	Chain       string `json:"chain"`
	TxHash      string `json:"tx_hash"`
	Status      string `json:"status"`
	Error       string `json:"error"`
}

func (r *TokenOpRequest) validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.OwnerType, validation.Required, validation.In(model.OwnerTypeAgent, model.OwnerTypeOperator)),
		validation.Field(&r.OwnerID, validation.Required),
		validation.Field(&r.Kind, validation.Required, validation.In(model.TokenOpKindMint, model.TokenOpKindTransfer, model.TokenOpKindFaucet)),
		validation.Field(&r.Status, validation.Required, validation.In(model.TokenOpStatusSubmitted, model.TokenOpStatusConfirmed, model.TokenOpStatusFailed)),
		validation.Field(&r.Chain, validation.Required),
	)
}

// RecordTokenOp appends one row to the on-chain transfer audit trail. Faucet
// requests are additionally throttled: a new faucet op is rejected while the
// cooldown from the owner's last successful one is still running.
func (s *Settld) RecordTokenOp(ctx context.Context, req *TokenOpRequest) (*model.TokenOp, error) {
	if err := req.validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	if req.Kind == model.TokenOpKindFaucet {
		remaining, err := s.FaucetCooldownRemaining(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			return nil, apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("Faucet cooldown active for '%s', retry in %s", req.OwnerID, remaining.Round(time.Minute)), nil)
		}
	}

	op := &model.TokenOp{
		OwnerType:   req.OwnerType,
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
		Chain:       req.Chain,
		TxHash:      req.TxHash,
		Status:      req.Status,
		Error:       req.Error,
	}
	return s.store.RecordTokenOp(ctx, op)
}

// FaucetCooldownRemaining reports how long until the owner may draw from the
// faucet again, zero when eligible now.
func (s *Settld) FaucetCooldownRemaining(ctx context.Context, ownerID string) (time.Duration, error) {
	last, err := s.store.LastSuccessfulTokenOp(ctx, ownerID, model.TokenOpKindFaucet)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	cooldown := time.Duration(s.conf.Chain.FaucetCooldownHrs) * time.Hour
	remaining := time.Until(last.CreatedAt.Add(cooldown))
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
