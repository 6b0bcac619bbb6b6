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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/model"
)

func TestRecordTokenOpFaucetCooldown(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()

	op, err := s.RecordTokenOp(ctx, &TokenOpRequest{
		OwnerType: model.OwnerTypeOperator, OwnerID: "op_1",
		Kind: model.TokenOpKindFaucet, AmountCents: 1_000,
		Chain: "base-sepolia", Status: model.TokenOpStatusConfirmed,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, op.TokenOpID)

	_, err = s.RecordTokenOp(ctx, &TokenOpRequest{
		OwnerType: model.OwnerTypeOperator, OwnerID: "op_1",
		Kind: model.TokenOpKindFaucet, AmountCents: 1_000,
		Chain: "base-sepolia", Status: model.TokenOpStatusConfirmed,
	})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))

	remaining, err := s.FaucetCooldownRemaining(ctx, "op_1")
	require.NoError(t, err)
	assert.Greater(t, remaining, 23*time.Hour)

	// The cooldown throttles the faucet only.
	_, err = s.RecordTokenOp(ctx, &TokenOpRequest{
		OwnerType: model.OwnerTypeOperator, OwnerID: "op_1",
		Kind: model.TokenOpKindTransfer, AmountCents: 500,
		Chain: "base-sepolia", Status: model.TokenOpStatusSubmitted,
	})
	assert.NoError(t, err)
}

func TestFaucetCooldownIgnoresFailedOps(t *testing.T) {
	s, _ := newTestSettld(t)
	ctx := context.Background()

	_, err := s.RecordTokenOp(ctx, &TokenOpRequest{
		OwnerType: model.OwnerTypeOperator, OwnerID: "op_1",
		Kind: model.TokenOpKindFaucet, AmountCents: 1_000,
		Chain: "base-sepolia", Status: model.TokenOpStatusFailed, Error: "insufficient treasury balance",
	})
	require.NoError(t, err)

	remaining, err := s.FaucetCooldownRemaining(ctx, "op_1")
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestRecordTokenOpRejectsUnknownKind(t *testing.T) {
	s, _ := newTestSettld(t)

	_, err := s.RecordTokenOp(context.Background(), &TokenOpRequest{
		OwnerType: model.OwnerTypeOperator, OwnerID: "op_1",
		Kind: "burn", Chain: "base-sepolia", Status: model.TokenOpStatusSubmitted,
	})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}
