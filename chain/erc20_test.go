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

package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/internal/apierror"
)

func TestTransferSelector(t *testing.T) {
	// Canonical ERC-20 transfer selector.
	assert.Equal(t, "a9059cbb", hex.EncodeToString(transferSelector))
	assert.Equal(t, "095ea7b3", hex.EncodeToString(approveSelector))
	assert.Equal(t, "dd62ed3e", hex.EncodeToString(allowanceSelector))
	assert.Equal(t, "70a08231", hex.EncodeToString(balanceOfSelector))
}

func TestEncodeDecodeTransfer(t *testing.T) {
	to := common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")
	amount := CentsToBaseUnits(2000)

	data := EncodeTransfer(to, amount)
	assert.Len(t, data, 68)

	gotTo, gotAmount, err := DecodeTransfer(data)
	assert.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, 0, amount.Cmp(gotAmount))
}

func TestDecodeTransferRejectsOtherCalls(t *testing.T) {
	data := EncodeApprove(common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"), big.NewInt(1))
	_, _, err := DecodeTransfer(data)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrVerificationFailed))

	_, _, err = DecodeTransfer([]byte{0xa9, 0x05})
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrVerificationFailed))
}

func TestDealKeyDeterministic(t *testing.T) {
	k1 := DealKey("deal_123")
	k2 := DealKey("deal_123")
	k3 := DealKey("deal_124")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestEncodeEscrowCalls(t *testing.T) {
	key := DealKey("deal_123")
	recipient := common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

	deposit := EncodeDepositToDeal(key, CentsToBaseUnits(4000))
	assert.Len(t, deposit, 4+32+32)

	release := EncodeReleaseToDeal(key, recipient)
	assert.Len(t, release, 4+32+32)
	assert.Equal(t, key[:], release[4:36])

	refund := EncodeRefundDeal(key)
	assert.Len(t, refund, 4+32)
}
