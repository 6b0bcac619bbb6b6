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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/internal/apierror"
)

// Throwaway key pair used across signer tests.
const (
	testKeyHex  = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"
	testAddress = "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"
)

func TestNewTreasurySigner(t *testing.T) {
	signer, err := NewTreasurySigner(testKeyHex, testAddress, 8453)
	assert.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), signer.Address())

	// 0x prefix on the key material is accepted.
	signer, err = NewTreasurySigner("0x"+testKeyHex, testAddress, 8453)
	assert.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), signer.Address())
}

func TestNewTreasurySignerAddressMismatch(t *testing.T) {
	_, err := NewTreasurySigner(testKeyHex, "0x0000000000000000000000000000000000000001", 8453)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConfigMismatch))
}

func TestNewTreasurySignerBadMaterial(t *testing.T) {
	_, err := NewTreasurySigner("", testAddress, 8453)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConfigMismatch))

	_, err = NewTreasurySigner("not-hex", testAddress, 8453)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConfigMismatch))
}

func TestSignTx(t *testing.T) {
	signer, err := NewTreasurySigner(testKeyHex, testAddress, 8453)
	assert.NoError(t, err)

	to := common.HexToAddress("0x0000000000000000000000000000000000000002")
	tx := types.NewTransaction(0, to, big.NewInt(0), 21000, big.NewInt(1), nil)
	signed, err := signer.SignTx(tx)
	assert.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), signed)
	assert.NoError(t, err)
	assert.Equal(t, signer.Address(), sender)
}

func TestRedactSecrets(t *testing.T) {
	msg := "failed to sign with key " + testKeyHex + " on endpoint"
	redacted := RedactSecrets(msg)
	assert.NotContains(t, redacted, testKeyHex)
	assert.Contains(t, redacted, "[redacted]")

	prefixed := RedactSecrets("key 0x" + testKeyHex + " leaked")
	assert.NotContains(t, prefixed, testKeyHex)

	// Addresses and tx hashes shorter than 64 hex chars survive.
	assert.Equal(t, testAddress, RedactSecrets(testAddress))
}
