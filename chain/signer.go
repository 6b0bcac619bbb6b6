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
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/settldhq/settld/internal/apierror"
)

// hexKeyPattern matches any 64-hex-character run, the shape of a raw
// secp256k1 private key. Applied to every string that might reach a log.
var hexKeyPattern = regexp.MustCompile(`(0x)?[0-9a-fA-F]{64}`)

// RedactSecrets strips anything that looks like raw key material from a
// string before it is logged or returned to a caller.
func RedactSecrets(s string) string {
	return hexKeyPattern.ReplaceAllString(s, "[redacted]")
}

// TreasurySigner holds the arbiter account's key and signs every outbound
// settlement transaction.
type TreasurySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewTreasurySigner derives the signing account from hex key material and
// verifies it matches the configured treasury address. A mismatch is a fatal
// configuration error, never a retryable fault: proceeding would send funds
// from the wrong account.
func NewTreasurySigner(keyHex, treasuryAddress string, chainID int64) (*TreasurySigner, error) {
	material := strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	if material == "" {
		return nil, apierror.NewAPIError(apierror.ErrConfigMismatch, "Treasury signing key is not set", nil)
	}
	key, err := crypto.HexToECDSA(material)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConfigMismatch,
			fmt.Sprintf("Invalid treasury key material: %s", RedactSecrets(err.Error())), nil)
	}

	derived := crypto.PubkeyToAddress(key.PublicKey)
	expected := common.HexToAddress(treasuryAddress)
	if derived != expected {
		return nil, apierror.NewAPIError(apierror.ErrConfigMismatch,
			fmt.Sprintf("Derived signing address %s does not match configured treasury %s", derived.Hex(), expected.Hex()), nil)
	}

	return &TreasurySigner{key: key, address: derived, chainID: big.NewInt(chainID)}, nil
}

// Address returns the treasury account address.
func (s *TreasurySigner) Address() common.Address {
	return s.address
}

// SignTx signs a transaction for the configured chain.
func (s *TreasurySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Failed to sign transaction: %s", RedactSecrets(err.Error())), nil)
	}
	return signed, nil
}

// SignDigest signs a 32-byte digest, used for EIP-712 permits.
func (s *TreasurySigner) SignDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Failed to sign digest: %s", RedactSecrets(err.Error())), nil)
	}
	return sig, nil
}
