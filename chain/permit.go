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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 type hashes for ERC-2612 permits.
var (
	eip712DomainTypeHash = crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	permitTypeHash       = crypto.Keccak256([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
)

// PermitDomain identifies the token contract a permit is scoped to. Name and
// version must match the token's own EIP-712 domain exactly (USDC uses
// version "2").
type PermitDomain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract common.Address
}

// PermitDigest computes the EIP-712 digest the token owner signs to authorize
// a zero-gas allowance for the escrow contract.
func PermitDigest(domain PermitDomain, owner, spender common.Address, value, nonce, deadline *big.Int) []byte {
	domainSeparator := crypto.Keccak256(
		eip712DomainTypeHash,
		crypto.Keccak256([]byte(domain.Name)),
		crypto.Keccak256([]byte(domain.Version)),
		padUint256(big.NewInt(domain.ChainID)),
		padAddress(domain.VerifyingContract),
	)
	structHash := crypto.Keccak256(
		permitTypeHash,
		padAddress(owner),
		padAddress(spender),
		padUint256(value),
		padUint256(nonce),
		padUint256(deadline),
	)
	return crypto.Keccak256([]byte("\x19\x01"), domainSeparator, structHash)
}

// SplitPermitSignature breaks a 65-byte secp256k1 signature into the (v, r, s)
// form the permit entrypoint expects.
func SplitPermitSignature(sig []byte) (v uint8, r, s [32]byte) {
	copy(r[:], sig[:32])
	copy(s[:], sig[32:64])
	v = sig[64]
	if v < 27 {
		v += 27
	}
	return v, r, s
}
