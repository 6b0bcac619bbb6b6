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

// Package chain is the on-chain settlement bridge: token registry, failover
// RPC client, treasury signer, calldata codec and the Settler strategy that
// moves real funds (or simulates the movement in ledger mode).
package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settldhq/settld/internal/apierror"
)

// BaseUnitsPerCent converts internal minor-unit cents to 6-decimal stable
// token base units: 1 cent = 10^6 / 100 = 10,000 base units. This constant
// must not drift; every on-chain amount crosses the boundary through it.
const BaseUnitsPerCent = 10_000

// AssumedEthUsdRate prices native-asset transfers for verification. This is a
// fixed placeholder, not a price oracle, and the reason native amounts get the
// wide tolerance band. TODO: replace with a real price feed before accepting
// native-asset settlement in production.
const AssumedEthUsdRate = 3000

// TokenInfo describes a settlement asset on a specific chain. PermitName and
// PermitVersion are the token's own EIP-712 domain values; both empty means
// the token has no permit entrypoint and deposits fall back to approve.
type TokenInfo struct {
	Symbol        string
	Address       common.Address
	Decimals      int
	Native        bool
	PermitName    string
	PermitVersion string
}

// SupportsPermit reports whether the token exposes an ERC-2612 permit.
func (t TokenInfo) SupportsPermit() bool {
	return t.PermitVersion != ""
}

// tokenRegistry maps chain -> symbol -> token. Contract addresses are fixed
// per chain; an entry missing here is an unsupported asset, not a default.
var tokenRegistry = map[string]map[string]TokenInfo{
	"base": {
		"USDC": {Symbol: "USDC", Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), Decimals: 6, PermitName: "USD Coin", PermitVersion: "2"},
		"USDT": {Symbol: "USDT", Address: common.HexToAddress("0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2"), Decimals: 6},
		"ETH":  {Symbol: "ETH", Decimals: 18, Native: true},
	},
	"ethereum": {
		"USDC": {Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6, PermitName: "USD Coin", PermitVersion: "2"},
		"USDT": {Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6},
		"ETH":  {Symbol: "ETH", Decimals: 18, Native: true},
	},
	"base-sepolia": {
		"USDC": {Symbol: "USDC", Address: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Decimals: 6, PermitName: "USDC", PermitVersion: "2"},
		"ETH":  {Symbol: "ETH", Decimals: 18, Native: true},
	},
}

// ResolveToken maps (chain, symbol) to a concrete token. Unknown combinations
// are a hard validation failure.
func ResolveToken(chain, symbol string) (TokenInfo, error) {
	tokens, ok := tokenRegistry[chain]
	if !ok {
		return TokenInfo{}, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Chain '%s' is not supported for settlement", chain), nil)
	}
	token, ok := tokens[symbol]
	if !ok {
		return TokenInfo{}, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Token '%s' is not supported on chain '%s'", symbol, chain), nil)
	}
	return token, nil
}

// CentsToBaseUnits converts minor-unit cents to stable token base units.
func CentsToBaseUnits(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(BaseUnitsPerCent))
}

// CentsToWei converts minor-unit cents to wei at the assumed rate.
// wei = cents/100 / rate * 10^18, computed in integer arithmetic.
func CentsToWei(cents int64) *big.Int {
	wei := new(big.Int).Mul(big.NewInt(cents), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	wei.Div(wei, big.NewInt(100*AssumedEthUsdRate))
	return wei
}

// WithinBps reports whether actual is within the given basis-point band of
// expected. The band absorbs unit-conversion rounding, never fraud.
func WithinBps(expected, actual *big.Int, bps int64) bool {
	if expected == nil || actual == nil || expected.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(expected, actual)
	diff.Abs(diff)
	// diff * 10000 <= expected * bps
	lhs := new(big.Int).Mul(diff, big.NewInt(10_000))
	rhs := new(big.Int).Mul(expected, big.NewInt(bps))
	return lhs.Cmp(rhs) <= 0
}
