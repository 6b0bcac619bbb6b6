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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/settldhq/settld/internal/apierror"
)

// Method selectors for the ERC-20 and escrow contract surface. Each is the
// first four bytes of the keccak hash of the canonical signature.
var (
	transferSelector       = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	approveSelector        = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
	allowanceSelector      = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	balanceOfSelector      = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	noncesSelector         = crypto.Keccak256([]byte("nonces(address)"))[:4]
	depositToDealSelector  = crypto.Keccak256([]byte("depositToDeal(bytes32,uint256)"))[:4]
	depositPermitSelector  = crypto.Keccak256([]byte("depositOnBehalfWithPermit(bytes32,address,uint256,uint256,uint8,bytes32,bytes32)"))[:4]
	releaseToDealSelector  = crypto.Keccak256([]byte("releaseToDeal(bytes32,address)"))[:4]
	refundDealSelector     = crypto.Keccak256([]byte("refundDeal(bytes32)"))[:4]
	withdrawableSelector   = crypto.Keccak256([]byte("getWithdrawableBalance(address)"))[:4]
	getDealSelector        = crypto.Keccak256([]byte("getDeal(bytes32)"))[:4]
)

// DealKey derives the contract's 32-byte deal identifier from the external
// deal id. Deterministic so both sides always agree on the key.
func DealKey(dealID string) [32]byte {
	var key [32]byte
	copy(key[:], crypto.Keccak256([]byte(dealID)))
	return key
}

func padAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func padUint256(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encodeCall(selector []byte, args ...[]byte) []byte {
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, arg...)
	}
	return data
}

// EncodeTransfer builds transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	return encodeCall(transferSelector, padAddress(to), padUint256(amount))
}

// EncodeApprove builds approve(spender, amount) calldata.
func EncodeApprove(spender common.Address, amount *big.Int) []byte {
	return encodeCall(approveSelector, padAddress(spender), padUint256(amount))
}

// EncodeAllowance builds allowance(owner, spender) calldata.
func EncodeAllowance(owner, spender common.Address) []byte {
	return encodeCall(allowanceSelector, padAddress(owner), padAddress(spender))
}

// EncodeBalanceOf builds balanceOf(owner) calldata.
func EncodeBalanceOf(owner common.Address) []byte {
	return encodeCall(balanceOfSelector, padAddress(owner))
}

// EncodeNonces builds nonces(owner) calldata for permit sequencing.
func EncodeNonces(owner common.Address) []byte {
	return encodeCall(noncesSelector, padAddress(owner))
}

// EncodeDepositToDeal builds depositToDeal(dealKey, amount) calldata.
func EncodeDepositToDeal(dealKey [32]byte, amount *big.Int) []byte {
	return encodeCall(depositToDealSelector, dealKey[:], padUint256(amount))
}

// EncodeDepositOnBehalfWithPermit builds the zero-gas deposit path: the
// depositor's EIP-712 permit signature travels inside the calldata and the
// treasury pays the gas.
func EncodeDepositOnBehalfWithPermit(dealKey [32]byte, depositor common.Address, amount, deadline *big.Int, v uint8, r, s [32]byte) []byte {
	return encodeCall(depositPermitSelector,
		dealKey[:], padAddress(depositor), padUint256(amount), padUint256(deadline),
		common.LeftPadBytes([]byte{v}, 32), r[:], s[:])
}

// EncodeReleaseToDeal builds releaseToDeal(dealKey, recipient) calldata. The
// contract splits the platform fee from the recipient's share internally.
func EncodeReleaseToDeal(dealKey [32]byte, recipient common.Address) []byte {
	return encodeCall(releaseToDealSelector, dealKey[:], padAddress(recipient))
}

// EncodeRefundDeal builds refundDeal(dealKey) calldata.
func EncodeRefundDeal(dealKey [32]byte) []byte {
	return encodeCall(refundDealSelector, dealKey[:])
}

// EncodeGetWithdrawableBalance builds getWithdrawableBalance(owner) calldata.
func EncodeGetWithdrawableBalance(owner common.Address) []byte {
	return encodeCall(withdrawableSelector, padAddress(owner))
}

// EncodeGetDeal builds getDeal(dealKey) calldata.
func EncodeGetDeal(dealKey [32]byte) []byte {
	return encodeCall(getDealSelector, dealKey[:])
}

// DecodeTransfer extracts the recipient and amount from transfer(address,
// uint256) calldata. Anything that is not exactly that call shape fails.
func DecodeTransfer(input []byte) (common.Address, *big.Int, error) {
	if len(input) != 4+32+32 {
		return common.Address{}, nil, apierror.NewAPIError(apierror.ErrVerificationFailed,
			fmt.Sprintf("Calldata length %d does not match an ERC-20 transfer", len(input)), nil)
	}
	for i := range transferSelector {
		if input[i] != transferSelector[i] {
			return common.Address{}, nil, apierror.NewAPIError(apierror.ErrVerificationFailed,
				"Calldata selector is not transfer(address,uint256)", nil)
		}
	}
	to := common.BytesToAddress(input[4+12 : 4+32])
	amount := new(big.Int).SetBytes(input[4+32 : 4+64])
	return to, amount, nil
}

// DecodeUint256 reads a single uint256 return value from an eth_call result.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Contract returned %d bytes, expected a uint256", len(data)), nil)
	}
	return new(big.Int).SetBytes(data[:32]), nil
}
