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
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/config"
	"github.com/settldhq/settld/internal/apierror"
)

const contractGasLimit = 250_000

// permitValidity bounds how long a treasury-signed permit stays usable if the
// broadcast is delayed.
const permitValidity = time.Hour

// Settler is the strategy for moving escrowed funds on chain. Ledger mode
// simulates every call with a deterministic placeholder hash; on-chain mode
// signs and broadcasts real transactions. The mode is chosen once at
// construction, never per call.
type Settler interface {
	Deposit(ctx context.Context, dealID string, depositor common.Address, amountCents int64) (string, error)
	DepositWithPermit(ctx context.Context, dealID string, depositor common.Address, amountCents int64, deadline *big.Int, v uint8, r, s [32]byte) (string, error)
	DepositFromTreasury(ctx context.Context, dealID string, amountCents int64) (string, error)
	Release(ctx context.Context, dealID string, recipient common.Address) (string, error)
	Refund(ctx context.Context, dealID string) (string, error)
	NeedsApproval(ctx context.Context, owner common.Address, amountCents int64) (bool, error)
	WithdrawableBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	EscrowedAmount(ctx context.Context, dealID string) (*big.Int, error)
}

// NewSettler builds the settler the configuration asks for. On-chain mode
// fails fast at construction when the signing key does not match the
// configured treasury address.
func NewSettler(cfg config.ChainConfig, treasuryKey string) (Settler, error) {
	if cfg.Mode == config.ModeLedger {
		return &SimulatedSettler{}, nil
	}

	signer, err := NewTreasurySigner(treasuryKey, cfg.TreasuryAddress, cfg.ChainID)
	if err != nil {
		return nil, err
	}
	token, err := ResolveToken(cfg.Chain, cfg.TokenSymbol)
	if err != nil {
		return nil, err
	}
	return &OnchainSettler{
		rpc:    NewRPCClient(cfg.RpcUrl, cfg.FallbackRpcUrls),
		signer: signer,
		escrow: common.HexToAddress(cfg.EscrowContract),
		token:  token,
	}, nil
}

// SimulatedSettler returns immediately with a deterministic placeholder hash,
// used for test and sandbox flows where no chain exists.
type SimulatedSettler struct{}

func simulatedHash(op string, parts ...string) string {
	seed := "sim:" + op + ":" + strings.Join(parts, ":")
	return hexutil.Encode(crypto.Keccak256([]byte(seed)))
}

func (s *SimulatedSettler) Deposit(_ context.Context, dealID string, depositor common.Address, amountCents int64) (string, error) {
	return simulatedHash("deposit", dealID, depositor.Hex(), fmt.Sprintf("%d", amountCents)), nil
}

func (s *SimulatedSettler) DepositWithPermit(_ context.Context, dealID string, depositor common.Address, amountCents int64, _ *big.Int, _ uint8, _, _ [32]byte) (string, error) {
	return simulatedHash("deposit_permit", dealID, depositor.Hex(), fmt.Sprintf("%d", amountCents)), nil
}

func (s *SimulatedSettler) DepositFromTreasury(_ context.Context, dealID string, amountCents int64) (string, error) {
	return simulatedHash("deposit_treasury", dealID, fmt.Sprintf("%d", amountCents)), nil
}

func (s *SimulatedSettler) Release(_ context.Context, dealID string, recipient common.Address) (string, error) {
	return simulatedHash("release", dealID, recipient.Hex()), nil
}

func (s *SimulatedSettler) Refund(_ context.Context, dealID string) (string, error) {
	return simulatedHash("refund", dealID), nil
}

func (s *SimulatedSettler) NeedsApproval(_ context.Context, _ common.Address, _ int64) (bool, error) {
	return false, nil
}

func (s *SimulatedSettler) WithdrawableBalance(_ context.Context, _ common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *SimulatedSettler) EscrowedAmount(_ context.Context, _ string) (*big.Int, error) {
	return big.NewInt(0), nil
}

// OnchainSettler signs real transactions from the treasury account and
// broadcasts them through the failover RPC client.
type OnchainSettler struct {
	rpc    *RPCClient
	signer *TreasurySigner
	escrow common.Address
	token  TokenInfo
}

// sendContractTx builds, signs and broadcasts a contract call from the
// treasury account, returning the transaction hash once the network accepts
// it. Acceptance is broadcast, not confirmation; callers must not credit
// ledger state until the transfer is verified.
func (s *OnchainSettler) sendContractTx(ctx context.Context, to common.Address, data []byte) (string, error) {
	nonce, err := s.rpc.PendingNonce(ctx, s.signer.Address())
	if err != nil {
		return "", err
	}
	gasPrice, err := s.rpc.GasPrice(ctx)
	if err != nil {
		return "", err
	}

	tx := types.NewTransaction(nonce, to, big.NewInt(0), contractGasLimit, gasPrice.ToInt(), data)
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return "", err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to encode signed transaction", err)
	}

	txHash, err := s.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"tx_hash": txHash, "nonce": nonce}).Info("broadcast settlement transaction")
	return txHash, nil
}

func (s *OnchainSettler) Deposit(ctx context.Context, dealID string, depositor common.Address, amountCents int64) (string, error) {
	needs, err := s.NeedsApproval(ctx, depositor, amountCents)
	if err != nil {
		return "", err
	}
	if needs {
		return "", apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Depositor %s has insufficient allowance for deposit of %d cents", depositor.Hex(), amountCents), nil)
	}
	return s.sendContractTx(ctx, s.escrow, EncodeDepositToDeal(DealKey(dealID), CentsToBaseUnits(amountCents)))
}

func (s *OnchainSettler) DepositWithPermit(ctx context.Context, dealID string, depositor common.Address, amountCents int64, deadline *big.Int, v uint8, r, sg [32]byte) (string, error) {
	data := EncodeDepositOnBehalfWithPermit(DealKey(dealID), depositor, CentsToBaseUnits(amountCents), deadline, v, r, sg)
	return s.sendContractTx(ctx, s.escrow, data)
}

// DepositFromTreasury funds a deal from the treasury's own token balance.
// Permit-capable tokens get a treasury-signed EIP-712 permit riding inside the
// deposit calldata, so no separate approval transaction is needed; tokens
// without a permit entrypoint fall back to approve-then-deposit.
func (s *OnchainSettler) DepositFromTreasury(ctx context.Context, dealID string, amountCents int64) (string, error) {
	treasury := s.signer.Address()
	amount := CentsToBaseUnits(amountCents)

	result, err := s.rpc.ContractCall(ctx, s.token.Address, EncodeBalanceOf(treasury))
	if err != nil {
		return "", err
	}
	balance, err := DecodeUint256(result)
	if err != nil {
		return "", err
	}
	if balance.Cmp(amount) < 0 {
		return "", apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("Treasury balance does not cover deposit of %d cents", amountCents), nil)
	}

	if !s.token.SupportsPermit() {
		needs, err := s.NeedsApproval(ctx, treasury, amountCents)
		if err != nil {
			return "", err
		}
		if needs {
			if _, err := s.sendContractTx(ctx, s.token.Address, EncodeApprove(s.escrow, amount)); err != nil {
				return "", err
			}
		}
		return s.sendContractTx(ctx, s.escrow, EncodeDepositToDeal(DealKey(dealID), amount))
	}

	result, err = s.rpc.ContractCall(ctx, s.token.Address, EncodeNonces(treasury))
	if err != nil {
		return "", err
	}
	permitNonce, err := DecodeUint256(result)
	if err != nil {
		return "", err
	}
	deadline := big.NewInt(time.Now().Add(permitValidity).Unix())
	domain := PermitDomain{
		Name:              s.token.PermitName,
		Version:           s.token.PermitVersion,
		ChainID:           s.signer.chainID.Int64(),
		VerifyingContract: s.token.Address,
	}
	digest := PermitDigest(domain, treasury, s.escrow, amount, permitNonce, deadline)
	sig, err := s.signer.SignDigest(digest)
	if err != nil {
		return "", err
	}
	v, r, sg := SplitPermitSignature(sig)
	return s.DepositWithPermit(ctx, dealID, treasury, amountCents, deadline, v, r, sg)
}

func (s *OnchainSettler) Release(ctx context.Context, dealID string, recipient common.Address) (string, error) {
	return s.sendContractTx(ctx, s.escrow, EncodeReleaseToDeal(DealKey(dealID), recipient))
}

func (s *OnchainSettler) Refund(ctx context.Context, dealID string) (string, error) {
	return s.sendContractTx(ctx, s.escrow, EncodeRefundDeal(DealKey(dealID)))
}

// NeedsApproval checks the owner's current on-chain allowance toward the
// escrow contract. Approval is only re-requested when the allowance does not
// cover the deposit, so depositors are not asked for needless signatures.
func (s *OnchainSettler) NeedsApproval(ctx context.Context, owner common.Address, amountCents int64) (bool, error) {
	result, err := s.rpc.ContractCall(ctx, s.token.Address, EncodeAllowance(owner, s.escrow))
	if err != nil {
		return false, err
	}
	allowance, err := DecodeUint256(result)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(CentsToBaseUnits(amountCents)) < 0, nil
}

// WithdrawableBalance reads the owner's withdrawable base units from the
// escrow contract.
func (s *OnchainSettler) WithdrawableBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := s.rpc.ContractCall(ctx, s.escrow, EncodeGetWithdrawableBalance(owner))
	if err != nil {
		return nil, err
	}
	return DecodeUint256(result)
}

// EscrowedAmount reads a deal's remaining escrowed base units from the escrow
// contract. getDeal returns the deal struct; the first word is the remaining
// amount.
func (s *OnchainSettler) EscrowedAmount(ctx context.Context, dealID string) (*big.Int, error) {
	result, err := s.rpc.ContractCall(ctx, s.escrow, EncodeGetDeal(DealKey(dealID)))
	if err != nil {
		return nil, err
	}
	return DecodeUint256(result)
}
