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
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settldhq/settld/config"
	"github.com/settldhq/settld/internal/apierror"
)

func TestNewSettlerLedgerMode(t *testing.T) {
	settler, err := NewSettler(config.ChainConfig{Mode: config.ModeLedger}, "")
	assert.NoError(t, err)
	assert.IsType(t, &SimulatedSettler{}, settler)
}

func TestNewSettlerOnchainModeKeyMismatch(t *testing.T) {
	cfg := config.ChainConfig{
		Mode:            config.ModeOnchain,
		Chain:           "base",
		ChainID:         8453,
		RpcUrl:          "https://rpc.primary.test",
		TreasuryAddress: "0x0000000000000000000000000000000000000009",
		EscrowContract:  "0x0000000000000000000000000000000000000002",
		TokenSymbol:     "USDC",
	}
	_, err := NewSettler(cfg, testKeyHex)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConfigMismatch))
}

func TestSimulatedSettlerDeterministic(t *testing.T) {
	settler := &SimulatedSettler{}
	ctx := context.Background()
	depositor := common.HexToAddress(testAddress)

	h1, err := settler.Deposit(ctx, "deal_1", depositor, 4000)
	assert.NoError(t, err)
	h2, err := settler.Deposit(ctx, "deal_1", depositor, 4000)
	assert.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "0x"))
	assert.Len(t, h1, 66)

	// Different operations on the same deal yield different hashes.
	release, err := settler.Release(ctx, "deal_1", depositor)
	assert.NoError(t, err)
	refund, err := settler.Refund(ctx, "deal_1")
	assert.NoError(t, err)
	assert.NotEqual(t, h1, release)
	assert.NotEqual(t, release, refund)
}

func TestSimulatedSettlerNeverNeedsApproval(t *testing.T) {
	settler := &SimulatedSettler{}
	needs, err := settler.NeedsApproval(context.Background(), common.HexToAddress(testAddress), 1_000_000)
	assert.NoError(t, err)
	assert.False(t, needs)
}

func TestSimulatedSettlerTreasuryDeposit(t *testing.T) {
	settler := &SimulatedSettler{}
	ctx := context.Background()

	h1, err := settler.DepositFromTreasury(ctx, "deal_1", 4000)
	assert.NoError(t, err)
	h2, err := settler.DepositFromTreasury(ctx, "deal_1", 4000)
	assert.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 66)

	// Treasury deposits hash differently from direct deposits on the same deal.
	direct, err := settler.Deposit(ctx, "deal_1", common.HexToAddress(testAddress), 4000)
	assert.NoError(t, err)
	assert.NotEqual(t, h1, direct)
}

func newTestOnchainSettler(t *testing.T) *OnchainSettler {
	t.Helper()
	signer, err := NewTreasurySigner(testKeyHex, testAddress, 8453)
	require.NoError(t, err)
	token, err := ResolveToken("base", "USDC")
	require.NoError(t, err)
	return &OnchainSettler{
		rpc:    NewRPCClient("https://rpc.primary.test", nil),
		signer: signer,
		escrow: common.HexToAddress("0x0000000000000000000000000000000000000002"),
		token:  token,
	}
}

func TestOnchainDepositFromTreasuryPermit(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	settler := newTestOnchainSettler(t)

	var rawTx []byte
	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test", func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		payload := string(body)
		var result string
		switch {
		case strings.Contains(payload, "eth_call") && strings.Contains(payload, hexutil.Encode(balanceOfSelector)):
			result = `"` + hexutil.Encode(padUint256(CentsToBaseUnits(1_000_000))) + `"`
		case strings.Contains(payload, "eth_call") && strings.Contains(payload, hexutil.Encode(noncesSelector)):
			result = `"` + hexutil.Encode(make([]byte, 32)) + `"`
		case strings.Contains(payload, "eth_getTransactionCount"):
			result = `"0x0"`
		case strings.Contains(payload, "eth_gasPrice"):
			result = `"0x1"`
		case strings.Contains(payload, "eth_sendRawTransaction"):
			var rpcReq struct {
				Params []string `json:"params"`
			}
			if err := json.Unmarshal(body, &rpcReq); err != nil {
				return nil, err
			}
			rawTx, err = hexutil.Decode(rpcReq.Params[0])
			if err != nil {
				return nil, err
			}
			result = `"0x` + strings.Repeat("9", 64) + `"`
		default:
			return httpmock.NewStringResponse(400, "unexpected method"), nil
		}
		return httpmock.NewStringResponse(200, `{"jsonrpc":"2.0","id":1,"result":`+result+`}`), nil
	})

	txHash, err := settler.DepositFromTreasury(context.Background(), "deal_1", 4_000)
	require.NoError(t, err)
	assert.Len(t, txHash, 66)
	require.NotEmpty(t, rawTx)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(rawTx))
	require.NotNil(t, tx.To())
	assert.Equal(t, settler.escrow, *tx.To())

	// Calldata: selector then dealKey, depositor, amount, deadline, v, r, s.
	data := tx.Data()
	require.Greater(t, len(data), 4)
	assert.Equal(t, depositPermitSelector, data[:4])
	words := data[4:]
	require.Len(t, words, 7*32)
	dealKey := DealKey("deal_1")
	assert.Equal(t, dealKey[:], words[:32])
	assert.Equal(t, settler.signer.Address(), common.BytesToAddress(words[32+12:64]))
	amount := new(big.Int).SetBytes(words[64:96])
	assert.Equal(t, CentsToBaseUnits(4_000), amount)

	// The embedded permit signature recovers to the treasury address.
	deadline := new(big.Int).SetBytes(words[96:128])
	v := words[128+31]
	domain := PermitDomain{
		Name:              settler.token.PermitName,
		Version:           settler.token.PermitVersion,
		ChainID:           8453,
		VerifyingContract: settler.token.Address,
	}
	digest := PermitDigest(domain, settler.signer.Address(), settler.escrow, amount, big.NewInt(0), deadline)
	sig := make([]byte, 65)
	copy(sig[:32], words[160:192])
	copy(sig[32:64], words[192:224])
	sig[64] = v - 27
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, settler.signer.Address(), crypto.PubkeyToAddress(*pub))
}

func TestOnchainDepositFromTreasuryInsufficientBalance(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	settler := newTestOnchainSettler(t)
	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(200,
			`{"jsonrpc":"2.0","id":1,"result":"`+hexutil.Encode(padUint256(CentsToBaseUnits(3_999)))+`"}`))

	_, err := settler.DepositFromTreasury(context.Background(), "deal_1", 4_000)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientFunds))
	// Nothing was signed or broadcast, only the balance read went out.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestOnchainEscrowedAmount(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	settler := newTestOnchainSettler(t)
	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(200,
			`{"jsonrpc":"2.0","id":1,"result":"`+hexutil.Encode(padUint256(big.NewInt(25_000_000)))+`"}`))

	remaining, err := settler.EscrowedAmount(context.Background(), "deal_1")
	require.NoError(t, err)
	assert.Equal(t, int64(25_000_000), remaining.Int64())
}
