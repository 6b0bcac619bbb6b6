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
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/settldhq/settld/internal/apierror"
	"github.com/settldhq/settld/internal/request"
)

const (
	rpcCallTimeout = 30 * time.Second
	rpcMaxRetries  = 2
)

// RPCClient is the single JSON-RPC abstraction all blockchain reads and
// writes go through. Each call tries the primary endpoint first, then the
// fixed fallback list in order; the first endpoint that answers without an
// error wins, and the last error is propagated if all fail.
type RPCClient struct {
	endpoints []string
}

// NewRPCClient builds a client over the primary endpoint plus fallbacks.
func NewRPCClient(primary string, fallbacks []string) *RPCClient {
	endpoints := make([]string, 0, len(fallbacks)+1)
	if primary != "" {
		endpoints = append(endpoints, primary)
	}
	endpoints = append(endpoints, fallbacks...)
	return &RPCClient{endpoints: endpoints}
}

type rpcRequest struct {
	JsonRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JsonRpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call executes a JSON-RPC method, failing over across the endpoint list and
// retrying each endpoint a bounded number of times. All providers failing is
// surfaced as an RPC_FAILURE, the retryable 502-equivalent.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if len(c.endpoints) == 0 {
		return apierror.NewAPIError(apierror.ErrRpcFailure, "No RPC endpoints configured", nil)
	}

	var lastErr error
	for _, endpoint := range c.endpoints {
		operation := func() error {
			return c.callEndpoint(ctx, endpoint, method, params, result)
		}
		retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), rpcMaxRetries), ctx)
		err := backoff.Retry(operation, retry)
		if err == nil {
			return nil
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{"method": method, "endpoint": endpoint}).
			Warnf("rpc endpoint failed, failing over: %v", RedactSecrets(err.Error()))
	}
	return apierror.NewAPIError(apierror.ErrRpcFailure,
		fmt.Sprintf("All RPC providers failed for %s: %s", method, RedactSecrets(lastErr.Error())), lastErr)
}

func (c *RPCClient) callEndpoint(ctx context.Context, endpoint, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	payload, err := request.ToJsonReq(&rpcRequest{JsonRpc: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return backoff.Permanent(err)
	}

	var resp rpcResponse
	httpResp, err := request.CallWithTimeout(req, &resp, rpcCallTimeout)
	if err != nil {
		return err
	}
	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", httpResp.StatusCode)
	}
	if resp.Error != nil {
		// Node-level errors (reverts, bad params) will not heal on retry.
		return backoff.Permanent(resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return backoff.Permanent(err)
		}
	}
	return nil
}

// RPCTransaction is the wire shape of eth_getTransactionByHash.
type RPCTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Input       hexutil.Bytes   `json:"input"`
	Value       *hexutil.Big    `json:"value"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

// RPCReceipt is the subset of eth_getTransactionReceipt settlement needs.
type RPCReceipt struct {
	TransactionHash common.Hash  `json:"transactionHash"`
	Status          hexutil.Uint `json:"status"`
	BlockNumber     *hexutil.Big `json:"blockNumber"`
}

// TransactionByHash fetches a transaction; a null result means not found.
func (c *RPCClient) TransactionByHash(ctx context.Context, txHash string) (*RPCTransaction, error) {
	var tx *RPCTransaction
	if err := c.Call(ctx, "eth_getTransactionByHash", []interface{}{txHash}, &tx); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction %s not found on chain", txHash), nil)
	}
	return tx, nil
}

// TransactionReceipt fetches a receipt; a null result means the transaction
// is unknown or not yet mined.
func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (*RPCReceipt, error) {
	var receipt *RPCReceipt
	if err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Receipt for %s not found on chain", txHash), nil)
	}
	return receipt, nil
}

// PendingNonce returns the treasury account's next nonce including pending txs.
func (c *RPCClient) PendingNonce(ctx context.Context, address common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	err := c.Call(ctx, "eth_getTransactionCount", []interface{}{address.Hex(), "pending"}, &nonce)
	if err != nil {
		return 0, err
	}
	return uint64(nonce), nil
}

// GasPrice returns the network's current gas price suggestion.
func (c *RPCClient) GasPrice(ctx context.Context) (*hexutil.Big, error) {
	var price hexutil.Big
	if err := c.Call(ctx, "eth_gasPrice", nil, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// SendRawTransaction broadcasts a signed transaction and returns its hash.
func (c *RPCClient) SendRawTransaction(ctx context.Context, rawTx hexutil.Bytes) (string, error) {
	var txHash common.Hash
	if err := c.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTx.String()}, &txHash); err != nil {
		return "", err
	}
	return txHash.Hex(), nil
}

// ContractCall executes a read-only eth_call against a contract.
func (c *RPCClient) ContractCall(ctx context.Context, to common.Address, data hexutil.Bytes) (hexutil.Bytes, error) {
	callObj := map[string]string{"to": to.Hex(), "data": data.String()}
	var result hexutil.Bytes
	if err := c.Call(ctx, "eth_call", []interface{}{callObj, "latest"}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// NativeBalance returns the address's native asset balance in wei.
func (c *RPCClient) NativeBalance(ctx context.Context, address common.Address) (*hexutil.Big, error) {
	var balance hexutil.Big
	if err := c.Call(ctx, "eth_getBalance", []interface{}{address.Hex(), "latest"}, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}
