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
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/internal/apierror"
)

func TestRPCCallPrimarySuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":"0x5"}`))

	client := NewRPCClient("https://rpc.primary.test", []string{"https://rpc.fallback.test"})
	var nonce hexutil.Uint64
	err := client.Call(context.Background(), "eth_getTransactionCount", []interface{}{"0xabc", "pending"}, &nonce)
	assert.NoError(t, err)
	assert.Equal(t, uint64(5), uint64(nonce))

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info["POST https://rpc.fallback.test"])
}

func TestRPCCallFailsOverToFallback(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(503, `upstream unavailable`))
	httpmock.RegisterResponder(http.MethodPost, "https://rpc.fallback.test",
		httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":"0x3b9aca00"}`))

	client := NewRPCClient("https://rpc.primary.test", []string{"https://rpc.fallback.test"})
	price, err := client.GasPrice(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), price.ToInt().Int64())
}

func TestRPCCallAllProvidersFail(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(500, `boom`))
	httpmock.RegisterResponder(http.MethodPost, "https://rpc.fallback.test",
		httpmock.NewStringResponder(500, `boom`))

	client := NewRPCClient("https://rpc.primary.test", []string{"https://rpc.fallback.test"})
	err := client.Call(context.Background(), "eth_gasPrice", nil, nil)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrRpcFailure))
}

func TestRPCCallNodeErrorNotRetried(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))

	client := NewRPCClient("https://rpc.primary.test", nil)
	err := client.Call(context.Background(), "eth_call", nil, nil)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrRpcFailure))
	// A node-level revert is permanent: exactly one request, no retries.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestTransactionByHashNotFound(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://rpc.primary.test",
		httpmock.NewStringResponder(200, `{"jsonrpc":"2.0","id":1,"result":null}`))

	client := NewRPCClient("https://rpc.primary.test", nil)
	_, err := client.TransactionByHash(context.Background(), "0xdeadbeef")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}
