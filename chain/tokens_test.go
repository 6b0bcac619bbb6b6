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

	"github.com/stretchr/testify/assert"

	"github.com/settldhq/settld/internal/apierror"
)

func TestCentsToBaseUnits(t *testing.T) {
	// 1 cent = 10,000 base units of a 6-decimal token.
	assert.Equal(t, int64(10_000), CentsToBaseUnits(1).Int64())
	assert.Equal(t, int64(100_000_000), CentsToBaseUnits(10_000).Int64())
	assert.Equal(t, int64(0), CentsToBaseUnits(0).Int64())
}

func TestResolveToken(t *testing.T) {
	token, err := ResolveToken("base", "USDC")
	assert.NoError(t, err)
	assert.Equal(t, 6, token.Decimals)
	assert.False(t, token.Native)

	native, err := ResolveToken("ethereum", "ETH")
	assert.NoError(t, err)
	assert.True(t, native.Native)
	assert.Equal(t, 18, native.Decimals)
}

func TestResolveTokenUnsupported(t *testing.T) {
	_, err := ResolveToken("dogecoin", "USDC")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))

	_, err = ResolveToken("base", "SHIB")
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestWithinBps(t *testing.T) {
	expected := big.NewInt(1_000_000)

	// 0.1% band for stable tokens.
	assert.True(t, WithinBps(expected, big.NewInt(1_000_000), 10))
	assert.True(t, WithinBps(expected, big.NewInt(999_000), 10))
	assert.True(t, WithinBps(expected, big.NewInt(1_001_000), 10))
	assert.False(t, WithinBps(expected, big.NewInt(998_999), 10))

	// 1% band for native assets priced via the assumed rate.
	assert.True(t, WithinBps(expected, big.NewInt(990_000), 100))
	assert.False(t, WithinBps(expected, big.NewInt(989_999), 100))

	assert.False(t, WithinBps(nil, big.NewInt(1), 10))
	assert.False(t, WithinBps(big.NewInt(0), big.NewInt(0), 10))
}
