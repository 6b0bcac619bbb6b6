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

package settld

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/settldhq/settld/chain"
	"github.com/settldhq/settld/config"
	"github.com/settldhq/settld/database"
	redis_db "github.com/settldhq/settld/internal/redis-db"
)

// DefaultCurrency is the internal ledger currency; all amounts are integer
// minor-unit cents.
const DefaultCurrency = "USD"

// Settld is the settlement core: the balance ledger, the escrow state
// machine, the on-chain bridge and the trust tracker behind one surface.
type Settld struct {
	store   database.ISettlementStore
	settler chain.Settler
	rpc     *chain.RPCClient
	queue   *Queue
	redis   redis.UniversalClient
	conf    *config.Configuration
}

// NewSettld initializes the settlement core from the loaded configuration:
// Redis client, task queue, and the settler strategy the chain mode asks for.
func NewSettld(store database.ISettlementStore) (*Settld, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	settler, err := chain.NewSettler(configuration.Chain, configuration.TreasuryPrivateKey())
	if err != nil {
		return nil, err
	}

	return &Settld{
		store:   store,
		settler: settler,
		rpc:     chain.NewRPCClient(configuration.Chain.RpcUrl, configuration.Chain.FallbackRpcUrls),
		queue:   NewQueue(configuration),
		redis:   redisClient.Client(),
		conf:    configuration,
	}, nil
}

// Settler exposes the active settlement strategy, used by callers that need
// to pre-flight approvals before asking for a deposit.
func (s *Settld) Settler() chain.Settler {
	return s.settler
}
