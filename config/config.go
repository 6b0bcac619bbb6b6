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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Settlement modes. Ledger mode simulates all on-chain calls; onchain mode
// moves real funds through the escrow contract.
const (
	ModeLedger  = "ledger"
	ModeOnchain = "onchain"
)

var ConfigStore atomic.Value

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"SETTLD_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"SETTLD_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookQueue        string `json:"webhook_queue" envconfig:"SETTLD_QUEUE_WEBHOOK"`
	ReconciliationQueue string `json:"reconciliation_queue" envconfig:"SETTLD_QUEUE_RECONCILIATION"`
	MaxRetryAttempts    int    `json:"max_retry_attempts" envconfig:"SETTLD_QUEUE_MAX_RETRY_ATTEMPTS"`
}

// ChainConfig is the immutable on-chain settlement configuration handed to the
// bridge at construction. The private key is only ever referenced through the
// named environment variable, never stored in the config file.
type ChainConfig struct {
	Mode               string   `json:"mode" envconfig:"SETTLD_CHAIN_MODE"`
	Chain              string   `json:"chain" envconfig:"SETTLD_CHAIN_NAME"`
	ChainID            int64    `json:"chain_id" envconfig:"SETTLD_CHAIN_ID"`
	RpcUrl             string   `json:"rpc_url" envconfig:"SETTLD_CHAIN_RPC_URL"`
	FallbackRpcUrls    []string `json:"fallback_rpc_urls" envconfig:"SETTLD_CHAIN_FALLBACK_RPC_URLS"`
	TreasuryAddress    string   `json:"treasury_address" envconfig:"SETTLD_CHAIN_TREASURY_ADDRESS"`
	TreasuryKeyEnv     string   `json:"treasury_key_env" envconfig:"SETTLD_CHAIN_TREASURY_KEY_ENV"`
	EscrowContract     string   `json:"escrow_contract" envconfig:"SETTLD_CHAIN_ESCROW_CONTRACT"`
	TokenContract      string   `json:"token_contract" envconfig:"SETTLD_CHAIN_TOKEN_CONTRACT"`
	TokenSymbol        string   `json:"token_symbol" envconfig:"SETTLD_CHAIN_TOKEN_SYMBOL"`
	PlatformFeeBps     int64    `json:"platform_fee_bps" envconfig:"SETTLD_CHAIN_PLATFORM_FEE_BPS"`
	ConfirmationCount  uint64   `json:"confirmation_count" envconfig:"SETTLD_CHAIN_CONFIRMATIONS"`
	FaucetCooldownHrs  int      `json:"faucet_cooldown_hours" envconfig:"SETTLD_CHAIN_FAUCET_COOLDOWN_HOURS"`
}

type ReconciliationConfig struct {
	BatchSize            int    `json:"batch_size" envconfig:"SETTLD_RECONCILIATION_BATCH_SIZE"`
	OverdueSchedule      string `json:"overdue_schedule" envconfig:"SETTLD_RECONCILIATION_OVERDUE_SCHEDULE"`
	EscrowExpirySchedule string `json:"escrow_expiry_schedule" envconfig:"SETTLD_RECONCILIATION_ESCROW_SCHEDULE"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName    string               `json:"project_name" envconfig:"SETTLD_PROJECT_NAME"`
	DataSource     DataSourceConfig     `json:"data_source"`
	Redis          RedisConfig          `json:"redis"`
	Queue          QueueConfig          `json:"queue"`
	Chain          ChainConfig          `json:"chain"`
	Reconciliation ReconciliationConfig `json:"reconciliation"`
	Notification   Notification         `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("settld", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called settld.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Settld Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "new:webhook"
	}
	if cnf.Queue.ReconciliationQueue == "" {
		cnf.Queue.ReconciliationQueue = "reconciliation"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 3
	}

	if cnf.Chain.Mode == "" {
		log.Println("Warning: Chain mode not specified. Defaulting to ledger (simulated) mode.")
		cnf.Chain.Mode = ModeLedger
	}
	if cnf.Chain.Mode != ModeLedger && cnf.Chain.Mode != ModeOnchain {
		return errors.New("chain mode must be either ledger or onchain")
	}
	if cnf.Chain.Mode == ModeOnchain {
		if cnf.Chain.RpcUrl == "" {
			return errors.New("chain rpc url is required in onchain mode")
		}
		if cnf.Chain.TreasuryAddress == "" {
			return errors.New("treasury address is required in onchain mode")
		}
		if cnf.Chain.TreasuryKeyEnv == "" {
			return errors.New("treasury key environment variable name is required in onchain mode")
		}
		if cnf.Chain.EscrowContract == "" {
			return errors.New("escrow contract address is required in onchain mode")
		}
	}
	if cnf.Chain.Chain == "" {
		cnf.Chain.Chain = "base"
	}
	if cnf.Chain.TokenSymbol == "" {
		cnf.Chain.TokenSymbol = "USDC"
	}
	if cnf.Chain.ConfirmationCount == 0 {
		cnf.Chain.ConfirmationCount = 1
	}
	if cnf.Chain.FaucetCooldownHrs <= 0 {
		cnf.Chain.FaucetCooldownHrs = 24
	}

	if cnf.Reconciliation.BatchSize <= 0 {
		cnf.Reconciliation.BatchSize = 50
	}
	if cnf.Reconciliation.OverdueSchedule == "" {
		cnf.Reconciliation.OverdueSchedule = "@every 5m"
	}
	if cnf.Reconciliation.EscrowExpirySchedule == "" {
		cnf.Reconciliation.EscrowExpirySchedule = "@every 10m"
	}

	return nil
}

// TreasuryPrivateKey reads the treasury signing key from the configured
// environment variable. The raw material is never logged.
func (cnf *Configuration) TreasuryPrivateKey() string {
	if cnf.Chain.TreasuryKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(cnf.Chain.TreasuryKeyEnv))
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
