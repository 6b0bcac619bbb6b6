package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/settldhq/settld/cache"
	"github.com/settldhq/settld/config"
)

// Package-level singleton so workers and the service share one pool.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (ISettlementStore, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache initialization failed, continuing without cache: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres connection")
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, errors.Wrap(err, "pinging postgres")
	}
	err = EnsureSchema(db)
	if err != nil {
		return nil, errors.Wrap(err, "ensuring schema")
	}
	return db, nil
}

// EnsureSchema bootstraps the settld schema. Every statement is idempotent so
// it is safe to run on every startup and from the migrate command.
func EnsureSchema(db *sql.DB) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS settld`,
		`CREATE TABLE IF NOT EXISTS settld.balances (
			id SERIAL PRIMARY KEY,
			balance_id TEXT NOT NULL UNIQUE,
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			available BIGINT NOT NULL DEFAULT 0 CHECK (available >= 0),
			pending BIGINT NOT NULL DEFAULT 0 CHECK (pending >= 0),
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB,
			UNIQUE (owner_type, owner_id, currency)
		)`,
		`CREATE TABLE IF NOT EXISTS settld.ledger_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			balance_after BIGINT NOT NULL,
			reference_type TEXT,
			reference_id TEXT,
			idempotency_key TEXT UNIQUE,
			description TEXT,
			hash TEXT,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_owner
			ON settld.ledger_entries (owner_type, owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS settld.escrow_holds (
			id SERIAL PRIMARY KEY,
			escrow_id TEXT NOT NULL UNIQUE,
			deal_id TEXT NOT NULL UNIQUE,
			agent_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount >= 0),
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			released_at TIMESTAMP,
			refunded_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settld.payments (
			id SERIAL PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE,
			mission_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			operator_id TEXT,
			payment_type TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			chain TEXT NOT NULL,
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			tx_hash TEXT,
			to_address TEXT,
			deadline_at TIMESTAMP,
			confirmed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (mission_id, payment_type),
			UNIQUE (chain, tx_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS settld.token_ops (
			id SERIAL PRIMARY KEY,
			token_op_id TEXT NOT NULL UNIQUE,
			owner_type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			chain TEXT NOT NULL,
			tx_hash TEXT,
			status TEXT NOT NULL,
			error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS settld.agent_trust (
			agent_id TEXT PRIMARY KEY,
			paid_count BIGINT NOT NULL DEFAULT 0,
			overdue_count BIGINT NOT NULL DEFAULT 0,
			avg_pay_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_suspended_for_overdue BOOLEAN NOT NULL DEFAULT FALSE,
			suspended_until TIMESTAMP,
			last_overdue_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS settld.deals (
			id SERIAL PRIMARY KEY,
			deal_id TEXT NOT NULL UNIQUE,
			agent_id TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS settld.missions (
			id SERIAL PRIMARY KEY,
			mission_id TEXT NOT NULL UNIQUE,
			deal_id TEXT NOT NULL REFERENCES settld.deals(deal_id),
			agent_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payout_deadline_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
