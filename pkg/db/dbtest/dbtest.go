// Package dbtest opens isolated in-memory sqlite databases carrying the
// payment schema, for repository and transaction tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/payrecon/pkg/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  payment_state TEXT NOT NULL DEFAULT 'unpaid',
  paid_at DATETIME,
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payment_ledgers (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  gateway_reference TEXT UNIQUE,
  amount_expected_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'uninitiated',
  confirmation_count INTEGER NOT NULL DEFAULT 0,
  confirmation_channels TEXT NOT NULL DEFAULT '{}',
  last_checked_at DATETIME,
  initiated_at DATETIME,
  terminal_at DATETIME,
  version INTEGER NOT NULL DEFAULT 0,
  history_seq INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payment_ledger_history (
  id TEXT PRIMARY KEY,
  ledger_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  status TEXT NOT NULL,
  source_channel TEXT NOT NULL,
  normalized_status TEXT,
  raw_status_code TEXT,
  amount_cents INTEGER,
  currency TEXT,
  transaction_ref TEXT,
  note TEXT NOT NULL,
  observed_at DATETIME NOT NULL,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payment_ledger_history_seq
  ON payment_ledger_history (ledger_id, seq);`,
	`CREATE TABLE IF NOT EXISTS callback_audits (
  id TEXT PRIMARY KEY,
  reason TEXT NOT NULL,
  gateway_reference TEXT,
  raw_payload TEXT NOT NULL,
  signature TEXT,
  remote_addr TEXT,
  received_at DATETIME NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

// Open returns a fresh database private to the test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), db.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Client wraps Open in a db.Client so WithTx behaves like production.
func Client(t *testing.T) *db.Client {
	t.Helper()
	return db.FromConn(Open(t))
}
