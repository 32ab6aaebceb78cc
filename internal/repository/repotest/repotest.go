// Package repotest opens a throwaway SQLite database carrying the hookrelay schema.
package repotest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Schema mirrors migrations/001_init.sql with SQLite column types.
const Schema = `
CREATE TABLE webhook_subscriptions (
    id                   TEXT     NOT NULL PRIMARY KEY,
    tenant_id            TEXT     NOT NULL,
    url                  TEXT     NOT NULL,
    events               TEXT     NOT NULL,
    status               TEXT     NOT NULL DEFAULT 'active',
    secret               TEXT     NOT NULL DEFAULT '',
    headers              TEXT     NULL,
    filters              TEXT     NULL,
    max_retries          INTEGER  NOT NULL DEFAULT 3,
    timeout_ms           INTEGER  NOT NULL DEFAULT 5000,
    total_attempts       INTEGER  NOT NULL DEFAULT 0,
    successful_attempts  INTEGER  NOT NULL DEFAULT 0,
    failed_attempts      INTEGER  NOT NULL DEFAULT 0,
    consecutive_failures INTEGER  NOT NULL DEFAULT 0,
    last_triggered_at    DATETIME NULL,
    last_success_at      DATETIME NULL,
    last_failure_at      DATETIME NULL,
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL
);
CREATE TABLE webhook_subscription_events (
    subscription_id TEXT NOT NULL,
    event           TEXT NOT NULL,
    PRIMARY KEY (subscription_id, event)
);
CREATE TABLE webhook_attempts (
    id               TEXT     NOT NULL PRIMARY KEY,
    subscription_id  TEXT     NOT NULL,
    tenant_id        TEXT     NOT NULL,
    event            TEXT     NOT NULL,
    payload          TEXT     NOT NULL,
    url              TEXT     NOT NULL,
    attempt_number   INTEGER  NOT NULL,
    status           TEXT     NOT NULL DEFAULT 'pending',
    http_status      INTEGER  NULL,
    response_body    TEXT     NULL,
    response_headers TEXT     NULL,
    error_message    TEXT     NULL,
    duration_ms      INTEGER  NULL,
    created_at       DATETIME NOT NULL,
    completed_at     DATETIME NULL
);
`

// Open creates a fresh database under t.TempDir and applies Schema.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "hookrelay.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}
