// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backendsql

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the version this binary's migrations bring a fresh or
// existing database up to. It is recorded in memory_schema_version so a
// later binary can detect a downgrade or a partially-applied migration.
const schemaVersion = 1

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS memory_schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_events (
    id VARCHAR(64) PRIMARY KEY,
    entity_id VARCHAR(255) NOT NULL,
    slot_key VARCHAR(255) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    value TEXT,
    source INTEGER NOT NULL,
    privacy_level VARCHAR(16) NOT NULL DEFAULT 'private',
    layer VARCHAR(16) NOT NULL DEFAULT 'working',
    confidence REAL NOT NULL,
    importance REAL NOT NULL,
    provenance TEXT,
    retention_tier VARCHAR(16) NOT NULL DEFAULT 'working',
    retention_expires_at TIMESTAMP,
    supersedes_event_id VARCHAR(64),
    occurred_at TIMESTAMP,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_events_entity_slot ON memory_events(entity_id, slot_key);
CREATE INDEX IF NOT EXISTS idx_memory_events_recorded ON memory_events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_memory_events_retention_expires
    ON memory_events(retention_expires_at)
    WHERE retention_expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS belief_slots (
    entity_id VARCHAR(255) NOT NULL,
    slot_key VARCHAR(255) NOT NULL,
    value TEXT,
    source INTEGER NOT NULL,
    privacy_level VARCHAR(16) NOT NULL DEFAULT 'private',
    layer VARCHAR(16) NOT NULL DEFAULT 'working',
    confidence REAL NOT NULL,
    importance REAL NOT NULL,
    provenance TEXT,
    retention_tier VARCHAR(16) NOT NULL DEFAULT 'working',
    retention_expires_at TIMESTAMP,
    winner_event_id VARCHAR(64),
    occurred_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_id, slot_key)
);

CREATE TABLE IF NOT EXISTS retrieval_docs (
    entity_id VARCHAR(255) NOT NULL,
    slot_key VARCHAR(255) NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB,
    source INTEGER NOT NULL,
    visibility VARCHAR(16) NOT NULL DEFAULT 'private',
    layer VARCHAR(16) NOT NULL DEFAULT 'working',
    confidence REAL NOT NULL,
    importance REAL NOT NULL,
    contradiction_penalty REAL NOT NULL DEFAULT 0,
    embedding_status VARCHAR(16) NOT NULL DEFAULT 'pending',
    provenance TEXT,
    retention_tier VARCHAR(16) NOT NULL DEFAULT 'working',
    retention_expires_at TIMESTAMP,
    occurred_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_id, slot_key)
);

CREATE INDEX IF NOT EXISTS idx_retrieval_docs_retention_expires
    ON retrieval_docs(retention_expires_at)
    WHERE retention_expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS deletion_ledger (
    id VARCHAR(64) PRIMARY KEY,
    entity_id VARCHAR(255) NOT NULL,
    slot_key VARCHAR(255) NOT NULL,
    mode VARCHAR(16) NOT NULL,
    reason TEXT,
    requestor VARCHAR(255),
    executed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deletion_ledger_entity_slot ON deletion_ledger(entity_id, slot_key);

CREATE TABLE IF NOT EXISTS embedding_cache (
    content_hash VARCHAR(16) PRIMARY KEY,
    embedding BLOB NOT NULL
);
`

// sqliteFTSSQL enables FTS5-backed BM25 keyword search, queried by
// Store.keywordSubSearch in store.go. It is only applied for the sqlite
// dialect; postgres and mysql have no FTS5 equivalent, so
// keywordSubSearch falls back there to a per-term LIKE match count
// computed directly against retrieval_docs.
const sqliteFTSSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS retrieval_docs_fts USING fts5(
    entity_id UNINDEXED, slot_key UNINDEXED, content
);

CREATE TRIGGER IF NOT EXISTS retrieval_docs_ai AFTER INSERT ON retrieval_docs BEGIN
    INSERT INTO retrieval_docs_fts(rowid, entity_id, slot_key, content)
    VALUES (new.rowid, new.entity_id, new.slot_key, new.content);
END;

CREATE TRIGGER IF NOT EXISTS retrieval_docs_ad AFTER DELETE ON retrieval_docs BEGIN
    DELETE FROM retrieval_docs_fts WHERE rowid = old.rowid;
END;

CREATE TRIGGER IF NOT EXISTS retrieval_docs_au AFTER UPDATE ON retrieval_docs BEGIN
    DELETE FROM retrieval_docs_fts WHERE rowid = old.rowid;
    INSERT INTO retrieval_docs_fts(rowid, entity_id, slot_key, content)
    VALUES (new.rowid, new.entity_id, new.slot_key, new.content);
END;
`

// runMigrations creates the schema if absent and records the schema
// version. It refuses to proceed if it finds a version row newer than
// what this binary knows how to read — a forward-incompatible downgrade
// is rejected rather than silently corrupting data.
func runMigrations(db *sql.DB, dialect string) error {
	if _, err := db.Exec(createTablesSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if dialect == "sqlite" {
		if _, err := db.Exec(sqliteFTSSQL); err != nil {
			return fmt.Errorf("create fts index: %w", err)
		}
	}

	row := db.QueryRow(`SELECT version FROM memory_schema_version LIMIT 1`)
	var existing int
	switch err := row.Scan(&existing); err {
	case sql.ErrNoRows:
		if _, err := db.Exec(rebind(dialect, `INSERT INTO memory_schema_version (version) VALUES (?)`), schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case nil:
		if existing > schemaVersion {
			return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", existing, schemaVersion)
		}
	default:
		return fmt.Errorf("read schema version: %w", err)
	}
	return nil
}
