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
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

const (
	embeddingStatusPending = "pending"
	embeddingStatusReady   = "ready"
)

// ListPendingEmbeddings returns retrieval docs still awaiting an
// embedding, oldest first, for the backfill worker to drain.
func (s *Store) ListPendingEmbeddings(ctx context.Context, limit int) ([]memory.RetrievalDoc, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT entity_id, slot_key, content, occurred_at, updated_at
		FROM retrieval_docs WHERE embedding_status != ? ORDER BY updated_at ASC LIMIT ?`,
		embeddingStatusReady, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending embeddings: %w", err)
	}
	defer rows.Close()

	var docs []memory.RetrievalDoc
	for rows.Next() {
		var doc memory.RetrievalDoc
		var occurredAt sql.NullTime
		if err := rows.Scan(&doc.EntityID, &doc.SlotKey, &doc.Content, &occurredAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending embedding: %w", err)
		}
		if occurredAt.Valid {
			doc.OccurredAt = occurredAt.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// StoreEmbedding writes a computed embedding onto a retrieval doc and
// flips its status to ready, so the vector sub-search starts covering
// it. The external index, when configured, is updated best-effort —
// the BLOB column stays the source of truth.
func (s *Store) StoreEmbedding(ctx context.Context, entityID, slotKey string, embedding []float32) error {
	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.exec(ctx, `UPDATE retrieval_docs SET embedding = ?, embedding_status = ?, updated_at = ?
		WHERE entity_id = ? AND slot_key = ?`,
		encoded, embeddingStatusReady, time.Now(), entityID, slotKey)
	if err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// The doc was forgotten or superseded away between enqueue and
		// now; nothing to backfill.
		return nil
	}

	if s.index != nil {
		_ = s.index.Upsert(ctx, docVectorID(entityID, slotKey), embedding, map[string]any{
			"entity_id": entityID,
			"slot_key":  slotKey,
		})
	}
	return nil
}

// CachedEmbedding looks up a previously computed embedding by content
// hash; a miss is (nil, nil).
func (s *Store) CachedEmbedding(ctx context.Context, contentHash string) ([]float32, error) {
	var blob []byte
	err := s.queryRow(ctx, `SELECT embedding FROM embedding_cache WHERE content_hash = ?`, contentHash).Scan(&blob)
	switch err {
	case nil:
		return decodeEmbedding(blob), nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
}

// CacheEmbedding stores a computed embedding under its content hash. A
// duplicate insert for a hash already present is a no-op.
func (s *Store) CacheEmbedding(ctx context.Context, contentHash string, embedding []float32) error {
	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	insert := `INSERT INTO embedding_cache (content_hash, embedding) VALUES (?, ?)`
	switch s.dialect {
	case "postgres", "sqlite":
		insert += ` ON CONFLICT (content_hash) DO NOTHING`
	default: // mysql
		insert += ` ON DUPLICATE KEY UPDATE content_hash = content_hash`
	}
	if _, err := s.exec(ctx, insert, contentHash, encoded); err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	return nil
}
