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

// Package backendsql implements pkg/memory.Store on top of database/sql,
// supporting SQLite, PostgreSQL, and MySQL through the same dialect-
// switching pattern the session store used for conversation history:
// one query shape, rebound per dialect, rather than three parallel
// implementations. The sqlite dialect's FTS5 keyword index (schema.go)
// requires mattn/go-sqlite3 to be built with the sqlite_fts5 tag
// (go build -tags sqlite_fts5 ./...); without it, migrations fail with
// "no such module: fts5".
package backendsql

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// maxIndexCandidates bounds how many VectorIndex matches RecallScoped pulls
// per call before re-ranking them alongside the keyword score; the index is
// queried per-entity so this is generous relative to any one entity's
// belief-slot count.
const maxIndexCandidates = 1000

// Store is a relational implementation of memory.Store.
type Store struct {
	db      *sql.DB
	dialect string
	index   VectorIndex
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithVectorIndex installs a pluggable VectorIndex (e.g. QdrantIndex) so
// embedding writes and the vector half of RecallScoped's hybrid search are
// delegated to it instead of the in-process BLOB-column cosine scan.
func WithVectorIndex(idx VectorIndex) Option {
	return func(s *Store) { s.index = idx }
}

// New opens a Store against db using the given dialect ("sqlite",
// "postgres", or "mysql") and applies schema migrations.
func New(db *sql.DB, dialect string, opts ...Option) (*Store, error) {
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err := runMigrations(db, dialect); err != nil {
		return nil, err
	}
	s := &Store{db: db, dialect: dialect}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name identifies this backend for revocation-marker text and logging.
func (s *Store) Name() string { return "backendsql" }

func (s *Store) Close() error {
	if s.index != nil {
		_ = s.index.Close()
	}
	return s.db.Close()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

// AppendEvent writes the event to the immutable log, then folds it into
// the slot projection and retrieval index if it supersedes the slot's
// current value. All three writes happen in one transaction so a crash
// mid-way never leaves the projection and the log disagreeing.
func (s *Store) AppendEvent(ctx context.Context, event memory.MemoryEvent) error {
	if err := memory.NormalizeForIngress(&event); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
		INSERT INTO memory_events (id, entity_id, slot_key, kind, value, source, privacy_level, layer, confidence, importance, provenance, retention_tier, retention_expires_at, supersedes_event_id, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, event.EntityID, event.SlotKey, string(event.Kind), event.Value, int(event.Source),
		string(event.Privacy), string(event.Layer), event.Confidence, event.Importance,
		encodeProvenance(event.Provenance), string(event.RetentionTier), nullableTimePtr(event.RetentionExpiresAt),
		nullableString(event.SupersedesEventID), nullableTime(event.OccurredAt), event.RecordedAt,
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	// A contradiction_marked event never wins supersession:
	// it only discounts the targeted slot's existing retrieval doc.
	if event.Kind == memory.EventContradictionMarked {
		penalty := memory.ContradictionPenaltyFor(event.Confidence, event.Importance)
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `
			UPDATE retrieval_docs SET contradiction_penalty = ? WHERE entity_id = ? AND slot_key = ?`),
			penalty, event.EntityID, event.SlotKey,
		); err != nil {
			return fmt.Errorf("mark contradiction: %w", err)
		}
		return tx.Commit()
	}

	current, err := s.resolveSlotTx(ctx, tx, event.EntityID, event.SlotKey)
	if err != nil {
		return err
	}

	var currentEvent memory.MemoryEvent
	if current != nil {
		currentEvent = memory.MemoryEvent{Source: current.Source, OccurredAt: current.OccurredAt}
	}
	if current != nil && !memory.Supersedes(currentEvent, event) {
		return tx.Commit()
	}

	projected := memory.ApplyEvent(current, event)

	if _, err := tx.ExecContext(ctx, rebind(s.dialect, upsertBeliefSlotSQL(s.dialect)),
		projected.EntityID, projected.SlotKey, projected.Value, int(projected.Source),
		string(projected.Privacy), string(projected.Layer), projected.Confidence, projected.Importance,
		encodeProvenance(projected.Provenance), string(projected.RetentionTier), nullableTimePtr(projected.RetentionExpiresAt),
		nullableString(projected.WinnerEventID), nullableTime(projected.OccurredAt), projected.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert belief slot: %w", err)
	}

	if projected.Value == "" {
		if _, err := tx.ExecContext(ctx, rebind(s.dialect, `DELETE FROM retrieval_docs WHERE entity_id = ? AND slot_key = ?`),
			projected.EntityID, projected.SlotKey); err != nil {
			return fmt.Errorf("clear retrieval doc: %w", err)
		}
		return tx.Commit()
	}

	embedded, _ := encodeEmbedding(event.Embedding)
	embeddingStatus := embeddingStatusPending
	if len(event.Embedding) > 0 {
		embeddingStatus = embeddingStatusReady
	}
	if _, err := tx.ExecContext(ctx, rebind(s.dialect, upsertRetrievalDocSQL(s.dialect)),
		projected.EntityID, projected.SlotKey, projected.Value, embedded, int(projected.Source),
		string(projected.Privacy), string(projected.Layer), projected.Confidence, projected.Importance,
		embeddingStatus, encodeProvenance(projected.Provenance), string(projected.RetentionTier),
		nullableTimePtr(projected.RetentionExpiresAt), nullableTime(projected.OccurredAt), projected.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert retrieval doc: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if s.index != nil && len(event.Embedding) > 0 {
		// Best-effort: the BLOB column committed above remains the source of
		// truth, so an index write failure degrades RecallScoped back to the
		// in-process scan for this doc rather than losing it.
		_ = s.index.Upsert(ctx, docVectorID(projected.EntityID, projected.SlotKey), event.Embedding, map[string]any{
			"entity_id": projected.EntityID,
			"slot_key":  projected.SlotKey,
		})
	}

	return nil
}

func upsertBeliefSlotSQL(dialect string) string {
	base := `INSERT INTO belief_slots (entity_id, slot_key, value, source, privacy_level, layer, confidence, importance, provenance, retention_tier, retention_expires_at, winner_event_id, occurred_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	switch dialect {
	case "postgres", "sqlite":
		return base + ` ON CONFLICT (entity_id, slot_key) DO UPDATE SET
			value = EXCLUDED.value, source = EXCLUDED.source, privacy_level = EXCLUDED.privacy_level,
			layer = EXCLUDED.layer, confidence = EXCLUDED.confidence, importance = EXCLUDED.importance,
			provenance = EXCLUDED.provenance, retention_tier = EXCLUDED.retention_tier,
			retention_expires_at = EXCLUDED.retention_expires_at, winner_event_id = EXCLUDED.winner_event_id,
			occurred_at = EXCLUDED.occurred_at, updated_at = EXCLUDED.updated_at`
	default: // mysql
		return base + ` ON DUPLICATE KEY UPDATE
			value = VALUES(value), source = VALUES(source), privacy_level = VALUES(privacy_level),
			layer = VALUES(layer), confidence = VALUES(confidence), importance = VALUES(importance),
			provenance = VALUES(provenance), retention_tier = VALUES(retention_tier),
			retention_expires_at = VALUES(retention_expires_at), winner_event_id = VALUES(winner_event_id),
			occurred_at = VALUES(occurred_at), updated_at = VALUES(updated_at)`
	}
}

// upsertRetrievalDocSQL intentionally does not touch contradiction_penalty
// on conflict: a normal fact update upserts the doc's content/scores but
// leaves a prior contradiction_marked penalty in place (only a fresh
// contradiction_marked event, or a new row insert defaulting to 0, changes
// it — see AppendEvent's special case for EventContradictionMarked).
func upsertRetrievalDocSQL(dialect string) string {
	base := `INSERT INTO retrieval_docs (entity_id, slot_key, content, embedding, source, visibility, layer, confidence, importance, contradiction_penalty, embedding_status, provenance, retention_tier, retention_expires_at, occurred_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`
	switch dialect {
	case "postgres", "sqlite":
		return base + ` ON CONFLICT (entity_id, slot_key) DO UPDATE SET
			content = EXCLUDED.content, embedding = EXCLUDED.embedding, source = EXCLUDED.source,
			visibility = EXCLUDED.visibility, layer = EXCLUDED.layer, confidence = EXCLUDED.confidence,
			importance = EXCLUDED.importance, embedding_status = EXCLUDED.embedding_status,
			provenance = EXCLUDED.provenance, retention_tier = EXCLUDED.retention_tier,
			retention_expires_at = EXCLUDED.retention_expires_at,
			occurred_at = EXCLUDED.occurred_at, updated_at = EXCLUDED.updated_at`
	default: // mysql
		return base + ` ON DUPLICATE KEY UPDATE
			content = VALUES(content), embedding = VALUES(embedding), source = VALUES(source),
			visibility = VALUES(visibility), layer = VALUES(layer), confidence = VALUES(confidence),
			importance = VALUES(importance), embedding_status = VALUES(embedding_status),
			provenance = VALUES(provenance), retention_tier = VALUES(retention_tier),
			retention_expires_at = VALUES(retention_expires_at),
			occurred_at = VALUES(occurred_at), updated_at = VALUES(updated_at)`
	}
}

const selectBeliefSlotSQL = `SELECT entity_id, slot_key, value, source, privacy_level, layer, confidence, importance, provenance, retention_tier, retention_expires_at, winner_event_id, occurred_at, updated_at
		FROM belief_slots WHERE entity_id = ? AND slot_key = ?`

func (s *Store) ResolveSlot(ctx context.Context, entityID, slotKey string) (*memory.BeliefSlot, error) {
	row := s.queryRow(ctx, selectBeliefSlotSQL, entityID, slotKey)
	return scanSlot(row)
}

func (s *Store) resolveSlotTx(ctx context.Context, tx *sql.Tx, entityID, slotKey string) (*memory.BeliefSlot, error) {
	row := tx.QueryRowContext(ctx, rebind(s.dialect, selectBeliefSlotSQL), entityID, slotKey)
	return scanSlot(row)
}

func scanSlot(row *sql.Row) (*memory.BeliefSlot, error) {
	var slot memory.BeliefSlot
	var source int
	var privacy, layer, tier string
	var provenance, winnerEventID sql.NullString
	var occurredAt, retentionExpires sql.NullTime
	err := row.Scan(&slot.EntityID, &slot.SlotKey, &slot.Value, &source, &privacy, &layer,
		&slot.Confidence, &slot.Importance, &provenance, &tier, &retentionExpires, &winnerEventID,
		&occurredAt, &slot.UpdatedAt)
	switch err {
	case nil:
		slot.Source = memory.SourcePriority(source)
		slot.Privacy = memory.PrivacyLevel(privacy)
		slot.Layer = memory.Layer(layer)
		slot.Provenance = decodeProvenance(provenance.String)
		slot.RetentionTier = memory.RetentionTier(tier)
		if retentionExpires.Valid {
			expires := retentionExpires.Time
			slot.RetentionExpiresAt = &expires
		}
		slot.WinnerEventID = winnerEventID.String
		if occurredAt.Valid {
			slot.OccurredAt = occurredAt.Time
		}
		return &slot, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("scan belief slot: %w", err)
	}
}

// encodeProvenance serializes structured provenance into the single
// TEXT column; nil becomes SQL NULL.
func encodeProvenance(p *memory.Provenance) any {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return string(b)
}

func decodeProvenance(raw string) *memory.Provenance {
	if raw == "" {
		return nil
	}
	var p memory.Provenance
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return &p
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// RecallScoped runs the keyword and vector sub-searches concurrently
// (errgroup) over one entity's retrieval docs, then hands the two raw
// score lists to memory.RankCandidates for list-level normalization and
// composite scoring. A blank query has nothing for the keyword
// sub-search to match and no well-defined top-of-list to normalize
// against, so it short-circuits to no results rather than degrading
// into a pure vector search.
func (s *Store) RecallScoped(ctx context.Context, rq memory.RecallQuery) ([]memory.RecallItem, error) {
	if err := rq.EnforcePolicy(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rq.Query) == "" {
		return nil, nil
	}

	var keywordScores, vectorScores map[string]float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scores, err := s.keywordSubSearch(gctx, rq.EntityID, rq.Query)
		if err != nil {
			return err
		}
		keywordScores = scores
		return nil
	})
	g.Go(func() error {
		scores, err := s.vectorSubSearch(gctx, rq.EntityID, rq.QueryEmbedding)
		if err != nil {
			return err
		}
		vectorScores = scores
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `SELECT entity_id, slot_key, content, embedding, source, visibility, layer, confidence, importance, contradiction_penalty, embedding_status, provenance, retention_tier, retention_expires_at, occurred_at, updated_at
		FROM retrieval_docs WHERE entity_id = ?`, rq.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load retrieval docs: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var candidates []memory.FuseCandidate
	for rows.Next() {
		var doc memory.RetrievalDoc
		var source int
		var visibility, layer, embeddingStatus, tier string
		var provenance sql.NullString
		var embeddingBlob []byte
		var occurredAt, retentionExpires sql.NullTime
		if err := rows.Scan(&doc.EntityID, &doc.SlotKey, &doc.Content, &embeddingBlob, &source,
			&visibility, &layer, &doc.Confidence, &doc.Importance, &doc.ContradictionPenalty, &embeddingStatus,
			&provenance, &tier, &retentionExpires, &occurredAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retrieval doc: %w", err)
		}
		doc.Source = memory.SourcePriority(source)
		doc.Visibility = memory.PrivacyLevel(visibility)
		doc.Layer = memory.Layer(layer)
		doc.Provenance = decodeProvenance(provenance.String)
		doc.RetentionTier = memory.RetentionTier(tier)
		if retentionExpires.Valid {
			expires := retentionExpires.Time
			doc.RetentionExpiresAt = &expires
		}
		if occurredAt.Valid {
			doc.OccurredAt = occurredAt.Time
		}
		doc.Embedding = decodeEmbedding(embeddingBlob)

		key := docVectorID(doc.EntityID, doc.SlotKey)
		keywordScore, ok := keywordScores[key]
		if !ok {
			keywordScore = keywordMatchScore(rq.Query, doc.Content)
		}
		// The vector sub-search only covers rows whose embedding is ready;
		// a pending doc still competes on its keyword score while the
		// backfill worker catches up.
		vectorScore, ok := vectorScores[key]
		if !ok && embeddingStatus == embeddingStatusReady {
			vectorScore = cosineSimilarity(rq.QueryEmbedding, doc.Embedding)
		}
		candidates = append(candidates, memory.FuseCandidate{Doc: doc, KeywordScore: keywordScore, VectorScore: vectorScore})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := memory.RankCandidates(candidates, now)
	sortByScoreDesc(items)
	if rq.Limit > 0 && len(items) > rq.Limit {
		items = items[:rq.Limit]
	}
	return items, nil
}

// keywordSubSearch is the keyword half of the hybrid search. On sqlite
// it queries the retrieval_docs_fts virtual table (see schema.go) for a
// BM25-ranked match; Postgres and MySQL have no FTS5 equivalent wired up,
// so they fall back to a per-term LIKE match count computed in SQL.
func (s *Store) keywordSubSearch(ctx context.Context, entityID, queryText string) (map[string]float64, error) {
	if s.dialect == "sqlite" {
		rows, err := s.query(ctx, `
			SELECT slot_key, bm25(retrieval_docs_fts) FROM retrieval_docs_fts
			WHERE entity_id = ? AND retrieval_docs_fts MATCH ?`, entityID, ftsMatchQuery(queryText))
		if err != nil {
			return nil, fmt.Errorf("fts keyword search: %w", err)
		}
		defer rows.Close()
		scores := make(map[string]float64)
		for rows.Next() {
			var slotKey string
			var bm25 float64
			if err := rows.Scan(&slotKey, &bm25); err != nil {
				return nil, fmt.Errorf("scan fts match: %w", err)
			}
			// bm25() scores lower-is-better; negate so higher means a
			// stronger match, matching every other sub-search's convention.
			scores[docVectorID(entityID, slotKey)] = -bm25
		}
		return scores, rows.Err()
	}

	terms := strings.Fields(strings.ToLower(strings.TrimSpace(queryText)))
	if len(terms) == 0 {
		return nil, nil
	}
	var sqlBuilder strings.Builder
	sqlBuilder.WriteString(`SELECT slot_key, (`)
	args := make([]any, 0, len(terms)+1)
	for i, term := range terms {
		if i > 0 {
			sqlBuilder.WriteString(" + ")
		}
		sqlBuilder.WriteString(`CASE WHEN LOWER(content) LIKE ? THEN 1 ELSE 0 END`)
		args = append(args, "%"+term+"%")
	}
	sqlBuilder.WriteString(`) FROM retrieval_docs WHERE entity_id = ?`)
	args = append(args, entityID)

	rows, err := s.query(ctx, sqlBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()
	scores := make(map[string]float64)
	for rows.Next() {
		var slotKey string
		var matches int
		if err := rows.Scan(&slotKey, &matches); err != nil {
			return nil, fmt.Errorf("scan keyword match: %w", err)
		}
		scores[docVectorID(entityID, slotKey)] = float64(matches) / float64(len(terms))
	}
	return scores, rows.Err()
}

// ftsMatchQuery turns free text into an FTS5 MATCH expression that ORs
// together each quoted term, so punctuation in the query text can't be
// misread as FTS5 query-syntax operators.
func ftsMatchQuery(q string) string {
	terms := strings.Fields(q)
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// vectorSubSearch is the vector half of the hybrid search, delegated to
// the pluggable VectorIndex when one is configured. A Search failure or
// a missing index falls back to the in-process cosine scan performed
// per-candidate in RecallScoped once rows are loaded.
func (s *Store) vectorSubSearch(ctx context.Context, entityID string, queryEmbedding []float32) (map[string]float64, error) {
	if s.index == nil || len(queryEmbedding) == 0 {
		return nil, nil
	}
	matches, err := s.index.Search(ctx, queryEmbedding, maxIndexCandidates, map[string]any{"entity_id": entityID})
	if err != nil {
		return nil, nil
	}
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		scores[m.ID] = m.Score
	}
	return scores, nil
}

func keywordMatchScore(query, content string) float64 {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return 0
	}
	content = strings.ToLower(content)
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return 0
	}
	matches := 0
	for _, term := range terms {
		if strings.Contains(content, term) {
			matches++
		}
	}
	return float64(matches) / float64(len(terms))
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByScoreDesc(items []memory.RecallItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func encodeEmbedding(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	for _, f := range v {
		if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	n := len(blob) / 4
	out := make([]float32, n)
	buf := bytes.NewReader(blob)
	for i := 0; i < n; i++ {
		binary.Read(buf, binary.LittleEndian, &out[i])
	}
	return out
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *Store) CountEvents(ctx context.Context, entityID string) (int64, error) {
	var count int64
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM memory_events WHERE entity_id = ?`, entityID).Scan(&count)
	return count, err
}
