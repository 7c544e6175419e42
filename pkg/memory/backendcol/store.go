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

// Package backendcol implements pkg/memory.Store on top of
// philippgille/chromem-go, the embedded columnar vector store. Its
// persistence model is a whole-collection gob dump on every write (see
// Store.flush) rather than a row-level transaction log, so this backend cannot offer
// the same forget guarantees pkg/memory/backendsql does: every forget
// mode here reports Degraded, and soft/tombstone forgets write an
// explicit revocation marker instead of a true row delete so the
// blast radius of "did this actually disappear" is always visible to
// an auditor instead of silently assumed.
package backendcol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

// Store is a chromem-go-backed implementation of memory.Store.
type Store struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection

	eventsMu sync.RWMutex
	events   map[string][]memory.MemoryEvent // keyed by entityID

	ledgerMu sync.RWMutex
	ledger   []memory.DeletionLedger
}

// Config configures the Store's persistence.
type Config struct {
	PersistPath string
	Compress    bool
}

// New opens (or creates) a chromem-go database at cfg.PersistPath, or an
// in-memory one if PersistPath is empty.
func New(cfg Config) (*Store, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create persist directory: %w", err)
		}
		dbPath := filepath.Join(cfg.PersistPath, "memory.gob")
		if cfg.Compress {
			dbPath += ".gz"
		}
		if _, err := os.Stat(dbPath); err == nil {
			loaded, loadErr := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if loadErr != nil {
				slog.Warn("failed to load existing columnar memory store, starting fresh", "path", dbPath, "error", loadErr)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &Store{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
		events:      make(map[string][]memory.MemoryEvent),
	}, nil
}

func (s *Store) Name() string { return "backendcol" }

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("columnar store not initialized")
	}
	return nil
}

func (s *Store) Close() error {
	return s.flush()
}

// identityEmbed is every collection's embedding function. Vectors are
// always supplied pre-computed by the caller, never derived here, so a
// document added without an embedding fails with this error.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function invoked but vectors must be pre-computed")
}

func collectionName(entityID string) string {
	return "entity_" + entityID
}

func (s *Store) getCollection(entityID string) (*chromem.Collection, error) {
	name := collectionName(entityID)
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("get/create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

func (s *Store) flush() error {
	if s.persistPath == "" {
		return nil
	}
	dbPath := filepath.Join(s.persistPath, "memory.gob")
	if s.compress {
		dbPath += ".gz"
	}
	//nolint:staticcheck // chromem-go's supported export path
	if err := s.db.Export(dbPath, s.compress, ""); err != nil {
		return fmt.Errorf("persist columnar store: %w", err)
	}
	return nil
}

func docID(entityID, slotKey string) string {
	return entityID + "::" + slotKey
}

func slotToDocument(slot *memory.BeliefSlot) chromem.Document {
	retentionExpires := ""
	if slot.RetentionExpiresAt != nil {
		retentionExpires = formatTime(*slot.RetentionExpiresAt)
	}
	return chromem.Document{
		ID:      docID(slot.EntityID, slot.SlotKey),
		Content: slot.Value,
		Metadata: map[string]string{
			"entity_id":             slot.EntityID,
			"slot_key":              slot.SlotKey,
			"source":                fmt.Sprint(int(slot.Source)),
			"privacy_level":         string(slot.Privacy),
			"layer":                 string(slot.Layer),
			"confidence":            fmt.Sprint(slot.Confidence),
			"importance":            fmt.Sprint(slot.Importance),
			"provenance":            encodeProvenance(slot.Provenance),
			"retention_tier":        string(slot.RetentionTier),
			"retention_expires_at":  retentionExpires,
			"winner_event_id":       slot.WinnerEventID,
			"contradiction_penalty": "0",
			"occurred_at":           formatTime(slot.OccurredAt),
			"updated_at":            formatTime(slot.UpdatedAt),
		},
		Embedding: nil,
	}
}

// encodeProvenance/decodeProvenance carry structured provenance
// through chromem's flat string metadata as JSON.
func encodeProvenance(p *memory.Provenance) string {
	if p == nil {
		return ""
	}
	b, err := json.Marshal(p)
	if err != nil {
		return ""
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

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func documentToSlot(doc chromem.Document) *memory.BeliefSlot {
	source := 0
	fmt.Sscanf(doc.Metadata["source"], "%d", &source)
	confidence := 0.0
	fmt.Sscanf(doc.Metadata["confidence"], "%g", &confidence)
	importance := 0.0
	fmt.Sscanf(doc.Metadata["importance"], "%g", &importance)

	slot := &memory.BeliefSlot{
		EntityID:      doc.Metadata["entity_id"],
		SlotKey:       doc.Metadata["slot_key"],
		Value:         doc.Content,
		Source:        memory.SourcePriority(source),
		Privacy:       memory.PrivacyLevel(doc.Metadata["privacy_level"]),
		Layer:         memory.Layer(doc.Metadata["layer"]),
		Confidence:    confidence,
		Importance:    importance,
		Provenance:    decodeProvenance(doc.Metadata["provenance"]),
		RetentionTier: memory.RetentionTier(doc.Metadata["retention_tier"]),
		WinnerEventID: doc.Metadata["winner_event_id"],
		OccurredAt:    parseTime(doc.Metadata["occurred_at"]),
		UpdatedAt:     parseTime(doc.Metadata["updated_at"]),
	}
	if expires := parseTime(doc.Metadata["retention_expires_at"]); !expires.IsZero() {
		slot.RetentionExpiresAt = &expires
	}
	return slot
}

// AppendEvent appends to the in-process event log and, if the event
// supersedes the slot's current value, upserts the chromem document and
// flushes the whole collection to disk.
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

	s.eventsMu.Lock()
	s.events[event.EntityID] = append(s.events[event.EntityID], event)
	s.eventsMu.Unlock()

	col, err := s.getCollection(event.EntityID)
	if err != nil {
		return err
	}

	// A contradiction_marked event never wins supersession:
	// it only discounts the targeted slot's existing document, leaving its
	// content and every other field untouched.
	if event.Kind == memory.EventContradictionMarked {
		existing, getErr := col.GetByID(ctx, docID(event.EntityID, event.SlotKey))
		if getErr != nil {
			return nil // nothing to penalize yet
		}
		penalty := memory.ContradictionPenaltyFor(event.Confidence, event.Importance)
		existing.Metadata["contradiction_penalty"] = fmt.Sprint(penalty)
		if err := col.AddDocuments(ctx, []chromem.Document{existing}, runtime.NumCPU()); err != nil {
			return fmt.Errorf("mark contradiction: %w", err)
		}
		return s.flush()
	}

	current, err := s.ResolveSlot(ctx, event.EntityID, event.SlotKey)
	if err != nil {
		return err
	}

	var currentEvent memory.MemoryEvent
	if current != nil {
		currentEvent = memory.MemoryEvent{Source: current.Source, OccurredAt: current.OccurredAt}
	}
	if current != nil && !memory.Supersedes(currentEvent, event) {
		return nil
	}

	// A normal fact update upserts the doc's content/scores but preserves
	// any contradiction_penalty a prior contradiction_marked event set,
	// matching backendsql's ON CONFLICT behavior.
	priorPenalty := "0"
	if existing, getErr := col.GetByID(ctx, docID(event.EntityID, event.SlotKey)); getErr == nil {
		if v, ok := existing.Metadata["contradiction_penalty"]; ok {
			priorPenalty = v
		}
	}

	projected := memory.ApplyEvent(current, event)
	doc := slotToDocument(projected)
	doc.Metadata["contradiction_penalty"] = priorPenalty
	doc.Embedding = event.Embedding
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert columnar document: %w", err)
	}

	return s.flush()
}

func (s *Store) ResolveSlot(ctx context.Context, entityID, slotKey string) (*memory.BeliefSlot, error) {
	col, err := s.getCollection(entityID)
	if err != nil {
		return nil, err
	}
	doc, err := col.GetByID(ctx, docID(entityID, slotKey))
	if err != nil {
		return nil, nil
	}
	return documentToSlot(doc), nil
}

func (s *Store) CountEvents(ctx context.Context, entityID string) (int64, error) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return int64(len(s.events[entityID])), nil
}
