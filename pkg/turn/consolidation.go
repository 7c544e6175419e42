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

package turn

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/governance"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
)

// consolidationQueueCapacity bounds the post-turn consolidation
// backlog; once full, new jobs are dropped (and logged) rather than
// blocking the turn that produced them — a "bounded queue
// (capacity 100)" requirement, shared here with any other background
// backfill work that wants the same drop-rather-than-block posture.
const consolidationQueueCapacity = 100

// ConsolidationInput carries what a consolidation pass needs to fold
// one turn's exchange into durable memory: the entity, a checkpoint
// event count (so the worker can detect it's already processed past
// this point), and the raw exchange.
type ConsolidationInput struct {
	EntityID             string
	CheckpointEventCount int64
	UserMessage          string
	Response             string
}

// ConsolidationWorker runs queued consolidation jobs on a bounded
// channel with exponential backoff between retries of a single job.
// One worker is shared process-wide; Enqueue never blocks the caller
// past the channel send.
type ConsolidationWorker struct {
	store Store
	jobs  chan ConsolidationInput
	done  chan struct{}

	// Trail, when set, receives a governance record for every job this
	// worker drops — queue overflow or retry exhaustion — so dropped
	// consolidations are auditable, not just logged.
	Trail *governance.Trail
}

// Store is the subset of memory.Store a consolidation pass needs —
// declared narrowly here so tests can stub it without building a full
// backend.
type Store interface {
	CountEvents(ctx context.Context, entityID string) (int64, error)
	AppendEvent(ctx context.Context, event memory.MemoryEvent) error
}

// NewConsolidationWorker starts a worker goroutine draining a bounded
// job queue. Call Close to stop it.
func NewConsolidationWorker(store Store) *ConsolidationWorker {
	w := &ConsolidationWorker{
		store: store,
		jobs:  make(chan ConsolidationInput, consolidationQueueCapacity),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue submits a consolidation job. If the queue is full the job is
// dropped and logged rather than blocking the turn that produced it.
func (w *ConsolidationWorker) Enqueue(input ConsolidationInput) {
	select {
	case w.jobs <- input:
	default:
		slog.Warn("consolidation queue full, dropping job", "entity_id", input.EntityID)
		w.recordDrop(input.EntityID, "queue_full", nil)
	}
}

func (w *ConsolidationWorker) recordDrop(entityID, cause string, err error) {
	if w.Trail == nil {
		return
	}
	detail := map[string]any{"cause": cause}
	if err != nil {
		detail["error"] = err.Error()
	}
	if trailErr := w.Trail.Append(governance.Record{
		Action:   governance.ActionConsolidationDrop,
		EntityID: entityID,
		Detail:   detail,
	}); trailErr != nil {
		slog.Warn("governance trail consolidation-drop write failed", "error", trailErr)
	}
}

// Close stops accepting new jobs and waits for the worker to drain.
func (w *ConsolidationWorker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *ConsolidationWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		w.runWithBackoff(job)
	}
}

// backoff schedule: 200ms -> 30s, capped at 5 retries, up to 250ms jitter.
const (
	backoffBase   = 200 * time.Millisecond
	backoffCap    = 30 * time.Second
	backoffMaxTry = 5
	backoffJitter = 250 * time.Millisecond
)

func (w *ConsolidationWorker) runWithBackoff(job ConsolidationInput) {
	delay := backoffBase
	for attempt := 1; attempt <= backoffMaxTry; attempt++ {
		if err := w.consolidate(job); err == nil {
			return
		} else if attempt == backoffMaxTry {
			slog.Warn("consolidation job dropped after max retries", "entity_id", job.EntityID, "attempts", attempt, "error", err)
			w.recordDrop(job.EntityID, "max_retries", err)
			return
		} else {
			slog.Debug("consolidation job retrying", "entity_id", job.EntityID, "attempt", attempt, "error", err)
		}
		time.Sleep(delay + time.Duration(rand.Int63n(int64(backoffJitter))))
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// consolidate runs the post-turn inference pass: fold the turn's
// exchange into a long-layer summary event so later recalls see a
// durable trace of it without depending on the working-layer autosave
// events surviving. A richer extraction pass (entity/relationship
// mining from the exchange) is future work; this worker's job is the
// queue/backoff/drop scaffolding the worker needs plus the minimal
// fold the memory model supports.
func (w *ConsolidationWorker) consolidate(job ConsolidationInput) error {
	current, err := w.store.CountEvents(context.Background(), job.EntityID)
	if err != nil {
		return err
	}
	if current < job.CheckpointEventCount {
		// Entity moved backwards (e.g. a forget ran between enqueue
		// and now) — skip rather than consolidate a stale view.
		return nil
	}

	now := time.Now()
	return w.store.AppendEvent(context.Background(), memory.MemoryEvent{
		ID:         randomEventID(),
		EntityID:   job.EntityID,
		SlotKey:    "conversation.consolidated",
		Kind:       memory.EventSummaryCompacted,
		Value:      truncateWithEllipsis(job.UserMessage, 60) + " -> " + truncateWithEllipsis(job.Response, 60),
		Source:     memory.SourceInferred,
		Privacy:    memory.PrivacyPrivate,
		Layer:      memory.LayerEpisodic,
		Confidence: 0.6,
		Importance: 0.3,
		Provenance: memory.SourceReference(memory.SourceInferred, "turn.consolidation"),
		OccurredAt: now,
		RecordedAt: now,
	})
}
