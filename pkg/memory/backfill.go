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

package memory

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// Embedder computes a vector for one piece of text. The concrete
// provider lives outside this module; the memory engine only ever sees
// this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BackfillSource is the slice of a Store the embedding backfill worker
// drains: listing retrieval docs whose embedding is still pending, and
// writing a computed embedding back (flipping the doc's status to
// ready so vector search starts seeing it).
type BackfillSource interface {
	ListPendingEmbeddings(ctx context.Context, limit int) ([]RetrievalDoc, error)
	StoreEmbedding(ctx context.Context, entityID, slotKey string, embedding []float32) error
}

// EmbeddingCache is optionally implemented by a BackfillSource that can
// persist computed embeddings keyed by content hash, so repeated or
// re-ingested identical text never re-pays the provider call. A miss is
// (nil, nil), not an error.
type EmbeddingCache interface {
	CachedEmbedding(ctx context.Context, contentHash string) ([]float32, error)
	CacheEmbedding(ctx context.Context, contentHash string, embedding []float32) error
}

// BackfillJob names one retrieval doc awaiting an embedding.
type BackfillJob struct {
	EntityID string
	SlotKey  string
	Content  string
}

// backfillQueueCapacity bounds the pending-job backlog; a full queue
// drops (and logs) rather than blocking the writer that noticed the
// missing embedding.
const backfillQueueCapacity = 100

// Backoff schedule for one job's retries: 200ms doubling to a 30s
// ceiling, at most 5 tries, up to 250ms of jitter per sleep.
const (
	backfillBackoffBase   = 200 * time.Millisecond
	backfillBackoffCap    = 30 * time.Second
	backfillBackoffMaxTry = 5
	backfillBackoffJitter = 250 * time.Millisecond
)

// BackfillWorker computes missing embeddings in the background: jobs
// arrive on a bounded queue, each is retried with exponential backoff,
// and failures past the retry cap are logged and dropped rather than
// wedging the queue.
type BackfillWorker struct {
	source   BackfillSource
	embedder Embedder
	jobs     chan BackfillJob
	done     chan struct{}

	// sleep is swapped out by tests; production uses time.Sleep.
	sleep func(time.Duration)
}

// NewBackfillWorker starts a worker goroutine draining the queue. Call
// Close to stop it.
func NewBackfillWorker(source BackfillSource, embedder Embedder) *BackfillWorker {
	w := &BackfillWorker{
		source:   source,
		embedder: embedder,
		jobs:     make(chan BackfillJob, backfillQueueCapacity),
		done:     make(chan struct{}),
		sleep:    time.Sleep,
	}
	go w.run()
	return w
}

// Enqueue submits one job. A full queue drops the job and logs it; the
// doc stays pending, so a later EnqueuePending sweep picks it up again.
func (w *BackfillWorker) Enqueue(job BackfillJob) {
	select {
	case w.jobs <- job:
	default:
		slog.Warn("embedding backfill queue full, dropping job",
			"entity_id", job.EntityID, "slot_key", job.SlotKey)
	}
}

// EnqueuePending sweeps the source for docs still awaiting an embedding
// and enqueues up to limit of them. Returns how many were enqueued.
func (w *BackfillWorker) EnqueuePending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > backfillQueueCapacity {
		limit = backfillQueueCapacity
	}
	docs, err := w.source.ListPendingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, doc := range docs {
		w.Enqueue(BackfillJob{EntityID: doc.EntityID, SlotKey: doc.SlotKey, Content: doc.Content})
	}
	return len(docs), nil
}

// Close stops accepting new jobs and waits for the worker to drain.
func (w *BackfillWorker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *BackfillWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		w.runWithBackoff(job)
	}
}

func (w *BackfillWorker) runWithBackoff(job BackfillJob) {
	delay := backfillBackoffBase
	for attempt := 1; attempt <= backfillBackoffMaxTry; attempt++ {
		err := w.backfill(job)
		if err == nil {
			return
		}
		if attempt == backfillBackoffMaxTry {
			slog.Warn("embedding backfill job dropped after max retries",
				"entity_id", job.EntityID, "slot_key", job.SlotKey, "attempts", attempt, "error", err)
			return
		}
		slog.Debug("embedding backfill retrying",
			"entity_id", job.EntityID, "slot_key", job.SlotKey, "attempt", attempt, "error", err)
		w.sleep(delay + time.Duration(rand.Int63n(int64(backfillBackoffJitter))))
		delay *= 2
		if delay > backfillBackoffCap {
			delay = backfillBackoffCap
		}
	}
}

func (w *BackfillWorker) backfill(job BackfillJob) error {
	ctx := context.Background()
	hash := ContentHash(job.Content)

	cache, hasCache := w.source.(EmbeddingCache)
	if hasCache {
		if cached, err := cache.CachedEmbedding(ctx, hash); err == nil && len(cached) > 0 {
			return w.source.StoreEmbedding(ctx, job.EntityID, job.SlotKey, cached)
		}
	}

	embedding, err := w.embedder.Embed(ctx, job.Content)
	if err != nil {
		return err
	}

	if hasCache {
		if err := cache.CacheEmbedding(ctx, hash, embedding); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return w.source.StoreEmbedding(ctx, job.EntityID, job.SlotKey, embedding)
}
