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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBackfillSource struct {
	mu      sync.Mutex
	pending []RetrievalDoc
	stored  map[string][]float32
	cache   map[string][]float32
}

func newFakeBackfillSource(pending ...RetrievalDoc) *fakeBackfillSource {
	return &fakeBackfillSource{
		pending: pending,
		stored:  make(map[string][]float32),
		cache:   make(map[string][]float32),
	}
}

func (f *fakeBackfillSource) ListPendingEmbeddings(ctx context.Context, limit int) ([]RetrievalDoc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return append([]RetrievalDoc{}, f.pending[:limit]...), nil
}

func (f *fakeBackfillSource) StoreEmbedding(ctx context.Context, entityID, slotKey string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[entityID+"::"+slotKey] = embedding
	return nil
}

func (f *fakeBackfillSource) CachedEmbedding(ctx context.Context, contentHash string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[contentHash], nil
}

func (f *fakeBackfillSource) CacheEmbedding(ctx context.Context, contentHash string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[contentHash] = embedding
	return nil
}

type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failUntil int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failUntil {
		return nil, fmt.Errorf("embedder unavailable")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *fakeEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// newTestBackfillWorker swaps the retry sleep for a no-op before the
// worker goroutine starts, so retry tests finish instantly.
func newTestBackfillWorker(source BackfillSource, embedder Embedder) *BackfillWorker {
	w := &BackfillWorker{
		source:   source,
		embedder: embedder,
		jobs:     make(chan BackfillJob, backfillQueueCapacity),
		done:     make(chan struct{}),
		sleep:    func(time.Duration) {},
	}
	go w.run()
	return w
}

func TestBackfillWorkerStoresEmbedding(t *testing.T) {
	source := newFakeBackfillSource()
	embedder := &fakeEmbedder{}
	w := newTestBackfillWorker(source, embedder)

	w.Enqueue(BackfillJob{EntityID: "user-1", SlotKey: "preference.timezone", Content: "America/New_York"})
	w.Close()

	require.Equal(t, []float32{0.1, 0.2, 0.3}, source.stored["user-1::preference.timezone"])
	require.Equal(t, 1, embedder.callCount())
}

func TestBackfillWorkerRetriesThenSucceeds(t *testing.T) {
	source := newFakeBackfillSource()
	embedder := &fakeEmbedder{failUntil: 2}
	w := newTestBackfillWorker(source, embedder)

	w.Enqueue(BackfillJob{EntityID: "user-1", SlotKey: "preference.diet", Content: "vegetarian"})
	w.Close()

	require.Equal(t, 3, embedder.callCount())
	require.NotEmpty(t, source.stored["user-1::preference.diet"])
}

func TestBackfillWorkerDropsAfterMaxRetries(t *testing.T) {
	source := newFakeBackfillSource()
	embedder := &fakeEmbedder{failUntil: 100}
	w := newTestBackfillWorker(source, embedder)

	w.Enqueue(BackfillJob{EntityID: "user-1", SlotKey: "preference.diet", Content: "vegetarian"})
	w.Close()

	require.Equal(t, backfillBackoffMaxTry, embedder.callCount())
	require.Empty(t, source.stored)
}

func TestBackfillWorkerUsesCacheOverEmbedder(t *testing.T) {
	source := newFakeBackfillSource()
	source.cache[ContentHash("vegetarian")] = []float32{0.9, 0.8}
	embedder := &fakeEmbedder{}
	w := newTestBackfillWorker(source, embedder)

	w.Enqueue(BackfillJob{EntityID: "user-1", SlotKey: "preference.diet", Content: "vegetarian"})
	w.Close()

	require.Equal(t, 0, embedder.callCount(), "a cache hit must not re-pay the embedding call")
	require.Equal(t, []float32{0.9, 0.8}, source.stored["user-1::preference.diet"])
}

func TestBackfillWorkerEnqueuePendingSweep(t *testing.T) {
	source := newFakeBackfillSource(
		RetrievalDoc{EntityID: "user-1", SlotKey: "a", Content: "one"},
		RetrievalDoc{EntityID: "user-1", SlotKey: "b", Content: "two"},
	)
	embedder := &fakeEmbedder{}
	w := newTestBackfillWorker(source, embedder)

	n, err := w.EnqueuePending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	w.Close()

	require.Len(t, source.stored, 2)
}
