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

import "context"

// VectorIndex is an optional pluggable nearest-neighbor search backend for
// Store's retrieval_docs embeddings. Without one, RecallScoped decodes the
// embedding BLOB column and scores every candidate row in process (fine at
// the scale a single entity's belief slots reach). With one installed via
// WithVectorIndex, embedding writes and the vector half of the hybrid search
// are delegated to it instead, for deployments that outgrow brute-force scan.
type VectorIndex interface {
	// Upsert indexes or replaces the vector for id.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK nearest neighbors to vector, each with its
	// similarity score, restricted to the given metadata filter.
	Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]VectorMatch, error)

	// Delete removes id from the index. Deleting a nonexistent id is not
	// an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources the index holds.
	Close() error
}

// VectorMatch is one result from a VectorIndex.Search call.
type VectorMatch struct {
	ID    string
	Score float64
}

// docVectorID is the VectorIndex point id for one entity's slot. Qdrant (and
// similar engines) key points by a single id string, not a composite key, so
// the entity/slot pair is folded into one deterministic id.
func docVectorID(entityID, slotKey string) string {
	return entityID + "\x00" + slotKey
}
