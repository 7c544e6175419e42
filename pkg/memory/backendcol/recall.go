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

package backendcol

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/sanitize"
)

// RecallScoped performs a vector-similarity search and re-ranks hits
// with a local keyword match score, since chromem-go (unlike the FTS5
// path in pkg/memory/backendsql) has no text index of its own. A query
// with no precomputed embedding returns no results: pure-keyword recall
// is a capability this backend does not have, consistent with its
// documented lack of hybrid search support. An empty query also returns
// no results, since the keyword sub-search would have nothing to match
// and the ranking fuser has no top-of-list to normalize against.
//
// Unlike pkg/memory/backendsql, the keyword score here isn't an
// independent sub-search run concurrently with the vector one — it's a
// local re-scoring of the vector sub-search's own hits, computed against
// content chromem-go already returned. There's no second query to fan
// out in parallel with.
func (s *Store) RecallScoped(ctx context.Context, rq memory.RecallQuery) ([]memory.RecallItem, error) {
	if err := rq.EnforcePolicy(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rq.Query) == "" {
		return nil, nil
	}
	if len(rq.QueryEmbedding) == 0 {
		return nil, nil
	}

	col, err := s.getCollection(rq.EntityID)
	if err != nil {
		return nil, err
	}

	topK := col.Count()
	if topK == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, rq.QueryEmbedding, topK, nil, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	candidates := make([]memory.FuseCandidate, 0, len(results))
	for _, r := range results {
		if sanitize.IsRevocationMarkerPayload(r.Content) {
			continue
		}
		source, _ := strconv.Atoi(r.Metadata["source"])
		confidence, _ := strconv.ParseFloat(r.Metadata["confidence"], 64)
		importance, _ := strconv.ParseFloat(r.Metadata["importance"], 64)
		contradictionPenalty, _ := strconv.ParseFloat(r.Metadata["contradiction_penalty"], 64)

		doc := memory.RetrievalDoc{
			EntityID:             rq.EntityID,
			SlotKey:              r.Metadata["slot_key"],
			Content:              r.Content,
			Source:               memory.SourcePriority(source),
			Visibility:           memory.PrivacyLevel(r.Metadata["privacy_level"]),
			Layer:                memory.Layer(r.Metadata["layer"]),
			Confidence:           confidence,
			Importance:           importance,
			ContradictionPenalty: contradictionPenalty,
			OccurredAt:           parseTime(r.Metadata["occurred_at"]),
			UpdatedAt:            parseTime(r.Metadata["updated_at"]),
		}

		candidates = append(candidates, memory.FuseCandidate{
			Doc:          doc,
			KeywordScore: keywordMatchScore(rq.Query, r.Content),
			VectorScore:  float64(r.Similarity),
		})
	}

	items := memory.RankCandidates(candidates, now)
	sortByScoreDesc(items)
	if rq.Limit > 0 && len(items) > rq.Limit {
		items = items[:rq.Limit]
	}
	return items, nil
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

func sortByScoreDesc(items []memory.RecallItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
