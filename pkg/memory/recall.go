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
	"math"
	"strings"
	"time"
)

// RecallQuery is a single recall request against a scoped entity: a
// keyword/vector hybrid search bounded by a tenant policy context and a
// result limit.
type RecallQuery struct {
	EntityID       string
	Query          string
	Limit          int
	QueryEmbedding []float32
	TenantContext  TenantScopeEnforcer
}

// TenantScopeEnforcer is satisfied by pkg/policy.TenantPolicyContext; it
// is redeclared as an interface here so pkg/memory does not import
// pkg/policy, keeping the dependency direction the other way around.
type TenantScopeEnforcer interface {
	EnforceRecallScope(entityID string) error
}

// EnforcePolicy validates the query's entity scope against its tenant
// context, if one is set.
func (q RecallQuery) EnforcePolicy() error {
	if q.TenantContext == nil {
		return nil
	}
	return q.TenantContext.EnforceRecallScope(q.EntityID)
}

// RecallItem is one scored, ranked hit returned from a hybrid search.
type RecallItem struct {
	SlotKey     string
	Value       string
	Score       float64
	BaseScore   float64
	Recency     float64
	Reliability float64
	Importance  float64
	Penalty     float64
	Layer       Layer
	Visibility  PrivacyLevel
	UpdatedAt   time.Time
}

const (
	weightVector  = 0.7
	weightKeyword = 0.3

	scoreWeightBase        = 0.35
	scoreWeightRecency     = 0.25
	scoreWeightReliability = 0.20
	scoreWeightImportance  = 0.10
	scoreWeightPenaltyComp = 0.10

	trendSlotPrefix = "trend."
	trendTTLMinDays = 30
	trendTTLMaxDays = 45
)

// fuseSubSearch blends an already-normalized keyword score and an
// already-normalized vector score into one base relevance score, using
// the defaults from the hybrid retrieval design: vector-weighted,
// keyword as a secondary signal. Normalization happens one level up, in
// RankCandidates, since it's a property of the candidate list as a
// whole rather than of any one document.
func fuseSubSearch(keywordScore, vectorScore float64) float64 {
	return weightKeyword*keywordScore + weightVector*vectorScore
}

// FuseCandidate pairs a retrieval document with the raw (un-normalized)
// sub-search scores a Store's keyword and vector sub-searches produced
// for it.
type FuseCandidate struct {
	Doc          RetrievalDoc
	KeywordScore float64
	VectorScore  float64
}

// RankCandidates implements the two-list ranking fuser: the keyword
// sub-search's scores and the vector sub-search's scores are each
// rescaled to [0,1] by dividing by the top score observed in their own
// list, independently of one another, before the two are blended and
// folded into the full composite ranking score. If one sub-search
// returned nothing (every candidate's score in that list is zero), the
// other list still normalizes against its own max — neither list's
// normalization depends on the other's.
func RankCandidates(candidates []FuseCandidate, now time.Time) []RecallItem {
	maxKeyword := maxScore(candidates, func(c FuseCandidate) float64 { return c.KeywordScore })
	maxVector := maxScore(candidates, func(c FuseCandidate) float64 { return c.VectorScore })

	items := make([]RecallItem, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, scoreRetrievalDoc(c.Doc, normalizeToMax(c.KeywordScore, maxKeyword), normalizeToMax(c.VectorScore, maxVector), now))
	}
	return items
}

func maxScore(candidates []FuseCandidate, get func(FuseCandidate) float64) float64 {
	var max float64
	for _, c := range candidates {
		if v := get(c); v > max {
			max = v
		}
	}
	return max
}

func normalizeToMax(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return score / max
}

// reliabilityScore folds the source's trust rank together with the
// fact's own stated confidence: the rank sets the ceiling (an explicit
// user statement can reach 1.0, an inferred claim at most 0.25) and
// confidence scales within it, so two same-source facts with different
// confidence no longer tie on this term.
func reliabilityScore(source SourcePriority, confidence float64) float64 {
	rank := float64(source) / float64(SourceExplicitUser)
	return clamp01(rank * (0.5 + 0.5*clamp01(confidence)))
}

// recencyScore applies an exponential half-life decay to the age of a
// fact; half-life of 14 days means a month-old fact scores roughly a
// quarter of a fresh one. It decays from occurredAt, the time the fact
// became true in the world, not from when the store happened to write
// the row.
func recencyScore(occurredAt, now time.Time) float64 {
	if occurredAt.IsZero() {
		return 0
	}
	const halfLifeDays = 14.0
	ageDays := now.Sub(occurredAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// trendTTLDecay applies the linear trend-slot decay window: slots keyed
// with the "trend." prefix lose relevance linearly from full weight at
// trendTTLMinDays old (measured from occurredAt) down to zero at
// trendTTLMaxDays old. Non-trend slots are unaffected.
func trendTTLDecay(slotKey string, occurredAt, now time.Time) float64 {
	if !strings.HasPrefix(slotKey, trendSlotPrefix) {
		return 1.0
	}
	if occurredAt.IsZero() {
		return 0
	}
	ageDays := now.Sub(occurredAt).Hours() / 24
	switch {
	case ageDays <= trendTTLMinDays:
		return 1.0
	case ageDays >= trendTTLMaxDays:
		return 0.0
	default:
		span := float64(trendTTLMaxDays - trendTTLMinDays)
		return 1.0 - (ageDays-trendTTLMinDays)/span
	}
}

// scoreRetrievalDoc computes the full composite ranking score for one
// candidate, combining hybrid base relevance (already-normalized
// keyword/vector scores) with recency, reliability, importance, a
// contradiction-penalty complement, and trend-slot TTL decay.
func scoreRetrievalDoc(doc RetrievalDoc, keywordScore, vectorScore float64, now time.Time) RecallItem {
	base := fuseSubSearch(keywordScore, vectorScore)
	recency := recencyScore(doc.OccurredAt, now)
	reliability := reliabilityScore(doc.Source, doc.Confidence)
	// doc.ContradictionPenalty defaults to 0: only a contradiction_marked
	// event targeting this slot ever sets it above zero (see
	// ContradictionPenaltyFor), never this doc's own confidence/importance.
	penalty := clamp01(doc.ContradictionPenalty)

	score := scoreWeightBase*base +
		scoreWeightRecency*recency +
		scoreWeightReliability*reliability +
		scoreWeightImportance*doc.Importance +
		scoreWeightPenaltyComp*(1-penalty)

	score *= trendTTLDecay(doc.SlotKey, doc.OccurredAt, now)

	return RecallItem{
		SlotKey:     doc.SlotKey,
		Value:       doc.Content,
		Score:       score,
		BaseScore:   base,
		Recency:     recency,
		Reliability: reliability,
		Importance:  doc.Importance,
		Penalty:     penalty,
		Layer:       doc.Layer,
		Visibility:  doc.Visibility,
		UpdatedAt:   doc.UpdatedAt,
	}
}
