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
	"testing"
	"time"
)

func TestSupersedesHigherPriorityWinsRegardlessOfTime(t *testing.T) {
	now := time.Now()
	current := MemoryEvent{Source: SourceToolVerified, OccurredAt: now}
	candidate := MemoryEvent{Source: SourceInferred, OccurredAt: now.Add(time.Hour)}
	if Supersedes(current, candidate) {
		t.Error("a newer but lower-priority fact must not supersede a higher-priority one")
	}

	candidate2 := MemoryEvent{Source: SourceExplicitUser, OccurredAt: now.Add(-time.Hour)}
	if !Supersedes(current, candidate2) {
		t.Error("an older but higher-priority fact must supersede a lower-priority one")
	}
}

func TestSupersedesTieBreaksOnOccurredAt(t *testing.T) {
	now := time.Now()
	current := MemoryEvent{Source: SourceSystem, OccurredAt: now}
	older := MemoryEvent{Source: SourceSystem, OccurredAt: now.Add(-time.Minute)}
	newer := MemoryEvent{Source: SourceSystem, OccurredAt: now.Add(time.Minute)}

	if Supersedes(current, older) {
		t.Error("an older same-priority fact must not supersede")
	}
	if !Supersedes(current, newer) {
		t.Error("a newer same-priority fact must supersede")
	}
}

func TestSupersedesUnparsableTimestampNeverWinsTie(t *testing.T) {
	current := MemoryEvent{Source: SourceSystem, OccurredAt: time.Now()}
	candidate := MemoryEvent{Source: SourceSystem, OccurredAt: time.Time{}}
	if Supersedes(current, candidate) {
		t.Error("a zero/unparsable timestamp must compare as -infinity and never win a same-priority tie")
	}
}

func TestApplyEventBuildsProjection(t *testing.T) {
	now := time.Now()
	event := MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.timezone", Kind: EventFactAdded,
		Value: "America/New_York", Source: SourceExplicitUser, OccurredAt: now, RecordedAt: now,
	}
	slot := ApplyEvent(nil, event)
	if slot == nil || slot.Value != "America/New_York" {
		t.Fatalf("expected slot to be created with value, got %+v", slot)
	}

	unset := MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.timezone", Kind: EventPreferenceUnset,
		Source: SourceExplicitUser, OccurredAt: now.Add(time.Minute), RecordedAt: now.Add(time.Minute),
	}
	slot2 := ApplyEvent(slot, unset)
	if slot2.Value != "" {
		t.Errorf("preference_unset should clear the slot value, got %q", slot2.Value)
	}
}

func TestApplyEventRejectsLowerPrioritySupersede(t *testing.T) {
	now := time.Now()
	original := ApplyEvent(nil, MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.timezone", Kind: EventFactAdded,
		Value: "America/New_York", Source: SourceExplicitUser, OccurredAt: now, RecordedAt: now,
	})
	guess := ApplyEvent(original, MemoryEvent{
		EntityID: "user-1", SlotKey: "preference.timezone", Kind: EventInferredClaim,
		Value: "UTC", Source: SourceInferred, OccurredAt: now.Add(time.Hour), RecordedAt: now.Add(time.Hour),
	})
	if guess.Value != "America/New_York" {
		t.Errorf("lower-priority inferred fact must not overwrite explicit user fact, got %q", guess.Value)
	}
}

func TestNormalizeForIngressRejectsNonFiniteScores(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		event := MemoryEvent{Confidence: bad, Importance: 0.5, Source: SourceSystem}
		if err := NormalizeForIngress(&event); err == nil {
			t.Errorf("non-finite confidence %v must be rejected at ingress", bad)
		}
		event = MemoryEvent{Confidence: 0.5, Importance: bad, Source: SourceSystem}
		if err := NormalizeForIngress(&event); err == nil {
			t.Errorf("non-finite importance %v must be rejected at ingress", bad)
		}
	}
}

func TestNormalizeForIngressClampsScores(t *testing.T) {
	event := MemoryEvent{Confidence: 5.0, Importance: -1.0, Source: SourceSystem}
	if err := NormalizeForIngress(&event); err != nil {
		t.Fatalf("finite out-of-range scores clamp, not fail: %v", err)
	}
	if event.Confidence != 1.0 || event.Importance != 0.0 {
		t.Errorf("expected clamped scores (1.0, 0.0), got (%v, %v)", event.Confidence, event.Importance)
	}
}

func TestNormalizeForIngressValidatesProvenanceBinding(t *testing.T) {
	event := MemoryEvent{
		Source:     SourceExplicitUser,
		Provenance: SourceReference(SourceInferred, "chat"),
	}
	if err := NormalizeForIngress(&event); err == nil {
		t.Error("provenance.source_class mismatching event source must be rejected")
	}

	event = MemoryEvent{
		Source:     SourceExplicitUser,
		Provenance: SourceReference(SourceExplicitUser, strings.Repeat("x", 300)),
	}
	if err := NormalizeForIngress(&event); err == nil {
		t.Error("provenance.reference over 256 chars must be rejected")
	}
}

func TestNormalizeForIngressDerivesRetention(t *testing.T) {
	occurred := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	working := MemoryEvent{Layer: LayerWorking, Source: SourceSystem, OccurredAt: occurred}
	if err := NormalizeForIngress(&working); err != nil {
		t.Fatal(err)
	}
	if working.RetentionTier != RetentionTier(LayerWorking) || working.RetentionExpiresAt == nil {
		t.Fatalf("working layer must get a bounded retention, got %+v", working)
	}
	if got := working.RetentionExpiresAt.Sub(occurred); got != 2*24*time.Hour {
		t.Errorf("working retention must be 2 days from occurred_at, got %v", got)
	}

	episodic := MemoryEvent{Layer: LayerEpisodic, Source: SourceSystem, OccurredAt: occurred}
	if err := NormalizeForIngress(&episodic); err != nil {
		t.Fatal(err)
	}
	if got := episodic.RetentionExpiresAt.Sub(occurred); got != 30*24*time.Hour {
		t.Errorf("episodic retention must be 30 days from occurred_at, got %v", got)
	}

	identity := MemoryEvent{Layer: LayerIdentity, Source: SourceSystem, OccurredAt: occurred}
	if err := NormalizeForIngress(&identity); err != nil {
		t.Fatal(err)
	}
	if identity.RetentionExpiresAt != nil {
		t.Error("identity layer is unbounded, expiry must be nil")
	}
}
