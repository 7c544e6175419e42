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

package policy

import (
	"sync"
	"time"
)

// ActionTracker keeps a sliding 1-hour window of action timestamps.
// Grounded on the original implementation's Mutex<Vec<Instant>> design:
// a single mutex, prune-then-append on every record.
type ActionTracker struct {
	mu      sync.Mutex
	actions []time.Time
}

// NewActionTracker returns an empty tracker.
func NewActionTracker() *ActionTracker {
	return &ActionTracker{}
}

const actionWindow = time.Hour

func (t *ActionTracker) prune(now time.Time) {
	cutoff := now.Add(-actionWindow)
	kept := t.actions[:0]
	for _, ts := range t.actions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.actions = kept
}

// Record appends an action at now and returns the count within the window.
func (t *ActionTracker) Record() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.prune(now)
	t.actions = append(t.actions, now)
	return len(t.actions)
}

// Count returns the number of actions in the current window without
// recording a new one.
func (t *ActionTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(time.Now())
	return len(t.actions)
}

// CostTracker keeps a (day_epoch, spent_cents) pair that resets at UTC
// day boundaries.
type CostTracker struct {
	mu         sync.Mutex
	dayEpoch   int64
	spentCents uint32
}

// NewCostTracker returns a tracker starting at zero spend for today.
func NewCostTracker() *CostTracker {
	return &CostTracker{dayEpoch: currentDayEpoch()}
}

func currentDayEpoch() int64 {
	return time.Now().Unix() / 86400
}

func (t *CostTracker) rolloverLocked() {
	today := currentDayEpoch()
	if t.dayEpoch != today {
		t.dayEpoch = today
		t.spentCents = 0
	}
}

// Record attempts to add additionalCents to today's spend, failing (and
// leaving the counter unchanged) if doing so would exceed maxCentsPerDay.
// additionalCents == 0 is treated as a pure over-budget check.
func (t *CostTracker) Record(additionalCents, maxCentsPerDay uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()

	if additionalCents == 0 {
		return t.spentCents <= maxCentsPerDay
	}
	if t.spentCents+additionalCents > maxCentsPerDay {
		return false
	}
	t.spentCents += additionalCents
	return true
}

// SpentToday returns today's running total.
func (t *CostTracker) SpentToday() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverLocked()
	return t.spentCents
}
