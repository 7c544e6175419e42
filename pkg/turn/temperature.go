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

import "github.com/haru0416-dev/aegis-agent/pkg/policy"

// TemperatureBand is the inclusive sampling-temperature range an
// autonomy level permits. Lower autonomy keeps answers closer to
// deterministic: a read-only entity can't act on a hallucination but
// can still repeat one back as fact, so its band stays tight; full
// autonomy is trusted with the provider's normal creative range.
type TemperatureBand struct {
	Min float64
	Max float64
}

// autonomyTemperatureBands maps each autonomy level to its band. Full
// autonomy's ceiling matches pkg/config/llm.go's validated maximum;
// supervised's ceiling matches its default temperature (0.7), so a
// request at the configured default is never itself clamped.
var autonomyTemperatureBands = map[policy.AutonomyLevel]TemperatureBand{
	policy.AutonomyReadOnly:   {Min: 0.0, Max: 0.3},
	policy.AutonomySupervised: {Min: 0.0, Max: 0.7},
	policy.AutonomyFull:       {Min: 0.0, Max: 1.2},
}

// SelectedTemperatureBand returns the band for an autonomy level,
// defaulting to the supervised band for any value outside the known set.
func SelectedTemperatureBand(level policy.AutonomyLevel) TemperatureBand {
	if band, ok := autonomyTemperatureBands[level]; ok {
		return band
	}
	return autonomyTemperatureBands[policy.AutonomySupervised]
}

// ClampTemperature clamps requested into the autonomy level's band,
// returning the clamped value and whether clamping changed anything.
func ClampTemperature(level policy.AutonomyLevel, requested float64) (clamped float64, wasClamped bool) {
	band := SelectedTemperatureBand(level)
	switch {
	case requested < band.Min:
		return band.Min, true
	case requested > band.Max:
		return band.Max, true
	default:
		return requested, false
	}
}
