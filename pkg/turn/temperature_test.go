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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haru0416-dev/aegis-agent/pkg/policy"
)

func TestClampTemperature(t *testing.T) {
	tests := []struct {
		name        string
		level       policy.AutonomyLevel
		requested   float64
		want        float64
		wantClamped bool
	}{
		{"read-only clamps creative request", policy.AutonomyReadOnly, 0.9, 0.3, true},
		{"read-only passes deterministic request", policy.AutonomyReadOnly, 0.1, 0.1, false},
		{"supervised passes its default ceiling", policy.AutonomySupervised, 0.7, 0.7, false},
		{"supervised clamps above ceiling", policy.AutonomySupervised, 1.0, 0.7, true},
		{"full allows the provider's creative range", policy.AutonomyFull, 1.2, 1.2, false},
		{"full clamps past validated maximum", policy.AutonomyFull, 2.0, 1.2, true},
		{"negative requests clamp up to the band floor", policy.AutonomySupervised, -0.5, 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, clamped := ClampTemperature(tt.level, tt.requested)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestSelectedTemperatureBandDefaultsToSupervised(t *testing.T) {
	band := SelectedTemperatureBand(policy.AutonomyLevel(99))
	require.Equal(t, SelectedTemperatureBand(policy.AutonomySupervised), band)
}
