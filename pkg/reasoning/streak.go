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

package reasoning

import (
	"encoding/json"

	"github.com/haru0416-dev/aegis-agent/pkg/llms"
)

// callStreak tracks consecutive identical (tool name + canonicalized
// arguments) calls across loop iterations.
type callStreak struct {
	lastKey string
	count   int
}

// observe records one call and returns the current streak length,
// including this call.
func (s *callStreak) observe(tc llms.ToolCall) int {
	key := canonicalCallKey(tc)
	if key == s.lastKey {
		s.count++
	} else {
		s.lastKey = key
		s.count = 1
	}
	return s.count
}

// canonicalCallKey builds a comparison key from a tool call. Go's
// json.Marshal emits map keys in sorted order, so two calls with the
// same arguments in different insertion order still canonicalize to the
// same key.
func canonicalCallKey(tc llms.ToolCall) string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil {
		return tc.Name + ":" + tc.RawArgs
	}
	return tc.Name + ":" + string(args)
}
