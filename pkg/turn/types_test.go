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
)

func TestCallAccountingBudget(t *testing.T) {
	plain := NewCallAccounting(false)
	require.Equal(t, 1, plain.Budget())
	require.NoError(t, plain.ConsumeAnswerCall())
	require.Error(t, plain.ConsumeAnswerCall(), "the answer call is single-use")
	require.Error(t, plain.ConsumeReflectCall(), "no reflect call without persona")

	persona := NewCallAccounting(true)
	require.Equal(t, 2, persona.Budget())
	require.NoError(t, persona.ConsumeAnswerCall())
	require.NoError(t, persona.ConsumeReflectCall())
	require.Error(t, persona.ConsumeReflectCall(), "the reflect call is single-use")
}

func TestWriteContextEnforcement(t *testing.T) {
	require.NoError(t, DefaultWriteContext("user-1").EnforceWriteScope())

	empty := DefaultWriteContext("")
	require.Error(t, empty.EnforceWriteScope())

	frozen := DefaultWriteContext("user-1")
	frozen.AllowWrites = false
	require.Error(t, frozen.EnforceWriteScope())
}
