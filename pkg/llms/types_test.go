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

package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToolInfoToDefinition(t *testing.T) {
	params := []interface{}{
		map[string]interface{}{
			"name":        "path",
			"type":        "string",
			"description": "File path",
			"required":    true,
		},
		map[string]interface{}{
			"name":        "content",
			"type":        "string",
			"description": "Content to write",
			"required":    false,
		},
	}

	def := ConvertToolInfoToDefinition("write_file", "Write a file", params)

	assert.Equal(t, "write_file", def.Name)
	assert.Equal(t, "Write a file", def.Description)

	schema := def.Parameters
	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, properties, "path")
	require.Contains(t, properties, "content")

	pathProp := properties["path"].(map[string]interface{})
	assert.Equal(t, "string", pathProp["type"])
	assert.Equal(t, "File path", pathProp["description"])

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"path"}, required)
}

func TestConvertToolInfoToDefinition_EmptyParams(t *testing.T) {
	def := ConvertToolInfoToDefinition("ping", "No-arg tool", nil)

	assert.Equal(t, "ping", def.Name)
	schema := def.Parameters
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["required"])
}

func TestConvertToolInfoToDefinition_SkipsMalformedParams(t *testing.T) {
	params := []interface{}{
		"not a map",
		map[string]interface{}{
			"name":        "good",
			"type":        "string",
			"description": "valid entry",
			"required":    true,
		},
	}

	def := ConvertToolInfoToDefinition("tool", "desc", params)
	properties := def.Parameters["properties"].(map[string]interface{})
	assert.Len(t, properties, 1)
	assert.Contains(t, properties, "good")
}
