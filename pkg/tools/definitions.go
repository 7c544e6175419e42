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

package tools

import "github.com/haru0416-dev/aegis-agent/pkg/llms"

// ToolDefinitions converts the registry's currently discoverable tools
// (respecting excludeInternal) into the provider-facing function-calling
// surface: {name, description, parameters JSONSchema}.
func (r *ToolRegistry) ToolDefinitions(excludeInternal bool) []llms.ToolDefinition {
	infos := r.ListToolsWithFilter(excludeInternal)
	defs := make([]llms.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, toolDefinitionFromInfo(info))
	}
	return defs
}

func toolDefinitionFromInfo(info ToolInfo) llms.ToolDefinition {
	properties := make(map[string]interface{}, len(info.Parameters))
	var required []string

	for _, p := range info.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = p.Items
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return llms.ToolDefinition{
		Name:        info.Name,
		Description: info.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
