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

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// mcpStdioClient wraps a subprocess MCP server driven over its own stdin/stdout,
// guarded separately from MCPToolSource.mu since Close() can race a discovery
// retry from a background supervisor.
type mcpStdioClient struct {
	mu  sync.Mutex
	cli *client.Client
}

func (r *MCPToolSource) discoverToolsStdio(ctx context.Context) error {
	if r.command == "" {
		return fmt.Errorf("command not configured for stdio MCP source %s", r.name)
	}

	slog.Info("Starting MCP server over stdio", "source", r.name, "command", r.command)

	env := make([]string, 0, len(r.env))
	for k, v := range r.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	cli, err := client.NewStdioMCPClient(r.command, env, r.args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP stdio client for %s: %w", r.name, err)
	}

	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP server %s: %w", r.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "aegis-agent",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := cli.Initialize(ctx, initReq); err != nil {
		cli.Close()
		return fmt.Errorf("failed to initialize MCP server %s: %w", r.name, err)
	}

	listResp, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return fmt.Errorf("failed to list tools from MCP server %s: %w", r.name, err)
	}

	r.stdio = &mcpStdioClient{cli: cli}

	for _, mcpTool := range listResp.Tools {
		if r.filter != nil && !r.filter[mcpTool.Name] {
			continue
		}

		toolInfo := ToolInfo{
			Name:        mcpTool.Name,
			Description: mcpTool.Description,
			ServerURL:   r.name,
			Parameters:  convertMCPSchema(mcpTool.InputSchema),
		}
		r.tools[toolInfo.Name] = &MCPTool{toolInfo: toolInfo, source: r}
	}

	var toolNames []string
	for name := range r.tools {
		toolNames = append(toolNames, name)
	}
	if len(toolNames) == 0 {
		slog.Warn("MCP stdio source discovered 0 tools", "source", r.name)
		return nil
	}
	slog.Info("MCP stdio source discovered tools", "source", r.name, "count", len(r.tools), "tools", toolNames)
	return nil
}

// convertMCPSchema flattens mcp-go's JSON-schema-shaped input schema into the
// flat ToolParameter list the rest of this package's function-calling surface
// expects (the same properties/required shape discoverToolsFromServer parses
// for HTTP sources). Marshaled through JSON rather than read off typed struct
// fields since mcp-go's ToolInputSchema shape varies across its own versions.
func convertMCPSchema(schema mcp.ToolInputSchema) []ToolParameter {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	properties, ok := raw["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := raw["required"].([]interface{}); ok {
		for _, v := range reqList {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	}

	var params []ToolParameter
	for name, rawProp := range properties {
		prop, ok := rawProp.(map[string]interface{})
		if !ok {
			continue
		}
		paramType := getString(prop, "type")
		if paramType == "" {
			continue
		}
		param := ToolParameter{
			Name:        name,
			Type:        paramType,
			Description: getString(prop, "description"),
			Required:    required[name],
		}
		if enum, ok := prop["enum"].([]interface{}); ok {
			for _, v := range enum {
				if s, ok := v.(string); ok {
					param.Enum = append(param.Enum, s)
				}
			}
		}
		if paramType == "array" {
			if items, ok := prop["items"].(map[string]interface{}); ok {
				param.Items = items
			} else {
				param.Items = map[string]interface{}{"type": "string"}
			}
		}
		params = append(params, param)
	}
	return params
}

func (t *MCPTool) executeStdio(ctx context.Context, args map[string]interface{}, start time.Time) (ToolResult, error) {
	stdio := t.source.stdio
	if stdio == nil {
		err := fmt.Errorf("MCP stdio client not connected for source %s", t.source.name)
		return buildMCPErrorResult(t.toolInfo.Name, err.Error(), time.Since(start), t.source.name, ""), err
	}

	stdio.mu.Lock()
	cli := stdio.cli
	stdio.mu.Unlock()

	req := mcp.CallToolRequest{}
	req.Params.Name = t.toolInfo.Name
	req.Params.Arguments = args

	resp, err := cli.CallTool(ctx, req)
	if err != nil {
		return buildMCPErrorResult(t.toolInfo.Name, err.Error(), time.Since(start), t.source.name, ""), err
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	content := ""
	if len(texts) > 0 {
		content = texts[0]
		for _, extra := range texts[1:] {
			content += "\n" + extra
		}
	}

	if resp.IsError {
		errMsg := content
		if errMsg == "" {
			errMsg = "tool reported error"
		}
		err := fmt.Errorf("MCP tool error: %s", errMsg)
		return buildMCPErrorResult(t.toolInfo.Name, errMsg, time.Since(start), t.source.name, ""), err
	}

	return buildMCPSuccessResult(t.toolInfo.Name, content, time.Since(start), t.source.name, "", nil), nil
}

// Close shuts down a stdio-backed MCP subprocess. HTTP/SSE sources have no
// persistent connection to tear down.
func (r *MCPToolSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stdio == nil {
		return nil
	}
	r.stdio.mu.Lock()
	defer r.stdio.mu.Unlock()
	err := r.stdio.cli.Close()
	r.stdio = nil
	return err
}
