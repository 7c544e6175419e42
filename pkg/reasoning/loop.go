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

// Package reasoning implements the bounded tool loop: the per-turn
// conversation with the LLM provider, tool-call dispatch through the
// governed middleware chain, and the terminal stop-reason taxonomy.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haru0416-dev/aegis-agent/pkg/llms"
	"github.com/haru0416-dev/aegis-agent/pkg/tools"
)

// LoopStopReason is the terminal outcome of a ToolLoop run.
type LoopStopReason int

const (
	StopCompleted LoopStopReason = iota
	StopMaxIterations
	StopRateLimited
	StopApprovalDenied
	StopError
)

func (r LoopStopReason) String() string {
	switch r {
	case StopCompleted:
		return "completed"
	case StopMaxIterations:
		return "max_iterations"
	case StopRateLimited:
		return "rate_limited"
	case StopApprovalDenied:
		return "approval_denied"
	case StopError:
		return "error"
	default:
		return "unknown"
	}
}

// MaxRepeatedCallStreak bounds identical (tool, canonicalized-args) calls
// made back to back before the loop aborts rather than letting a
// confused provider retry the same failing call indefinitely.
const MaxRepeatedCallStreak = 3

// Result is what a ToolLoop run returns to the turn orchestrator.
type Result struct {
	StopReason LoopStopReason
	Err        error
	Messages   []llms.Message // full provider-message trace appended this turn
	FinalText  string
	TokensUsed int
	Iterations int
}

// ToolLoop drives the bounded reasoning loop:
// call the provider with the available tools, dispatch any requested
// tool calls through the governed middleware chain, and repeat until the
// provider stops asking for tools or a terminal condition is hit.
type ToolLoop struct {
	Provider      llms.Provider
	Tools         *tools.ToolRegistry
	ExecutionCtx  *tools.ExecutionContext
	MaxIterations int
}

// NewToolLoop builds a loop bounded by maxIterations (the safety valve,
// not the primary termination condition — semantic stop conditions like
// "no more tool calls" end the loop far sooner in practice).
func NewToolLoop(provider llms.Provider, registry *tools.ToolRegistry, ec *tools.ExecutionContext, maxIterations int) *ToolLoop {
	if maxIterations <= 0 {
		maxIterations = 100
	}
	return &ToolLoop{Provider: provider, Tools: registry, ExecutionCtx: ec, MaxIterations: maxIterations}
}

// Run executes the loop against an initial message list — system prompt,
// user message, and any prior provider messages the context builder
// already assembled — returning once a terminal stop reason is reached.
func (l *ToolLoop) Run(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition) Result {
	conversation := append([]llms.Message{}, messages...)
	streak := &callStreak{}

	for iteration := 1; iteration <= l.MaxIterations; iteration++ {
		text, toolCalls, tokens, err := l.Provider.Generate(ctx, conversation, toolDefs)
		if err != nil {
			slog.Error("tool loop provider call failed", "iteration", iteration, "error", err)
			return Result{StopReason: StopError, Err: err, Messages: conversation, Iterations: iteration}
		}

		if result, done := l.advance(ctx, &conversation, streak, iteration, text, toolCalls, tokens); done {
			return result
		}
	}

	slog.Warn("tool loop hit max iterations", "max_iterations", l.MaxIterations)
	return Result{StopReason: StopMaxIterations, Messages: conversation, Iterations: l.MaxIterations}
}

// RunStreaming mirrors Run but drives the provider's streaming path,
// forwarding text chunks to chunkCh as they arrive. chunkCh is closed by
// the caller's consumption loop ending, not by RunStreaming itself — the
// loop only ever sends.
func (l *ToolLoop) RunStreaming(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, chunkCh chan<- llms.StreamChunk) Result {
	conversation := append([]llms.Message{}, messages...)
	streak := &callStreak{}

	for iteration := 1; iteration <= l.MaxIterations; iteration++ {
		stream, err := l.Provider.GenerateStreaming(ctx, conversation, toolDefs)
		if err != nil {
			slog.Error("tool loop streaming call failed", "iteration", iteration, "error", err)
			return Result{StopReason: StopError, Err: err, Messages: conversation, Iterations: iteration}
		}

		var text string
		var toolCalls []llms.ToolCall
		var tokens int
		for chunk := range stream {
			switch chunk.Type {
			case "text":
				text += chunk.Text
				chunkCh <- chunk
			case "tool_call":
				if chunk.ToolCall != nil {
					toolCalls = append(toolCalls, *chunk.ToolCall)
				}
			case "done":
				tokens = chunk.Tokens
			case "error":
				slog.Error("tool loop stream chunk error", "iteration", iteration, "error", chunk.Error)
				return Result{StopReason: StopError, Err: chunk.Error, Messages: conversation, Iterations: iteration}
			}
		}

		if result, done := l.advance(ctx, &conversation, streak, iteration, text, toolCalls, tokens); done {
			return result
		}
	}

	slog.Warn("tool loop hit max iterations", "max_iterations", l.MaxIterations)
	return Result{StopReason: StopMaxIterations, Messages: conversation, Iterations: l.MaxIterations}
}

// advance applies one resolved provider response (however it was
// obtained) to the conversation: appends the assistant turn, and if it
// requested tools, dispatches each through the middleware chain and
// appends the tool results. Returns done=true once a terminal condition
// is reached.
func (l *ToolLoop) advance(ctx context.Context, conversation *[]llms.Message, streak *callStreak, iteration int, text string, toolCalls []llms.ToolCall, tokens int) (Result, bool) {
	if len(toolCalls) == 0 {
		*conversation = append(*conversation, llms.Message{Role: "assistant", Content: text})
		return Result{StopReason: StopCompleted, Messages: *conversation, FinalText: text, TokensUsed: tokens, Iterations: iteration}, true
	}

	*conversation = append(*conversation, llms.Message{Role: "assistant", Content: text, ToolCalls: toolCalls})

	for _, tc := range toolCalls {
		if streak.observe(tc) > MaxRepeatedCallStreak {
			slog.Warn("tool loop aborting on repeated-call streak", "tool", tc.Name, "limit", MaxRepeatedCallStreak)
			err := fmt.Errorf("tool %q called identically %d times in a row", tc.Name, MaxRepeatedCallStreak)
			return Result{StopReason: StopError, Err: err, Messages: *conversation, Iterations: iteration}, true
		}

		result, execErr := l.Tools.ExecuteToolGoverned(ctx, tc.Name, tc.Arguments, l.ExecutionCtx)
		if execErr != nil {
			return Result{StopReason: StopError, Err: execErr, Messages: *conversation, Iterations: iteration}, true
		}

		*conversation = append(*conversation, toolResultMessage(tc, result))

		if blocked, _ := result.Metadata["blocked"].(bool); blocked {
			kind, _ := result.Metadata["blocked_kind"].(string)
			stop := StopApprovalDenied
			if kind == "rate_limited" {
				stop = StopRateLimited
			}
			return Result{StopReason: stop, Err: errors.New(result.Error), Messages: *conversation, Iterations: iteration}, true
		}
	}

	return Result{}, false
}

func toolResultMessage(tc llms.ToolCall, result tools.ToolResult) llms.Message {
	content := result.Content
	if !result.Success && result.Error != "" {
		content = result.Error
	}
	return llms.Message{Role: "tool", Content: content, ToolCallID: tc.ID, Name: tc.Name}
}
