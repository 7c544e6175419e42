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

// Command hector is the CLI for the agent runtime: it loads a
// workspace's runtime.yaml, builds the turn orchestrator it describes,
// and either serves the HTTP gateway or drives a local chat REPL
// against it directly.
//
// Usage:
//
//	hector serve --config runtime.yaml
//	hector chat --config runtime.yaml
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/haru0416-dev/aegis-agent/pkg/runtime"
	"github.com/haru0416-dev/aegis-agent/pkg/server"
	"github.com/haru0416-dev/aegis-agent/pkg/turn"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve VersionedServeCmd `cmd:"" name:"serve" help:"Start the HTTP gateway."`
	Chat  ChatCmd           `cmd:"" help:"Start a local chat session against the orchestrator."`

	Version VersionCmd `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("hector version %s\n", version)
	return nil
}

// VersionedServeCmd starts the HTTP gateway described in the workspace
// config at Config.
type VersionedServeCmd struct {
	Config string `short:"c" help:"Path to runtime config file." type:"path" default:"runtime.yaml"`
}

func (c *VersionedServeCmd) Run() error {
	cfg, err := runtime.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := runtime.Build(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	srv, err := server.New(rt)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// The built runtime holds the config it started with; a changed
	// file takes effect on the next start.
	if err := runtime.Watch(c.Config, func(*runtime.Config) {
		slog.Info("runtime config changed on disk; restart to apply", "path", c.Config)
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx)
}

// ChatCmd runs a local REPL against the orchestrator without the HTTP
// gateway, the way a single-user terminal session would use it.
type ChatCmd struct {
	Config   string `short:"c" help:"Path to runtime config file." type:"path" default:"runtime.yaml"`
	EntityID string `help:"Entity id to chat as." default:"local"`
}

func (c *ChatCmd) Run() error {
	cfg, err := runtime.Load(c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := runtime.Build(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	ctx := context.Background()
	wc := turn.DefaultWriteContext(c.EntityID)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("hector chat — type /quit to exit")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		if line == "/quit" {
			return nil
		}
		if line == "" {
			continue
		}

		outcome, err := rt.Orchestrator.ExecuteTurn(ctx, wc, line, turn.Options{
			ToolDefs: rt.Tools.ToolDefinitions(true),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(outcome.Response)
	}
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("hector"),
		kong.Description("Persistent, policy-governed conversational agent runtime"),
		kong.UsageOnError(),
	)

	_, _, _, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
