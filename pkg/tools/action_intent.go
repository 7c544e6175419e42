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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ActionIntentLog gives every externally-acting tool call a durable
// audit record under action_intents/<uuid>.jsonl: one file per intent,
// two lines — the intent before execution and its outcome after. The
// in-memory action tracker's sliding window is allowed to reset on
// restart; this file is the part of the audit that isn't.
type ActionIntentLog struct {
	dir string
}

// NewActionIntentLog roots the log at dir, creating it if needed.
func NewActionIntentLog(dir string) (*ActionIntentLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create action_intents dir: %w", err)
	}
	return &ActionIntentLog{dir: dir}, nil
}

type actionIntentRecord struct {
	IntentID  string    `json:"intent_id"`
	Phase     string    `json:"phase"` // "intent" | "outcome"
	EntityID  string    `json:"entity_id,omitempty"`
	Tool      string    `json:"tool"`
	Args      string    `json:"args,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// ActionIntent is one open intent; Finish closes it with the outcome.
type ActionIntent struct {
	log      *ActionIntentLog
	intentID string
	entityID string
	tool     string
}

// Begin records the intent line and returns a handle for Finish. Never
// fails the tool call: a write error logs and returns a handle whose
// Finish is a no-op.
func (l *ActionIntentLog) Begin(entityID, tool string, args map[string]interface{}) *ActionIntent {
	intent := &ActionIntent{log: l, intentID: uuid.NewString(), entityID: entityID, tool: tool}
	rec := actionIntentRecord{
		IntentID:  intent.intentID,
		Phase:     "intent",
		EntityID:  entityID,
		Tool:      tool,
		Args:      marshalArgsRedacted(args),
		Timestamp: time.Now(),
	}
	if err := l.append(intent.intentID, rec); err != nil {
		slog.Warn("action intent write failed", "tool", tool, "error", err)
		intent.log = nil
	}
	return intent
}

// Finish appends the outcome line to the intent's file.
func (i *ActionIntent) Finish(success bool, errText string) {
	if i == nil || i.log == nil {
		return
	}
	rec := actionIntentRecord{
		IntentID:  i.intentID,
		Phase:     "outcome",
		EntityID:  i.entityID,
		Tool:      i.tool,
		Success:   &success,
		Error:     redactSecrets(errText),
		Timestamp: time.Now(),
	}
	if err := i.log.append(i.intentID, rec); err != nil {
		slog.Warn("action intent outcome write failed", "tool", i.tool, "error", err)
	}
}

func (l *ActionIntentLog) append(intentID string, rec actionIntentRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, intentID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// marshalArgsRedacted serializes tool args for the audit record with
// the same secret scrubbing the output path applies, so a key passed
// as an argument never lands in the audit file in the clear.
func marshalArgsRedacted(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	b, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return redactSecrets(string(b))
}
