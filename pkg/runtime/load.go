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

package runtime

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
)

// baseConfig is the koanf layer under the config file: the knobs a
// minimal runtime.yaml shouldn't have to spell out.
var baseConfig = map[string]interface{}{
	"policy.autonomy": "supervised",
	"memory.backend":  "sql",
	"server.addr":     "127.0.0.1:8080",
}

// Load reads a runtime.yaml from path. Layering, lowest first: built-in
// base values, then the file's keys, then ${VAR} / ${VAR:-default}
// environment expansion over the merged tree. The result is defaulted
// and validated before it is returned.
func Load(path string) (*Config, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(baseConfig, "."), nil); err != nil {
		return nil, fmt.Errorf("load base config: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("read runtime config %s: %w", path, err)
	}

	expanded, ok := config.ExpandEnvVarsInData(k.Raw()).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("runtime config %s: top level must be a mapping", path)
	}
	if err := k.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return nil, fmt.Errorf("merge expanded config: %w", err)
	}

	cfg := &Config{}
	// Weak typing lets env-expanded scalars ("40", "true") land in
	// their typed fields.
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "yaml",
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("decode runtime config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	return cfg, nil
}

// Watch re-loads the config file on change and hands the re-validated
// result to onChange. A reload that fails to parse or validate is
// logged and dropped; the running config stays in effect.
func Watch(path string, onChange func(*Config)) error {
	f := file.Provider(path)
	return f.Watch(func(event interface{}, err error) {
		if err != nil {
			slog.Warn("config watch error", "path", path, "error", err)
			return
		}
		cfg, err := Load(path)
		if err != nil {
			slog.Warn("ignoring config reload", "path", path, "error", err)
			return
		}
		onChange(cfg)
	})
}
