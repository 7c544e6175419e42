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

// Package memoryfactory wires a pkg/memory.Store from configuration. It
// is kept out of pkg/memory itself because both storage backends import
// pkg/memory for the Store interface and data types; a factory living
// inside pkg/memory would create an import cycle.
package memoryfactory

import (
	"fmt"

	"github.com/haru0416-dev/aegis-agent/pkg/config"
	"github.com/haru0416-dev/aegis-agent/pkg/memory"
	"github.com/haru0416-dev/aegis-agent/pkg/memory/backendcol"
	"github.com/haru0416-dev/aegis-agent/pkg/memory/backendsql"
)

// Config selects and configures one storage backend.
type Config struct {
	// Backend is "sql" or "columnar".
	Backend string `yaml:"backend"`

	// Database configures the relational backend's connection; the
	// runtime defaults it to an embedded SQLite file under the
	// workspace when left unset.
	Database *config.DatabaseConfig `yaml:"database"`

	// Columnar backend settings.
	PersistPath string `yaml:"persist_path"`
	Compress    bool   `yaml:"compress"`

	// VectorIndex optionally offloads the SQL backend's embedding search to
	// an external index instead of its in-process BLOB-column cosine scan.
	// Only consulted when Backend is "sql".
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
}

// VectorIndexConfig selects an optional pluggable VectorIndex for the SQL
// backend. Type "" (the default) leaves RecallScoped on its brute-force
// in-process scan.
type VectorIndexConfig struct {
	Type       string `yaml:"type"` // "", "qdrant"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// New opens the configured backend and returns it behind the
// memory.Store interface. The pool is shared with every other SQL
// consumer in the process (the rate limiter's persistent store), so a
// SQLite workspace keeps its single-writer connection.
func New(cfg Config, pool *config.DBPool) (memory.Store, error) {
	switch cfg.Backend {
	case "sql", "":
		dbCfg := cfg.Database
		if dbCfg == nil {
			return nil, fmt.Errorf("memory.database is required for the sql backend")
		}
		db, err := pool.Get(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", dbCfg.Dialect(), err)
		}
		dialect := dbCfg.Dialect()

		var opts []backendsql.Option
		switch cfg.VectorIndex.Type {
		case "", "none":
		case "qdrant":
			collection := cfg.VectorIndex.Collection
			if collection == "" {
				collection = "memory_retrieval_docs"
			}
			idx, err := backendsql.NewQdrantIndex(backendsql.QdrantIndexConfig{
				Host:       cfg.VectorIndex.Host,
				Port:       cfg.VectorIndex.Port,
				APIKey:     cfg.VectorIndex.APIKey,
				UseTLS:     cfg.VectorIndex.UseTLS,
				Collection: collection,
			})
			if err != nil {
				return nil, fmt.Errorf("connect vector index: %w", err)
			}
			opts = append(opts, backendsql.WithVectorIndex(idx))
		default:
			return nil, fmt.Errorf("unknown vector index type: %s", cfg.VectorIndex.Type)
		}

		return backendsql.New(db, dialect, opts...)

	case "columnar":
		return backendcol.New(backendcol.Config{PersistPath: cfg.PersistPath, Compress: cfg.Compress})

	default:
		return nil, fmt.Errorf("unknown memory backend: %s", cfg.Backend)
	}
}
