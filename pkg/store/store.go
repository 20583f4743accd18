// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS worlds (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	seed        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'STOPPED',
	path        TEXT UNIQUE NOT NULL,
	server_port INTEGER UNIQUE NOT NULL,
	map_port    INTEGER UNIQUE NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
`

const worldColumns = `id, name, seed, status, path, server_port, map_port, created_at, updated_at`

// Config holds configuration for the world store.
type Config struct {
	// Path is the SQLite database file. Its directory is created if needed.
	Path string
	// PoolSize is the number of pooled connections (default 4).
	PoolSize int
	Logger   *zap.Logger
}

// Store is the SQLite-backed world record store. It is safe for
// concurrent use.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if necessary) the world database.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	pool, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", config.Path, err)
	}

	logger.Debug("world store opened", zap.String("path", config.Path), zap.Int("pool_size", poolSize))

	return &Store{
		pool:   pool,
		path:   config.Path,
		logger: logger,
		now:    time.Now,
	}, nil
}

// prepareConn applies pragmas and ensures the schema on every new
// connection.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close closes all pooled connections.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close database %s: %w", s.path, err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take database connection: %w", err)
	}
	defer s.pool.Put(conn)

	return fn(conn)
}

// ListWorlds returns every world ordered by id.
func (s *Store) ListWorlds(ctx context.Context) ([]World, error) {
	worlds := []World{}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+worldColumns+` FROM worlds ORDER BY id`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				worlds = append(worlds, scanWorld(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list worlds: %w", err)
	}
	return worlds, nil
}

// GetWorld returns one world or ErrNotFound.
func (s *Store) GetWorld(ctx context.Context, id int64) (World, error) {
	var (
		world World
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT `+worldColumns+` FROM worlds WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				world = scanWorld(stmt)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return World{}, fmt.Errorf("failed to get world %d: %w", id, err)
	}
	if !found {
		return World{}, fmt.Errorf("world %d: %w", id, ErrNotFound)
	}
	return world, nil
}

// InsertWorld records a new world and returns its id. The ID, CreatedAt
// and UpdatedAt fields of w are ignored.
func (s *Store) InsertWorld(ctx context.Context, w World) (int64, error) {
	if w.Status == "" {
		w.Status = StatusStopped
	}
	if !w.Status.Valid() {
		return 0, fmt.Errorf("invalid status %q", w.Status)
	}

	now := s.now().UTC().UnixMilli()
	var id int64
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO worlds (name, seed, status, path, server_port, map_port, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{w.Name, w.Seed, string(w.Status), w.Path, w.ServerPort, w.MapPort, now, now},
			})
		if err != nil {
			return err
		}
		id = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert world %q: %w", w.Name, err)
	}

	s.logger.Debug("world recorded", zap.Int64("world_id", id), zap.String("path", w.Path))
	return id, nil
}

// UpdateWorldStatus sets the status of a world.
func (s *Store) UpdateWorldStatus(ctx context.Context, id int64, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	var changed int
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE worlds SET status = ?, updated_at = ? WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{string(status), s.now().UTC().UnixMilli(), id},
		})
		if err != nil {
			return err
		}
		changed = conn.Changes()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update world %d status: %w", id, err)
	}
	if changed == 0 {
		return fmt.Errorf("world %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteWorldRecord removes a world. Removing an unknown id is not an
// error.
func (s *Store) DeleteWorldRecord(ctx context.Context, id int64) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM worlds WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{id},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to delete world %d: %w", id, err)
	}
	return nil
}

// MaxAllocatedPorts returns the highest recorded server and map ports, or
// zeros when there are no worlds.
func (s *Store) MaxAllocatedPorts(ctx context.Context) (serverPort, mapPort int, err error) {
	err = s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT COALESCE(MAX(server_port), 0), COALESCE(MAX(map_port), 0) FROM worlds`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					serverPort = stmt.ColumnInt(0)
					mapPort = stmt.ColumnInt(1)
					return nil
				},
			})
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read allocated ports: %w", err)
	}
	return serverPort, mapPort, nil
}

func scanWorld(stmt *sqlite.Stmt) World {
	return World{
		ID:         stmt.ColumnInt64(0),
		Name:       stmt.ColumnText(1),
		Seed:       stmt.ColumnText(2),
		Status:     Status(stmt.ColumnText(3)),
		Path:       stmt.ColumnText(4),
		ServerPort: stmt.ColumnInt(5),
		MapPort:    stmt.ColumnInt(6),
		CreatedAt:  time.UnixMilli(stmt.ColumnInt64(7)),
		UpdatedAt:  time.UnixMilli(stmt.ColumnInt64(8)),
	}
}
