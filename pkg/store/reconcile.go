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

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Reconcile resets worlds left active by a previous supervisor.
//
// A fresh supervisor holds no process handles, so any record still in
// STARTING, RUNNING or STOPPING describes a process this instance does not
// own. Such records are forced to STOPPED. CREATING records left by an
// interrupted provisioning are marked ERROR. Returns the number of
// records changed.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	fixed := 0
	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		now := s.now().UTC().UnixMilli()

		if err := sqlitex.Execute(conn,
			`UPDATE worlds SET status = ?, updated_at = ? WHERE status IN (?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{string(StatusStopped), now,
					string(StatusStarting), string(StatusRunning), string(StatusStopping)},
			}); err != nil {
			return err
		}
		fixed += conn.Changes()

		if err := sqlitex.Execute(conn,
			`UPDATE worlds SET status = ?, updated_at = ? WHERE status = ?`,
			&sqlitex.ExecOptions{
				Args: []any{string(StatusError), now, string(StatusCreating)},
			}); err != nil {
			return err
		}
		fixed += conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile world records: %w", err)
	}

	if fixed > 0 {
		s.logger.Info("reconciled stale world records", zap.Int("count", fixed))
	}
	return fixed, nil
}
