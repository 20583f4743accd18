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

package fleet

import (
	"errors"
	"fmt"

	"github.com/pigeonworks-llc/go-fleetvisor/pkg/process"
	"github.com/pigeonworks-llc/go-fleetvisor/pkg/store"
)

var (
	// ErrNotFound is returned for an unknown world id.
	ErrNotFound = errors.New("world not found")
	// ErrAlreadyRunning is returned when starting a world that has a process.
	ErrAlreadyRunning = errors.New("world is already running")
	// ErrNotRunning is returned when a world has no process to talk to.
	ErrNotRunning = errors.New("world is not running")
	// ErrProvision is returned when a workspace cannot be created or is
	// unusable.
	ErrProvision = errors.New("failed to provision world")
	// ErrIO is returned when a workspace cannot be removed.
	ErrIO = errors.New("world filesystem operation failed")
	// ErrSpawn is returned when a world process could not be launched.
	ErrSpawn = process.ErrSpawn
	// ErrInvalidWorld is returned for bad world input or a world whose state
	// does not allow the operation.
	ErrInvalidWorld = errors.New("invalid world")
)

func notFound(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return fmt.Errorf("failed to load world %d: %w", id, err)
}
