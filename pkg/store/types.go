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

// Package store persists world records in SQLite.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no world has the requested id.
var ErrNotFound = errors.New("world not found")

// Status is the persisted lifecycle state of a world.
type Status string

const (
	// StatusCreating is used while the workspace is being provisioned.
	StatusCreating Status = "CREATING"
	// StatusStopped indicates no process is running.
	StatusStopped Status = "STOPPED"
	// StatusStarting indicates the process is up but not yet ready.
	StatusStarting Status = "STARTING"
	// StatusRunning indicates the process reported readiness.
	StatusRunning Status = "RUNNING"
	// StatusStopping indicates a stop was requested and exit is pending.
	StatusStopping Status = "STOPPING"
	// StatusError indicates a failed start or an unexpected exit.
	StatusError Status = "ERROR"
)

// Active reports whether a process may exist for a world in this state.
func (s Status) Active() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusStopping:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreating, StatusStopped, StatusStarting, StatusRunning, StatusStopping, StatusError:
		return true
	default:
		return false
	}
}

// World is one persisted world record.
type World struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Seed       string    `json:"seed"`
	Path       string    `json:"path"`
	ServerPort int       `json:"server_port"`
	MapPort    int       `json:"map_port"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
