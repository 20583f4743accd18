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

// Package lock guards a fleet database against concurrent supervisors.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("fleet is locked by another supervisor")

// Owner describes the process holding a lock.
type Owner struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Command    string    `json:"command"`
}

// Lock is an exclusive advisory lock on a file. The kernel releases it
// when the holder exits, so a crashed supervisor never leaves it stale.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// PathFor returns the lock file guarding a database.
func PathFor(database string) string {
	return database + ".lock"
}

// Acquire takes the lock at path without blocking and records the
// calling process as its owner.
func Acquire(path, command string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	// #nosec G302 G304 - lock file under the operator's data directory
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if owner, readErr := ReadOwner(path); readErr == nil && owner.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d, %s)", ErrLocked, owner.PID, owner.Command)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	metadata := fmt.Sprintf("PID=%d\nTimestamp=%d\nCommand=%s\n",
		os.Getpid(),
		time.Now().Unix(),
		command,
	)
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to reset lock metadata: %w", err)
	}
	if _, err := f.WriteAt([]byte(metadata), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write lock metadata: %w", err)
	}

	return &Lock{path: path, file: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	_ = f.Truncate(0)
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return f.Close()
}

// Holder reports the current owner of the lock at path. ok is false when
// nobody holds it.
func Holder(path string) (owner Owner, ok bool, err error) {
	f, err := os.Open(path) // #nosec G304 - lock file path
	if err != nil {
		if os.IsNotExist(err) {
			return Owner{}, false, nil
		}
		return Owner{}, false, fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err == nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return Owner{}, false, nil
	} else if !errors.Is(err, unix.EWOULDBLOCK) {
		return Owner{}, false, fmt.Errorf("failed to probe lock: %w", err)
	}

	owner, err = ReadOwner(path)
	if err != nil {
		return Owner{}, true, err
	}
	return owner, true, nil
}

// ReadOwner parses the metadata written by Acquire.
func ReadOwner(path string) (Owner, error) {
	f, err := os.Open(path) // #nosec G304 - lock file path
	if err != nil {
		return Owner{}, fmt.Errorf("failed to open lock file: %w", err)
	}
	defer f.Close()

	metadata := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return Owner{}, fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, _ := strconv.Atoi(metadata["PID"])
	timestamp, _ := strconv.ParseInt(metadata["Timestamp"], 10, 64)

	owner := Owner{PID: pid, Command: metadata["Command"]}
	if timestamp > 0 {
		owner.AcquiredAt = time.Unix(timestamp, 0)
	}
	return owner, nil
}
