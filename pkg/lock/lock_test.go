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

package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "fleet.db.lock")

	l, err := Acquire(path, "run")
	require.NoError(t, err)
	defer l.Release()

	assert.Equal(t, path, l.Path())
	assert.FileExists(t, path)

	owner, err := ReadOwner(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "run", owner.Command)
	assert.WithinDuration(t, time.Now(), owner.AcquiredAt, 5*time.Second)
}

func TestAcquire_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db.lock")

	first, err := Acquire(path, "run")
	require.NoError(t, err)

	_, err = Acquire(path, "create")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Contains(t, err.Error(), "run")

	require.NoError(t, first.Release())

	second, err := Acquire(path, "create")
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestRelease_Idempotent(t *testing.T) {
	l, err := Acquire(filepath.Join(t.TempDir(), "fleet.db.lock"), "run")
	require.NoError(t, err)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db.lock")

	t.Run("no lock file", func(t *testing.T) {
		_, ok, err := Holder(path)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("held", func(t *testing.T) {
		l, err := Acquire(path, "run")
		require.NoError(t, err)
		defer l.Release()

		owner, ok, err := Holder(path)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, os.Getpid(), owner.PID)
		assert.Equal(t, "run", owner.Command)
	})

	t.Run("released", func(t *testing.T) {
		_, ok, err := Holder(path)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "/srv/fleet.db.lock", PathFor("/srv/fleet.db"))
}

func TestReadOwner_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db.lock")
	require.NoError(t, os.WriteFile(path, []byte("not metadata\nPID=abc\n"), 0o600))

	owner, err := ReadOwner(path)
	require.NoError(t, err)
	assert.Zero(t, owner.PID)
	assert.True(t, owner.AcquiredAt.IsZero())
}
