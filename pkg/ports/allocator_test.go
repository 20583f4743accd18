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

package ports

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Next(t *testing.T) {
	t.Run("starts at the default bases", func(t *testing.T) {
		alloc := NewAllocator(nil)

		pair, err := alloc.Next(0, 0)
		require.NoError(t, err)
		assert.Equal(t, Pair{Server: 25565, Map: 8123}, pair)
	})

	t.Run("follows the recorded maximum", func(t *testing.T) {
		alloc := NewAllocator(nil)

		pair, err := alloc.Next(25565, 8123)
		require.NoError(t, err)
		assert.Equal(t, Pair{Server: 25566, Map: 8124}, pair)
	})

	t.Run("sequential allocations are strictly increasing and unique", func(t *testing.T) {
		alloc := NewAllocator(nil)
		seen := map[int]bool{}
		maxServer, maxMap := 0, 0

		for i := 0; i < 50; i++ {
			pair, err := alloc.Next(maxServer, maxMap)
			require.NoError(t, err)

			assert.Greater(t, pair.Server, maxServer)
			assert.Greater(t, pair.Map, maxMap)
			assert.False(t, seen[pair.Server], "server port %d reused", pair.Server)
			assert.False(t, seen[pair.Map], "map port %d reused", pair.Map)
			seen[pair.Server] = true
			seen[pair.Map] = true

			maxServer, maxMap = pair.Server, pair.Map
		}
	})

	t.Run("does not reclaim ports after the highest world is deleted", func(t *testing.T) {
		alloc := NewAllocator(nil)

		first, err := alloc.Next(0, 0)
		require.NoError(t, err)
		second, err := alloc.Next(first.Server, first.Map)
		require.NoError(t, err)

		// The store now only remembers the first world.
		third, err := alloc.Next(first.Server, first.Map)
		require.NoError(t, err)
		assert.Equal(t, second.Server+1, third.Server)
		assert.Equal(t, second.Map+1, third.Map)
	})

	t.Run("honours custom bases", func(t *testing.T) {
		alloc := NewAllocator(&AllocatorConfig{ServerBase: 30000, MapBase: 31000})

		pair, err := alloc.Next(0, 0)
		require.NoError(t, err)
		assert.Equal(t, Pair{Server: 30000, Map: 31000}, pair)
	})

	t.Run("fails when the port space is exhausted", func(t *testing.T) {
		alloc := NewAllocator(nil)

		_, err := alloc.Next(MaxPort, 8123)
		assert.Error(t, err)
	})

	t.Run("fails when ranges collide", func(t *testing.T) {
		alloc := NewAllocator(&AllocatorConfig{ServerBase: 9000, MapBase: 9000})

		_, err := alloc.Next(0, 0)
		assert.Error(t, err)
	})
}

func TestAllocator_IsPortInUse(t *testing.T) {
	alloc := NewAllocator(nil)

	t.Run("detects occupied port", func(t *testing.T) {
		listener, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		defer listener.Close()

		port := listener.Addr().(*net.TCPAddr).Port

		assert.False(t, alloc.isPortAvailable(port))
		assert.True(t, alloc.IsPortInUse(port))
		assert.Equal(t, []int{port}, alloc.InUse(Pair{Server: port, Map: 0}))
	})

	t.Run("detects released port", func(t *testing.T) {
		listener, err := net.Listen("tcp", ":0")
		require.NoError(t, err)
		port := listener.Addr().(*net.TCPAddr).Port
		require.NoError(t, listener.Close())

		assert.False(t, alloc.IsPortInUse(port))
	})
}
