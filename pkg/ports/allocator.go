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

// Package ports assigns the server and map ports of new worlds.
//
// Allocation is monotonic: each new world gets one more than the highest
// port handed out so far. Ports of deleted worlds are not reclaimed while
// the allocator lives.
package ports

import (
	"fmt"
	"net"
	"sync"
)

const (
	// DefaultServerBase is the first server (and query) port.
	DefaultServerBase = 25565
	// DefaultMapBase is the first map dashboard port.
	DefaultMapBase = 8123
	// MaxPort is the highest valid TCP port.
	MaxPort = 65535
)

// AllocatorConfig holds configuration for port allocation.
type AllocatorConfig struct {
	ServerBase int
	MapBase    int
}

// DefaultAllocatorConfig returns default configuration.
func DefaultAllocatorConfig() *AllocatorConfig {
	return &AllocatorConfig{
		ServerBase: DefaultServerBase,
		MapBase:    DefaultMapBase,
	}
}

// Pair is the port assignment of one world.
type Pair struct {
	Server int `json:"server_port"`
	Map    int `json:"map_port"`
}

// Allocator hands out port pairs.
type Allocator struct {
	config *AllocatorConfig

	mu         sync.Mutex
	highServer int
	highMap    int
}

// NewAllocator creates a new port allocator.
func NewAllocator(config *AllocatorConfig) *Allocator {
	if config == nil {
		config = DefaultAllocatorConfig()
	}

	return &Allocator{
		config: config,
	}
}

// Next returns the pair for a new world given the highest ports currently
// recorded (zero when no world exists). The result is also above every
// pair this allocator returned before, so a port freed by a deletion is
// not handed out again.
func (a *Allocator) Next(maxServer, maxMap int) (Pair, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	server := nextAbove(a.config.ServerBase, maxServer, a.highServer)
	mapPort := nextAbove(a.config.MapBase, maxMap, a.highMap)

	if server > MaxPort || mapPort > MaxPort {
		return Pair{}, fmt.Errorf("port space exhausted (server %d, map %d)", server, mapPort)
	}
	if server == mapPort {
		return Pair{}, fmt.Errorf("server and map port ranges collide at %d", server)
	}

	a.highServer = server
	a.highMap = mapPort

	return Pair{Server: server, Map: mapPort}, nil
}

// nextAbove returns base when nothing has been allocated, otherwise one
// more than the highest of recorded and previously allocated.
func nextAbove(base, recorded, allocated int) int {
	high := recorded
	if allocated > high {
		high = allocated
	}
	if high < base {
		return base
	}
	return high + 1
}

// isPortAvailable checks if a specific port is available.
func (a *Allocator) isPortAvailable(port int) bool {
	// Try to bind to the port
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// IsPortInUse checks if a port is currently bound by some process.
func (a *Allocator) IsPortInUse(port int) bool {
	return !a.isPortAvailable(port)
}

// InUse returns the ports of p that are currently bound.
func (a *Allocator) InUse(p Pair) []int {
	busy := []int{}
	for _, port := range []int{p.Server, p.Map} {
		if a.IsPortInUse(port) {
			busy = append(busy, port)
		}
	}
	return busy
}
