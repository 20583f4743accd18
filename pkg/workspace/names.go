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

package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultMaxRetries bounds name collision retries.
const DefaultMaxRetries = 16

// NameGenerator reserves unique workspace directories under a root.
type NameGenerator struct {
	root       string
	maxRetries int
	newID      func() string
}

// NewNameGenerator creates a generator for directories under root.
func NewNameGenerator(root string) *NameGenerator {
	return &NameGenerator{
		root:       root,
		maxRetries: DefaultMaxRetries,
		newID:      func() string { return uuid.NewString() },
	}
}

// Reserve creates a new, empty directory with a random name and returns
// its path. Creation is atomic, so two callers never get the same path
// and an existing directory is never reused.
func (g *NameGenerator) Reserve() (string, error) {
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		path := filepath.Join(g.root, g.newID())

		// Mkdir fails if the path exists
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	return "", fmt.Errorf("unable to reserve a unique workspace after %d attempts", g.maxRetries)
}
