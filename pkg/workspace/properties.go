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
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// maxLabelLength bounds the motd so it fits the server list.
const maxLabelLength = 59

// RenderProperties returns the server.properties content for a world.
// Only seed, ports and the label vary; the policy flags are fixed.
func RenderProperties(spec Spec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "level-seed=%s\n", escapeValue(spec.Seed))
	fmt.Fprintf(&b, "server-port=%d\n", spec.ServerPort)
	fmt.Fprintf(&b, "query.port=%d\n", spec.ServerPort)
	fmt.Fprintf(&b, "motd=%s\n", escapeValue(Label(spec.Name)))
	b.WriteString("online-mode=false\n")
	b.WriteString("max-players=4\n")
	b.WriteString("white-list=false\n")
	b.WriteString("allow-nether=false\n")
	b.WriteString("enable-command-block=false\n")
	b.WriteString("spawn-animals=false\n")
	b.WriteString("spawn-npcs=false\n")
	b.WriteString("spawn-monsters=false\n")
	b.WriteString("enable-rcon=false\n")

	return b.String()
}

// Label derives the human-readable server label from a world name.
func Label(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	runes := []rune(cleaned)
	if len(runes) > maxLabelLength {
		cleaned = string(runes[:maxLabelLength])
	}
	return cleaned
}

// escapeValue keeps a value on one properties line.
func escapeValue(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(v, "\r", " ")
}

var serverPortLine = regexp.MustCompile(`(?m)^server-port=(\d+)[ \t\r]*$`)

// PropertiesServerPort returns the port set by the server-port line of a
// server.properties body. Commented or malformed lines do not count.
func PropertiesServerPort(props []byte) (int, bool) {
	m := serverPortLine.FindSubmatch(props)
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, false
	}
	return port, true
}

func portLinePattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^([ \t]*` + regexp.QuoteMeta(key) + `[ \t]*:[ \t]*)(\d+)([ \t\r]*)$`)
}

// PatchPortLine rewrites the single "key: <port>" line of a YAML-style
// configuration file in place. Other lines are left untouched.
func PatchPortLine(path, key string, port int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the workspace
	if err != nil {
		return err
	}

	pattern := portLinePattern(key)
	matches := pattern.FindAllIndex(data, -1)
	switch len(matches) {
	case 0:
		return fmt.Errorf("%w: %q in %s", ErrPortKeyMissing, key, path)
	case 1:
	default:
		return fmt.Errorf("%q appears %d times in %s", key, len(matches), path)
	}

	patched := pattern.ReplaceAll(data, []byte("${1}"+strconv.Itoa(port)+"${3}"))
	return os.WriteFile(path, patched, info.Mode().Perm())
}

// ReadPortLine returns the port set by the "key: <port>" line.
func ReadPortLine(path, key string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the workspace
	if err != nil {
		return 0, err
	}

	m := portLinePattern(key).FindSubmatch(data)
	if m == nil {
		return 0, fmt.Errorf("%w: %q in %s", ErrPortKeyMissing, key, path)
	}
	return strconv.Atoi(string(m[2]))
}
