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

// Package workspace provisions and removes the on-disk directory of a
// world: a copy of the server template with the world's seed and ports
// written into its configuration.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultPropertiesFile is the primary server configuration.
	DefaultPropertiesFile = "server.properties"
	// DefaultMapConfigFile is the map plugin configuration patched with the
	// map port.
	DefaultMapConfigFile = "plugins/dynmap/configuration.txt"
	// DefaultMapPortKey is the key of the port line in the map configuration.
	DefaultMapPortKey = "webserver-port"
	// DefaultConsoleLogFile receives the world's console output.
	DefaultConsoleLogFile = "console.log"
)

var (
	// ErrTemplateMissing is returned when the template directory does not exist.
	ErrTemplateMissing = errors.New("template directory missing")
	// ErrPortKeyMissing is returned when the map configuration has no port line.
	ErrPortKeyMissing = errors.New("map port key not found")
	// ErrInvalidSpec is returned for incomplete world specs.
	ErrInvalidSpec = errors.New("invalid world spec")
)

// Config holds configuration for workspace provisioning.
type Config struct {
	TemplateDir    string
	WorldsDir      string
	PropertiesFile string
	MapConfigFile  string
	MapPortKey     string
	ConsoleLogFile string
}

// DefaultConfig returns default configuration rooted at the working
// directory.
func DefaultConfig() *Config {
	return &Config{
		TemplateDir:    "server_template",
		WorldsDir:      "worlds",
		PropertiesFile: DefaultPropertiesFile,
		MapConfigFile:  DefaultMapConfigFile,
		MapPortKey:     DefaultMapPortKey,
		ConsoleLogFile: DefaultConsoleLogFile,
	}
}

// Spec describes the world a workspace is provisioned for.
type Spec struct {
	Name       string
	Seed       string
	ServerPort int
	MapPort    int
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.Seed) == "" {
		return fmt.Errorf("%w: seed is required", ErrInvalidSpec)
	}
	if s.ServerPort <= 0 || s.MapPort <= 0 {
		return fmt.Errorf("%w: ports must be positive", ErrInvalidSpec)
	}
	return nil
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithRemover replaces the function used to delete directory trees.
func WithRemover(remove func(path string) error) Option {
	return func(p *Provisioner) {
		p.removeAll = remove
	}
}

// WithNameGenerator replaces the directory name generator.
func WithNameGenerator(gen *NameGenerator) Option {
	return func(p *Provisioner) {
		p.names = gen
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provisioner) {
		p.logger = logger
	}
}

// Provisioner creates and removes world workspaces.
type Provisioner struct {
	config    *Config
	names     *NameGenerator
	removeAll func(path string) error
	logger    *zap.Logger
}

// NewProvisioner creates a new provisioner.
func NewProvisioner(config *Config, opts ...Option) *Provisioner {
	if config == nil {
		config = DefaultConfig()
	}
	applyDefaults(config)

	p := &Provisioner{
		config:    config,
		removeAll: os.RemoveAll,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.names == nil {
		p.names = NewNameGenerator(config.WorldsDir)
	}
	return p
}

func applyDefaults(config *Config) {
	if config.PropertiesFile == "" {
		config.PropertiesFile = DefaultPropertiesFile
	}
	if config.MapConfigFile == "" {
		config.MapConfigFile = DefaultMapConfigFile
	}
	if config.MapPortKey == "" {
		config.MapPortKey = DefaultMapPortKey
	}
	if config.ConsoleLogFile == "" {
		config.ConsoleLogFile = DefaultConsoleLogFile
	}
}

// ConsoleLog returns the console log path of a workspace.
func (p *Provisioner) ConsoleLog(path string) string {
	return filepath.Join(path, p.config.ConsoleLogFile)
}

// Provision creates a new workspace for spec and returns its path. On any
// failure the partially written directory is removed and no path is
// returned.
func (p *Provisioner) Provision(spec Spec) (string, error) {
	if err := spec.validate(); err != nil {
		return "", err
	}

	info, err := os.Stat(p.config.TemplateDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrTemplateMissing, p.config.TemplateDir)
	}

	if err := os.MkdirAll(p.config.WorldsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create worlds directory: %w", err)
	}

	path, err := p.names.Reserve()
	if err != nil {
		return "", fmt.Errorf("failed to reserve workspace: %w", err)
	}

	if err := p.populate(path, spec); err != nil {
		if rmErr := p.removeAll(path); rmErr != nil {
			p.logger.Warn("failed to remove partial workspace", zap.String("path", path), zap.Error(rmErr))
		}
		return "", err
	}

	p.logger.Info("workspace provisioned",
		zap.String("path", path),
		zap.String("name", spec.Name),
		zap.Int("server_port", spec.ServerPort),
		zap.Int("map_port", spec.MapPort))

	return path, nil
}

func (p *Provisioner) populate(path string, spec Spec) error {
	if err := copyTree(p.config.TemplateDir, path); err != nil {
		return fmt.Errorf("failed to copy template: %w", err)
	}

	propsPath := filepath.Join(path, p.config.PropertiesFile)
	if err := os.MkdirAll(filepath.Dir(propsPath), 0o755); err != nil {
		return fmt.Errorf("failed to create properties directory: %w", err)
	}
	// The template may ship a read-only copy.
	if err := os.Remove(propsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace %s: %w", p.config.PropertiesFile, err)
	}
	// #nosec G306 - server configuration is not secret
	if err := os.WriteFile(propsPath, []byte(RenderProperties(spec)), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p.config.PropertiesFile, err)
	}

	mapPath := filepath.Join(path, p.config.MapConfigFile)
	if err := PatchPortLine(mapPath, p.config.MapPortKey, spec.MapPort); err != nil {
		return fmt.Errorf("failed to patch %s: %w", p.config.MapConfigFile, err)
	}

	return nil
}

// Remove deletes a workspace directory. A missing directory is not an
// error.
func (p *Provisioner) Remove(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("refusing to remove empty path")
	}
	if err := p.removeAll(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove workspace %s: %w", path, err)
	}
	return nil
}

// Validate checks that a workspace still holds what provisioning wrote.
func (p *Provisioner) Validate(path string, spec Spec) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("workspace missing: %s", path)
	}

	propsPath := filepath.Join(path, p.config.PropertiesFile)
	props, err := os.ReadFile(propsPath) // #nosec G304 - path is inside the workspace
	if err != nil {
		return fmt.Errorf("properties file missing: %w", err)
	}
	port, ok := PropertiesServerPort(props)
	if !ok {
		return fmt.Errorf("properties file does not set server-port")
	}
	if port != spec.ServerPort {
		return fmt.Errorf("server port is %d, expected %d", port, spec.ServerPort)
	}

	port, err = ReadPortLine(filepath.Join(path, p.config.MapConfigFile), p.config.MapPortKey)
	if err != nil {
		return err
	}
	if port != spec.MapPort {
		return fmt.Errorf("map port is %d, expected %d", port, spec.MapPort)
	}

	return nil
}
