// Package config loads the daemon configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"safedrive/internal/logging"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// Backend types
const (
	BackendBolt   = "bolt"
	BackendDir    = "dir"
	BackendMemory = "memory"
)

// Config is the daemon configuration.
type Config struct {
	MountPoint        string    `yaml:"mount_point"`
	StateFile         string    `yaml:"state_file"`
	LogLevel          string    `yaml:"log_level"`
	AllowOther        bool      `yaml:"allow_other"`
	Capacity          string    `yaml:"capacity"`
	DefaultContainers []string  `yaml:"default_containers"`
	WebMounts         WebMounts `yaml:"web_mounts"`
	Backend           Backend   `yaml:"backend"`
	Mounts            []Mount   `yaml:"mounts"`
}

// WebMounts controls automounting of web sites.
type WebMounts struct {
	Namespace string `yaml:"namespace"`
	Scheme    string `yaml:"scheme"`
}

// Backend selects where containers are stored.
type Backend struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// Mount is a container mounted at startup.
type Mount struct {
	Path    string `yaml:"path"`
	Name    string `yaml:"name,omitempty"`
	Locator string `yaml:"locator,omitempty"`
	Lazy    bool   `yaml:"lazy,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StateFile: "~/.safedrive/state.json",
		LogLevel:  "INFO",
		Capacity:  "1 TB",
		DefaultContainers: []string{
			"_public",
			"_documents",
			"_downloads",
			"_music",
			"_pictures",
			"_videos",
			"_publicNames",
		},
		WebMounts: WebMounts{
			Namespace: "_webMounts",
			Scheme:    "safe://",
		},
		Backend: Backend{
			Type: BackendBolt,
			Path: "~/.safedrive/containers.db",
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Info("No config file at %s, using defaults", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			logger.Debug("Loaded config from %s", path)
		}
	}
	cfg.StateFile = expandHome(cfg.StateFile)
	cfg.Backend.Path = expandHome(cfg.Backend.Path)
	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend.Type {
	case BackendBolt, BackendDir:
		if c.Backend.Path == "" {
			return fmt.Errorf("backend %s requires a path", c.Backend.Type)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend type %q", c.Backend.Type)
	}
	if _, err := c.CapacityBytes(); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if strings.Contains(c.WebMounts.Namespace, "/") {
		return fmt.Errorf("web mount namespace %q must be a single name", c.WebMounts.Namespace)
	}

	seen := make(map[string]bool)
	for i, m := range c.Mounts {
		if !strings.HasPrefix(m.Path, "/") || filepath.Clean(m.Path) == "/" {
			return fmt.Errorf("mount %d: path %q must be absolute and not the root", i, m.Path)
		}
		if (m.Name == "") == (m.Locator == "") {
			return fmt.Errorf("mount %s: exactly one of name and locator is required", m.Path)
		}
		clean := filepath.Clean(m.Path)
		if seen[clean] {
			return fmt.Errorf("mount %s: duplicate path", m.Path)
		}
		seen[clean] = true
	}
	return nil
}

// CapacityBytes parses the humanized capacity, 0 when unset.
func (c *Config) CapacityBytes() (uint64, error) {
	if c.Capacity == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Capacity)
	if err != nil {
		return 0, fmt.Errorf("invalid capacity %q: %w", c.Capacity, err)
	}
	return n, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
