// Package config loads the project configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the project configuration.
type Config struct {
	// Database is the SQLite database path.
	Database string `yaml:"database"`

	// AttachmentsDir holds one directory of uploaded files per node.
	AttachmentsDir string `yaml:"attachments_dir"`

	// PluginParentNode and PluginUploadsNode label the containers plugin
	// output is filed under.
	PluginParentNode  string `yaml:"plugin_parent_node"`
	PluginUploadsNode string `yaml:"plugin_uploads_node"`

	LogLevel string `yaml:"log_level"`

	// FeedLimit caps a node's activity feed. 0 means unlimited.
	FeedLimit int `yaml:"feed_limit"`

	// LatestActivities caps the activity list in the summary.
	LatestActivities int `yaml:"latest_activities"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:          "snowcrash.db",
		AttachmentsDir:    "attachments",
		PluginParentNode:  "plugin.output",
		PluginUploadsNode: "Uploaded files",
		LogLevel:          "info",
		FeedLimit:         50,
		LatestActivities:  10,
	}
}

// Load reads the configuration at path over the defaults. An empty path
// returns the defaults. Relative database and attachment paths in the file
// are resolved against the file's directory.
//
// Unknown keys are rejected so a typo does not silently fall back to a
// default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	if file.Database != "" {
		cfg.Database = resolve(base, file.Database)
	}
	if file.AttachmentsDir != "" {
		cfg.AttachmentsDir = resolve(base, file.AttachmentsDir)
	}
	if file.PluginParentNode != "" {
		cfg.PluginParentNode = file.PluginParentNode
	}
	if file.PluginUploadsNode != "" {
		cfg.PluginUploadsNode = file.PluginUploadsNode
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if hasKey(data, "feed_limit") {
		cfg.FeedLimit = file.FeedLimit
	}
	if hasKey(data, "latest_activities") {
		cfg.LatestActivities = file.LatestActivities
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// hasKey reports whether the top-level mapping in data sets key. It lets an
// explicit 0 override a non-zero default.
func hasKey(data []byte, key string) bool {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false
	}
	_, ok := raw[key]
	return ok
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks the configuration for values the program cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("database is required")
	}
	if strings.TrimSpace(c.AttachmentsDir) == "" {
		return fmt.Errorf("attachments_dir is required")
	}
	if strings.TrimSpace(c.PluginParentNode) == "" {
		return fmt.Errorf("plugin_parent_node must not be blank")
	}
	if strings.TrimSpace(c.PluginUploadsNode) == "" {
		return fmt.Errorf("plugin_uploads_node must not be blank")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.FeedLimit < 0 {
		return fmt.Errorf("feed_limit must be >= 0, got %d", c.FeedLimit)
	}
	if c.LatestActivities < 0 {
		return fmt.Errorf("latest_activities must be >= 0, got %d", c.LatestActivities)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}
	return level, nil
}
