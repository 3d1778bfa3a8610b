// Package config provides configuration management for go-efm-ctl.
package config

import "time"

// Config holds all configuration options.
//
// The four efm settings are treated as unset when empty. They are checked
// when an operation runs, not at load time, so that read-only subcommands
// like "version" work on an unconfigured host.
type Config struct {
	// EFM
	CommandPath   string `yaml:"command_path" json:"command_path"`
	SudoPrefix    string `yaml:"sudo_prefix" json:"sudo_prefix"`
	ClusterName   string `yaml:"cluster_name" json:"cluster_name"`
	PropertiesDir string `yaml:"properties_dir" json:"properties_dir"`

	// CatPath is the binary used to read the properties file.
	CatPath string `yaml:"cat_path" json:"cat_path"`

	// Privilege
	AllowedUIDs []int `yaml:"allowed_uids" json:"allowed_uids"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	Verbose     bool   `yaml:"verbose" json:"verbose"`
	LogFormat   string `yaml:"log_format" json:"log_format"` // json, text
	LogLevel    string `yaml:"log_level" json:"log_level"`

	// Watch mode
	WatchInterval time.Duration `yaml:"watch_interval" json:"watch_interval"`
	WatchMode     string        `yaml:"watch_mode" json:"watch_mode"` // text, json
	TUIEnabled    bool          `yaml:"tui" json:"tui"`

	// Diagnostic modes
	PrintCmd      bool `yaml:"-" json:"print_cmd"`
	SkipPreflight bool `yaml:"skip_preflight" json:"skip_preflight"`
	DumpMetrics   bool `yaml:"-" json:"dump_metrics"`
}

// DefaultConfig returns a Config with sensible defaults.
//
// CommandPath and PropertiesDir default to the EFM 4.x package layout;
// SudoPrefix and ClusterName have no default.
func DefaultConfig() *Config {
	return &Config{
		// EFM
		CommandPath:   "/usr/edb/efm-4.9/bin/efm",
		PropertiesDir: "/etc/edb/efm-4.9",
		CatPath:       "cat",

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		Verbose:     false,
		LogFormat:   "text",
		LogLevel:    "info",

		// Watch mode
		WatchInterval: 5 * time.Second,
		WatchMode:     "text",
		TUIEnabled:    false,
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	if c.AllowedUIDs != nil {
		out.AllowedUIDs = append([]int(nil), c.AllowedUIDs...)
	}
	return &out
}
