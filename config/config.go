// Package config loads picocontrol.yaml and opens the SQLite registry.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is read from the working directory when no path is given.
	DefaultConfigFile = "picocontrol.yaml"

	envConfigPath = "PICOCONTROL_CONFIG"
	envAddr       = "PICOCONTROL_ADDR"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins lists the browser origins that may call the API.
	// Empty means no cross-origin access.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig locates the SQLite project registry.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls where logs go.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// ToolsConfig holds paths of the external executables.
type ToolsConfig struct {
	Picotool       string `yaml:"picotool"`
	OpenOCD        string `yaml:"openocd"`
	OpenOCDScripts string `yaml:"openocd_scripts"`
	GDB            string `yaml:"gdb"`
	Minicom        string `yaml:"minicom"`
}

// DiscoveryConfig controls device polling.
type DiscoveryConfig struct {
	// PollInterval of zero disables background polling.
	PollInterval time.Duration `yaml:"poll_interval"`
	// Timeout of zero lets picotool run as long as it wants.
	Timeout time.Duration `yaml:"timeout"`
}

// WorkspaceConfig describes the default workspace and how its files are edited.
type WorkspaceConfig struct {
	// Root is the default workspace. Projects and workspaces outside it are rejected.
	Root             string `yaml:"root"`
	PreserveComments bool   `yaml:"preserve_comments"`
}

// ResourcesConfig locates project templates and configuration fragments.
type ResourcesConfig struct {
	Dir string `yaml:"dir"`
}

// MonitorConfig configures the serial monitor.
type MonitorConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// Config models picocontrol.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tools     ToolsConfig     `yaml:"tools"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Resources ResourcesConfig `yaml:"resources"`
	Monitor   MonitorConfig   `yaml:"monitor"`

	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "./data/picocontrol.db"},
		Logging:  LoggingConfig{Dir: "log", Level: "info"},
		Tools: ToolsConfig{
			Picotool:       "picotool",
			OpenOCD:        "openocd",
			OpenOCDScripts: "/usr/share/openocd/scripts",
			GDB:            "/usr/bin/gdb-multiarch",
			Minicom:        "minicom",
		},
		Discovery: DiscoveryConfig{PollInterval: 3 * time.Second},
		Workspace: WorkspaceConfig{Root: ".", PreserveComments: true},
		Resources: ResourcesConfig{Dir: "./resources"},
		Monitor:   MonitorConfig{Port: "/dev/ttyACM0", Baud: 115200},
	}
}

// Load reads the config file at path. An empty path falls back to
// $PICOCONTROL_CONFIG, then to picocontrol.yaml; a missing file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.Source = path
	}

	if addr := os.Getenv(envAddr); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Addr == "" {
		problems = append(problems, "server.addr must not be empty")
	}
	if c.Discovery.PollInterval < 0 {
		problems = append(problems, "discovery.poll_interval must not be negative")
	}
	if c.Discovery.Timeout < 0 {
		problems = append(problems, "discovery.timeout must not be negative")
	}
	if c.Monitor.Baud <= 0 {
		problems = append(problems, "monitor.baud must be positive")
	}
	if c.Tools.Picotool == "" || c.Tools.OpenOCD == "" || c.Tools.Minicom == "" {
		problems = append(problems, "tools.picotool, tools.openocd and tools.minicom must be set")
	}
	if c.Resources.Dir == "" {
		problems = append(problems, "resources.dir must not be empty")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
