// Package config loads pandoractl/Account configuration: credentials,
// polling cadence, per-device enable maps, and the optional Redis warm
// store block.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/pandora-cas/goclient/pkg/util"
)

// DefaultUserAgent mirrors the Firefox-like default the upstream service expects.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0"

const (
	DefaultPollingInterval = 60
	MinPollingInterval     = 10
	MaxPollingInterval     = 3600
)

// WarmStoreConfig configures the optional Redis-backed warm start store.
type WarmStoreConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Config holds everything needed to construct an Account.
type Config struct {
	Username        string           `yaml:"username"`
	Password        string           `yaml:"password"`
	UserAgent       string           `yaml:"user_agent,omitempty"`
	PollingInterval int              `yaml:"polling_interval,omitempty"`
	DeviceEnable    map[int64]bool   `yaml:"device_enable,omitempty"`
	WarmStore       *WarmStoreConfig `yaml:"warm_store,omitempty"`
}

// DefaultConfigPath returns the default location for a pandoractl config file.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/pandoractl/config.yaml"
	}
	return filepath.Join(home, ".pandoractl", "config.yaml")
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPath())
}

// LoadFrom reads configuration from a specific YAML file and applies defaults.
func LoadFrom(path string) (*Config, error) {
	c := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", path, util.ErrNotFound)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return c, c.Finalize()
}

// LoadEnv builds a Config from environment variables alone, for hosts that
// never touch the filesystem (CI, containers).
func LoadEnv() (*Config, error) {
	c := &Config{}
	c.ApplyEnv()
	return c, c.Finalize()
}

// Finalize applies defaults and validates. Callers that assemble a Config
// piecemeal (CLI flag/env/prompt layering) call it once everything is in.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.Validate()
}

// ApplyEnv overrides individual fields from PANDORA_* environment
// variables, taking precedence over whatever the YAML file carried.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PANDORA_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("PANDORA_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("PANDORA_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("PANDORA_POLLING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PollingInterval = n
		}
	}
	if v := os.Getenv("PANDORA_WARM_STORE_ADDR"); v != "" {
		if c.WarmStore == nil {
			c.WarmStore = &WarmStoreConfig{}
		}
		c.WarmStore.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.PollingInterval == 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.WarmStore != nil && c.WarmStore.KeyPrefix == "" {
		c.WarmStore.KeyPrefix = "pandora-cas"
	}
}

// Validate enforces the required fields and polling interval bounds.
func (c *Config) Validate() error {
	v := &validationBuilder{}
	v.add(c.Username != "", "username is required")
	v.add(c.Password != "", "password is required")
	v.add(c.PollingInterval >= MinPollingInterval && c.PollingInterval <= MaxPollingInterval,
		fmt.Sprintf("polling_interval must be between %d and %d seconds", MinPollingInterval, MaxPollingInterval))
	return v.build()
}

// IsDeviceEnabled reports whether a device id is enabled, defaulting to
// enabled when no enable map is configured or the id is unlisted.
func (c *Config) IsDeviceEnabled(deviceID int64) bool {
	if c.DeviceEnable == nil {
		return true
	}
	enabled, ok := c.DeviceEnable[deviceID]
	if !ok {
		return true
	}
	return enabled
}

type validationBuilder struct {
	errors []string
}

func (v *validationBuilder) add(condition bool, message string) {
	if !condition {
		v.errors = append(v.errors, message)
	}
}

func (v *validationBuilder) build() error {
	if len(v.errors) == 0 {
		return nil
	}
	if len(v.errors) == 1 {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, v.errors[0])
	}
	msg := ""
	for _, e := range v.errors {
		msg += "\n  - " + e
	}
	return fmt.Errorf("%w:%s", util.ErrInvalidConfig, msg)
}
