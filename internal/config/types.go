// Package config loads dbview configuration from file, environment and
// flags. It is decoupled from CLI concerns so the dev host and tests can
// load configuration directly.
package config

import (
	"fmt"
	"strings"

	"github.com/dbview-labs/dbview/internal/query"
)

// Profile describes one named database connection.
type Profile struct {
	Type string `koanf:"type"` // postgres, duckdb, sqlite

	// File-based databases (DuckDB, SQLite)
	Path string `koanf:"path"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// MaxRows bounds result sets for this profile. Zero uses the
	// runner default.
	MaxRows int `koanf:"max_rows"`

	// Options carries additional driver-specific settings.
	Options map[string]string `koanf:"options"`
}

// Validate checks that the profile names a registered driver.
func (p *Profile) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("profile type is required")
	}
	if !query.IsRegistered(strings.ToLower(p.Type)) {
		return &query.UnknownDriverError{Type: p.Type, Available: query.ListDrivers()}
	}
	return nil
}

// DriverConfig converts the profile to the driver connection config.
func (p *Profile) DriverConfig() query.Config {
	return query.Config{
		Type:     strings.ToLower(p.Type),
		Path:     p.Path,
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		Username: p.Username,
		Password: p.Password,
		Options:  p.Options,
	}
}

// HostConfig configures the development host that serves webviews.
type HostConfig struct {
	Addr      string `koanf:"addr"`
	AssetsDir string `koanf:"assets_dir"`
	// SessionSecret signs host session cookies. Generated per process
	// when empty.
	SessionSecret string `koanf:"session_secret"`
}

// Config is the full dbview configuration.
type Config struct {
	LogLevel    string             `koanf:"log_level"`
	HistoryPath string             `koanf:"history_path"`
	Profile     string             `koanf:"profile"`
	Host        HostConfig         `koanf:"host"`
	Profiles    map[string]Profile `koanf:"profiles"`
}

// ActiveProfile resolves the selected profile. An empty selection with
// exactly one configured profile picks that one.
func (c *Config) ActiveProfile() (string, *Profile, error) {
	name := c.Profile
	if name == "" {
		if len(c.Profiles) == 1 {
			for n := range c.Profiles {
				name = n
			}
		} else {
			return "", nil, fmt.Errorf("no profile selected and %d profiles configured", len(c.Profiles))
		}
	}

	p, ok := c.Profiles[name]
	if !ok {
		return "", nil, fmt.Errorf("unknown profile %q", name)
	}
	return name, &p, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	for name, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}
	return nil
}
