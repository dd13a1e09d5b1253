package config

// Default configuration values.
const (
	DefaultLogLevel    = "info"
	DefaultHistoryFile = ".dbview/history.db"
	DefaultHostAddr    = "localhost:4173"
)

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HistoryPath == "" {
		c.HistoryPath = DefaultHistoryFile
	}
	if c.Host.Addr == "" {
		c.Host.Addr = DefaultHostAddr
	}
	for name, p := range c.Profiles {
		p.ApplyDefaults()
		c.Profiles[name] = p
	}
}

// ApplyDefaults fills type-specific profile defaults.
func (p *Profile) ApplyDefaults() {
	switch p.Type {
	case "postgres":
		if p.Host == "" {
			p.Host = "localhost"
		}
		if p.Port == 0 {
			p.Port = 5432
		}
	case "duckdb", "sqlite":
		if p.Path == "" {
			p.Path = ":memory:"
		}
	}
}
