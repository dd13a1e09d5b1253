package query

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(*slog.Logger) Driver)
)

// Register adds a driver factory to the registry. Called by driver
// implementations in their init() functions.
func Register(name string, factory func(*slog.Logger) Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a driver factory by name.
func Get(name string) (func(*slog.Logger) Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// NewDriver creates a driver instance for the config's type. A nil logger
// uses a discard logger.
func NewDriver(cfg Config, logger *slog.Logger) (Driver, error) {
	if cfg.Type == "" {
		return nil, fmt.Errorf("driver type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, &UnknownDriverError{Type: cfg.Type, Available: ListDrivers()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger), nil
}

// ListDrivers returns all registered driver names (sorted).
func ListDrivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks whether a driver type is registered.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// UnknownDriverError is returned when an unregistered driver type is
// requested.
type UnknownDriverError struct {
	Type      string
	Available []string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("unknown driver type %q (available: %v)", e.Type, e.Available)
}
