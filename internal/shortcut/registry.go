package shortcut

import (
	"fmt"
	"sort"
	"sync"
)

// registry maps strategy names to their implementations
var (
	registry      = make(map[string]Strategy)
	registryMutex sync.RWMutex
)

// Register registers a link strategy under its name.
// The built-in strategies register themselves in init(); additional
// strategies must register before New is called.
func Register(s Strategy) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if s == nil {
		panic("shortcut: Register called with nil strategy")
	}

	name := s.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("shortcut: Register called twice for strategy %s", name))
	}

	registry[name] = s
}

// getStrategy retrieves a strategy by name.
// Returns nil if the name is not registered.
func getStrategy(name string) Strategy {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[name]
}

// IsRegistered returns true if a strategy is registered under the given name.
func IsRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[name]
	return exists
}

// RegisteredNames returns all registered strategy names, sorted.
func RegisteredNames() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnregisterAll clears all registered strategies.
// This is primarily useful for testing.
func UnregisterAll() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	registry = make(map[string]Strategy)
}
