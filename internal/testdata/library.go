// File: internal/testdata/library.go
package testdata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Library resolves fixture names to registries, caching each file after its
// first load. "checkout" maps to <dir>/checkout.yaml, falling back to .yml.
type Library struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Registry
}

// NewLibrary builds a Library over dir. The directory is not scanned until
// first use, so a missing directory only fails once something is requested.
func NewLibrary(dir string, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		dir:    dir,
		logger: logger.Named("testdata"),
		cache:  make(map[string]*Registry),
	}
}

// Dir returns the fixture directory.
func (l *Library) Dir() string { return l.dir }

// Registry returns the cached registry for name, loading it on first use.
func (l *Library) Registry(name string) (*Registry, error) {
	l.mu.RLock()
	reg, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return reg, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another goroutine may have loaded it while we waited for the lock.
	if reg, ok := l.cache[name]; ok {
		return reg, nil
	}

	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	reg, err = NewRegistry(path, l.logger)
	if err != nil {
		return nil, err
	}
	l.cache[name] = reg
	return reg, nil
}

// Names lists the fixture names available in the directory, sorted.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("fixture directory %s: %w", l.dir, err)
	}
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		seen[strings.TrimSuffix(e.Name(), ext)] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (l *Library) resolve(name string) (string, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	names, err := l.Names()
	if err != nil {
		return "", err
	}
	return "", fmt.Errorf("fixture %q not found in %s; available fixtures: %s",
		name, l.dir, strings.Join(names, ", "))
}
