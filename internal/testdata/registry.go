// File: internal/testdata/registry.go

// Package testdata loads scenario fixtures from YAML files. A Registry wraps
// one file and serves its top-level sections; a Library caches registries for
// a whole directory so repeated lookups never re-read the disk.
package testdata

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry holds the parsed contents of one fixture file. All accessors are
// safe for concurrent use; Reload swaps the data under a write lock.
type Registry struct {
	path   string
	logger *zap.Logger

	mu sync.RWMutex
	v  *viper.Viper
}

// NewRegistry reads the YAML file at path. A missing or malformed file is an
// error; an empty file yields a registry with no sections.
func NewRegistry(path string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{path: path, logger: logger.Named("testdata")}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	if _, err := os.Stat(r.path); err != nil {
		return fmt.Errorf("fixture file %s: %w", r.path, err)
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("parse fixture file %s: %w", r.path, err)
	}

	r.mu.Lock()
	r.v = v
	r.mu.Unlock()

	sections := r.Sections()
	if len(sections) == 0 {
		r.logger.Warn("fixture file has no sections", zap.String("path", r.path))
	} else {
		r.logger.Debug("fixture file loaded",
			zap.String("path", r.path), zap.Int("sections", len(sections)))
	}
	return nil
}

// Reload re-reads the backing file, replacing the cached data on success.
func (r *Registry) Reload() error {
	r.logger.Debug("reloading fixture file", zap.String("path", r.path))
	return r.load()
}

// Path returns the backing file's path.
func (r *Registry) Path() string { return r.path }

// Sections lists the top-level section names in sorted order.
func (r *Registry) Sections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	settings := r.v.AllSettings()
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSection reports whether a top-level section exists.
func (r *Registry) HasSection(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.v.AllSettings()[strings.ToLower(name)]
	return ok
}

// Section returns a top-level mapping section. An unknown name is an error
// that lists what is available, so a typo in a fixture key reads like a menu.
func (r *Registry) Section(name string) (map[string]interface{}, error) {
	r.mu.RLock()
	raw, ok := r.v.AllSettings()[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("section %q not found in %s; available sections: %s",
			name, r.path, strings.Join(r.Sections(), ", "))
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("section %q in %s is not a mapping", name, r.path)
	}
	return section, nil
}

// Item returns one entry of a mapping section, with the same menu-style error
// for unknown keys.
func (r *Registry) Item(section, key string) (map[string]interface{}, error) {
	sec, err := r.Section(section)
	if err != nil {
		return nil, err
	}
	raw, ok := sec[strings.ToLower(key)]
	if !ok {
		keys := make([]string, 0, len(sec))
		for k := range sec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("item %q not found in section %q of %s; available items: %s",
			key, section, r.path, strings.Join(keys, ", "))
	}
	item, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("item %q in section %q of %s is not a mapping", key, section, r.path)
	}
	return item, nil
}

// HasItem reports whether a key exists inside a mapping section.
func (r *Registry) HasItem(section, key string) bool {
	sec, err := r.Section(section)
	if err != nil {
		return false
	}
	_, ok := sec[strings.ToLower(key)]
	return ok
}

// UnmarshalSection decodes a top-level section into out. It accepts list
// sections as well as mappings.
func (r *Registry) UnmarshalSection(name string, out interface{}) error {
	if !r.HasSection(name) {
		return fmt.Errorf("section %q not found in %s; available sections: %s",
			name, r.path, strings.Join(r.Sections(), ", "))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.v.UnmarshalKey(name, out); err != nil {
		return fmt.Errorf("decode section %q of %s: %w", name, r.path, err)
	}
	return nil
}

// UnmarshalItem decodes one entry of a mapping section into out.
func (r *Registry) UnmarshalItem(section, key string, out interface{}) error {
	if _, err := r.Item(section, key); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.v.UnmarshalKey(section+"."+key, out); err != nil {
		return fmt.Errorf("decode item %q of section %q in %s: %w", key, section, r.path, err)
	}
	return nil
}

// Value traverses nested keys and reports whether the path exists. Callers
// supply their own default on a false return.
func (r *Registry) Value(keys ...string) (interface{}, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	path := strings.Join(keys, ".")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.v.IsSet(path) {
		return nil, false
	}
	return r.v.Get(path), true
}
