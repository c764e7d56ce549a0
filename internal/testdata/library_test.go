// File: internal/testdata/library_test.go
package testdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("checkout.yaml", "scenario:\n  name: checkout\n")
	write("search.yml", "scenario:\n  name: search\n")
	write("notes.txt", "not a fixture")
	return NewLibrary(dir, zap.NewNop()), dir
}

func TestLibraryNames(t *testing.T) {
	lib, _ := newTestLibrary(t)
	names, err := lib.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout", "search"}, names)
}

func TestLibraryRegistryCaches(t *testing.T) {
	lib, _ := newTestLibrary(t)

	first, err := lib.Registry("checkout")
	require.NoError(t, err)
	second, err := lib.Registry("checkout")
	require.NoError(t, err)
	assert.Same(t, first, second, "repeated lookups must hit the cache")
}

func TestLibraryResolvesYmlExtension(t *testing.T) {
	lib, _ := newTestLibrary(t)

	reg, err := lib.Registry("search")
	require.NoError(t, err)
	v, ok := reg.Value("scenario", "name")
	require.True(t, ok)
	assert.Equal(t, "search", v)
}

func TestLibraryUnknownFixtureListsAvailable(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, err := lib.Registry("payments")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `fixture "payments" not found`)
	assert.Contains(t, err.Error(), "checkout, search")
}

func TestLibraryMissingDirectory(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "absent"), zap.NewNop())

	_, err := lib.Names()
	require.Error(t, err)

	_, err = lib.Registry("anything")
	require.Error(t, err)
}
