package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissingCatalogSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")

	registry, err := NewFileCategoryRegistry(RegistryConfig{CatalogPath: path})
	require.NoError(t, err)

	assert.Equal(t, 8, registry.Width())
	assert.FileExists(t, path)

	name, err := registry.CategoryName(0)
	require.NoError(t, err)
	assert.Equal(t, "music", name)

	_, err = registry.CategoryName(8)
	assert.Error(t, err)
}

func TestCatalogLoadsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.json")
	catalog := `{"categories":[{"bit":0,"name":"chess"},{"bit":1,"name":"sailing"}]}`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0644))

	registry, err := NewFileCategoryRegistry(RegistryConfig{CatalogPath: path})
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Width())

	categories := registry.Categories()
	require.Len(t, categories, 2)
	assert.Equal(t, "chess", categories[0].Name)
	assert.Equal(t, "sailing", categories[1].Name)
}

func TestCatalogRejectsGapsAndDuplicates(t *testing.T) {
	dir := t.TempDir()

	gapped := filepath.Join(dir, "gapped.json")
	require.NoError(t, os.WriteFile(gapped, []byte(`{"categories":[{"bit":0,"name":"a"},{"bit":2,"name":"b"}]}`), 0644))
	_, err := NewFileCategoryRegistry(RegistryConfig{CatalogPath: gapped})
	assert.Error(t, err)

	duplicated := filepath.Join(dir, "duplicated.json")
	require.NoError(t, os.WriteFile(duplicated, []byte(`{"categories":[{"bit":0,"name":"a"},{"bit":0,"name":"b"}]}`), 0644))
	_, err = NewFileCategoryRegistry(RegistryConfig{CatalogPath: duplicated})
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.json")
	require.NoError(t, os.WriteFile(unnamed, []byte(`{"categories":[{"bit":0,"name":""}]}`), 0644))
	_, err = NewFileCategoryRegistry(RegistryConfig{CatalogPath: unnamed})
	assert.Error(t, err)
}
