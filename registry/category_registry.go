package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MaxWidth caps the interest bitmap width. The homomorphic popcount is
// linear in the width, so the catalog stays deliberately small.
const MaxWidth = 32

// CategoryRegistry is the catalog of interest categories. Each category
// owns one bit position in the interest bitmap; the catalog size is the
// bitmap width W.
type CategoryRegistry interface {
	Categories() []Category
	Width() int
	CategoryName(bit int) (string, error)
}

// Category maps a bitmap bit position to a human-readable interest name.
type Category struct {
	Bit  int    `json:"bit"`
	Name string `json:"name"`
}

// FileCategoryRegistry implements CategoryRegistry over a JSON catalog
// file. A missing file is seeded with the default catalog.
type FileCategoryRegistry struct {
	categories map[int]Category
	mu         sync.RWMutex
	config     RegistryConfig
}

type RegistryConfig struct {
	CatalogPath string `json:"catalog_path"`
}

var defaultCategories = []Category{
	{Bit: 0, Name: "music"},
	{Bit: 1, Name: "film"},
	{Bit: 2, Name: "books"},
	{Bit: 3, Name: "gaming"},
	{Bit: 4, Name: "travel"},
	{Bit: 5, Name: "fitness"},
	{Bit: 6, Name: "cooking"},
	{Bit: 7, Name: "art"},
}

// NewFileCategoryRegistry loads the catalog from config.CatalogPath,
// creating it with the default categories when absent.
func NewFileCategoryRegistry(config RegistryConfig) (*FileCategoryRegistry, error) {
	registry := &FileCategoryRegistry{
		categories: make(map[int]Category),
		config:     config,
	}

	dir := filepath.Dir(config.CatalogPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	if err := registry.load(); err != nil {
		return nil, err
	}

	return registry, nil
}

func (r *FileCategoryRegistry) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.config.CatalogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return r.createDefaultCatalog()
		}
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog struct {
		Categories []Category `json:"categories"`
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	categories := make(map[int]Category)
	for _, c := range catalog.Categories {
		if err := validateCategory(c); err != nil {
			return fmt.Errorf("invalid category %q: %w", c.Name, err)
		}
		if _, exists := categories[c.Bit]; exists {
			return fmt.Errorf("duplicate bit position %d in catalog", c.Bit)
		}
		categories[c.Bit] = c
	}

	// Bit positions must be dense so the catalog size equals the width.
	for bit := 0; bit < len(categories); bit++ {
		if _, ok := categories[bit]; !ok {
			return fmt.Errorf("catalog has a gap at bit position %d", bit)
		}
	}

	r.categories = categories
	return nil
}

func (r *FileCategoryRegistry) createDefaultCatalog() error {
	catalog := struct {
		Categories []Category `json:"categories"`
	}{Categories: defaultCategories}

	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default catalog: %w", err)
	}

	if err := os.WriteFile(r.config.CatalogPath, data, 0644); err != nil {
		return fmt.Errorf("failed to save default catalog: %w", err)
	}

	for _, c := range defaultCategories {
		r.categories[c.Bit] = c
	}
	return nil
}

func validateCategory(c Category) error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Bit < 0 || c.Bit >= MaxWidth {
		return fmt.Errorf("bit position must be in [0, %d)", MaxWidth)
	}
	return nil
}

// Categories returns the catalog ordered by bit position.
func (r *FileCategoryRegistry) Categories() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Category, 0, len(r.categories))
	for _, c := range r.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bit < out[j].Bit })
	return out
}

// Width returns the interest bitmap width W.
func (r *FileCategoryRegistry) Width() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.categories)
}

// CategoryName resolves a bit position to its interest name.
func (r *FileCategoryRegistry) CategoryName(bit int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.categories[bit]
	if !ok {
		return "", fmt.Errorf("no category at bit position %d", bit)
	}
	return c.Name, nil
}
