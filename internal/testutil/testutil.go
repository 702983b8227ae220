// Package testutil provides shared fixtures for provisionr tests.
package testutil

import (
	"testing"

	"provisionr/internal/store"
	"provisionr/internal/types"
)

// NewCatalogue returns an initialized in-memory rendered catalogue.
// It is closed automatically when the test finishes.
func NewCatalogue(t *testing.T) *store.Catalogue {
	t.Helper()

	c, err := store.OpenCatalogue(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalogue: %v", err)
	}
	if err := c.Init(); err != nil {
		c.Close()
		t.Fatalf("failed to init catalogue: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// GreetRecord returns a template record with stored defaults, ready to
// seed a TemplateStore under any name.
func GreetRecord() types.TemplateRecord {
	rec := types.NewTemplateRecord()
	rec.Content = "Hello {{ name }}"
	rec.ValuesYAML = "name: World\n"
	return rec
}
