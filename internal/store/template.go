// Package store holds the two state stores behind the dispatcher: the
// in-memory template store and the durable rendered-artifact catalogue.
package store

import (
	"sync"

	"provisionr/internal/types"
)

// TemplateStore is an in-memory map of template name to record. All
// writes go through the dispatcher, which serializes them; reads may
// come from any goroutine, hence the RWMutex.
type TemplateStore struct {
	mu sync.RWMutex
	m  map[string]types.TemplateRecord
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{m: make(map[string]types.TemplateRecord)}
}

// SetContent upserts: a record is created with default configuration
// the first time content is uploaded for a name.
func (s *TemplateStore) SetContent(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[name]
	if !ok {
		rec = types.NewTemplateRecord()
	}
	rec.Content = content
	s.m[name] = rec
}

// SetValues replaces the default values YAML. Fails if the template
// does not exist: defaults without a template are meaningless.
func (s *TemplateStore) SetValues(name, valuesYAML string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[name]
	if !ok {
		return types.NotFoundError(name)
	}
	rec.ValuesYAML = valuesYAML
	s.m[name] = rec
	return nil
}

// SetConfig replaces id_field and dynamic_fields. Fails if the
// template does not exist.
func (s *TemplateStore) SetConfig(name string, cfg types.TemplateConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[name]
	if !ok {
		return types.NotFoundError(name)
	}
	rec.IDField = cfg.IDField
	rec.DynamicFields = cfg.DynamicFields
	s.m[name] = rec
	return nil
}

// GetConfig returns the caller-visible configuration, or ok=false.
func (s *TemplateStore) GetConfig(name string) (types.TemplateConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[name]
	if !ok {
		return types.TemplateConfig{}, false
	}
	return rec.Config(), true
}

// Get returns the whole record, or ok=false.
func (s *TemplateStore) Get(name string) (types.TemplateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[name]
	return rec, ok
}

// Delete removes a record. Removing an absent name is a no-op.
func (s *TemplateStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, name)
}

// Init seeds a record wholesale, used for config-file preloads.
func (s *TemplateStore) Init(name string, rec types.TemplateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = rec
}

// Names returns all template names, for stats and listings.
func (s *TemplateStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	return names
}
