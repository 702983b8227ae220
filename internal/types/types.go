// Package types holds the domain model shared by the stores, the
// dispatcher, and the HTTP boundary: template records, dynamic field
// configuration, and rendered artifacts.
package types

import (
	"encoding/json"
	"fmt"
)

// GeneratorKind selects how a dynamic field value is produced.
type GeneratorKind string

const (
	// GeneratorAlphanumeric produces a random [A-Za-z0-9] string.
	GeneratorAlphanumeric GeneratorKind = "alphanumeric"
	// GeneratorPassphrase produces hyphen-joined words from the wordlist.
	GeneratorPassphrase GeneratorKind = "passphrase"
)

// HashAlgorithm selects how a generated value is hashed before it is
// substituted into the template and persisted.
type HashAlgorithm string

const (
	HashNone     HashAlgorithm = "none"
	HashSha512   HashAlgorithm = "sha512"
	HashYescrypt HashAlgorithm = "yescrypt"
)

// Valid reports whether h is a known algorithm. The empty string is
// accepted and treated as HashNone.
func (h HashAlgorithm) Valid() bool {
	switch h {
	case "", HashNone, HashSha512, HashYescrypt:
		return true
	}
	return false
}

// OrNone maps the empty string to HashNone.
func (h HashAlgorithm) OrNone() HashAlgorithm {
	if h == "" {
		return HashNone
	}
	return h
}

// GeneratorSpec is the tagged generator variant. Exactly one of Length
// (alphanumeric) or WordCount (passphrase) is meaningful, selected by
// Kind.
type GeneratorSpec struct {
	Kind      GeneratorKind `yaml:"type" json:"type"`
	Length    int           `yaml:"length,omitempty" json:"length,omitempty"`
	WordCount int           `yaml:"word_count,omitempty" json:"word_count,omitempty"`
}

// Validate checks the tag and its size parameter.
func (g GeneratorSpec) Validate() error {
	switch g.Kind {
	case GeneratorAlphanumeric:
		if g.Length <= 0 {
			return fmt.Errorf("alphanumeric generator requires a positive length")
		}
	case GeneratorPassphrase:
		if g.WordCount <= 0 {
			return fmt.Errorf("passphrase generator requires a positive word_count")
		}
	default:
		return fmt.Errorf("unknown generator type %q", string(g.Kind))
	}
	return nil
}

// DynamicField configures one server-generated template variable. On
// the wire the generator is flattened into the field object:
//
//	{"field_name":"pw","type":"alphanumeric","length":16,"hashing_algorithm":"sha512"}
//
// hashing_algorithm is optional and defaults to "none".
type DynamicField struct {
	FieldName string        `yaml:"field_name"`
	Generator GeneratorSpec `yaml:",inline"`
	Hash      HashAlgorithm `yaml:"hashing_algorithm,omitempty"`
}

type dynamicFieldWire struct {
	FieldName string        `json:"field_name"`
	Kind      GeneratorKind `json:"type"`
	Length    int           `json:"length,omitempty"`
	WordCount int           `json:"word_count,omitempty"`
	Hash      HashAlgorithm `json:"hashing_algorithm,omitempty"`
}

func (f DynamicField) MarshalJSON() ([]byte, error) {
	return json.Marshal(dynamicFieldWire{
		FieldName: f.FieldName,
		Kind:      f.Generator.Kind,
		Length:    f.Generator.Length,
		WordCount: f.Generator.WordCount,
		Hash:      f.Hash,
	})
}

func (f *DynamicField) UnmarshalJSON(data []byte) error {
	var w dynamicFieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.FieldName = w.FieldName
	f.Generator = GeneratorSpec{Kind: w.Kind, Length: w.Length, WordCount: w.WordCount}
	f.Hash = w.Hash
	return nil
}

// Validate checks the field name, the generator, and the hash tag.
func (f DynamicField) Validate() error {
	if f.FieldName == "" {
		return fmt.Errorf("dynamic field requires a field_name")
	}
	if err := f.Generator.Validate(); err != nil {
		return fmt.Errorf("dynamic field %q: %w", f.FieldName, err)
	}
	if !f.Hash.Valid() {
		return fmt.Errorf("dynamic field %q: unknown hashing_algorithm %q", f.FieldName, string(f.Hash))
	}
	return nil
}

// DefaultIDField is the identity query parameter used when a template
// has no explicit configuration.
const DefaultIDField = "mac_address"

// TemplateConfig is the caller-settable portion of a template record.
type TemplateConfig struct {
	IDField       string         `json:"id_field" yaml:"id_field"`
	DynamicFields []DynamicField `json:"dynamic_fields" yaml:"dynamic_fields"`
}

// Validate enforces a non-empty id_field, valid generators, and unique
// field names.
func (c TemplateConfig) Validate() error {
	if c.IDField == "" {
		return fmt.Errorf("id_field must not be empty")
	}
	seen := make(map[string]bool, len(c.DynamicFields))
	for _, f := range c.DynamicFields {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.FieldName] {
			return fmt.Errorf("duplicate dynamic field %q", f.FieldName)
		}
		seen[f.FieldName] = true
	}
	return nil
}

// TemplateRecord is the full in-memory state of one template.
type TemplateRecord struct {
	Content       string
	IDField       string
	ValuesYAML    string // empty means no defaults set
	DynamicFields []DynamicField
}

// NewTemplateRecord returns a record with default configuration and no
// content.
func NewTemplateRecord() TemplateRecord {
	return TemplateRecord{IDField: DefaultIDField}
}

// Config extracts the caller-visible configuration.
func (r TemplateRecord) Config() TemplateConfig {
	return TemplateConfig{IDField: r.IDField, DynamicFields: r.DynamicFields}
}

// RenderedArtifact is one durable row in the rendered catalogue.
// GeneratedValues is a YAML mapping of the post-hash dynamic values
// that went into the render.
type RenderedArtifact struct {
	ID              int64  `json:"id"`
	TemplateName    string `json:"template_name"`
	IDFieldValue    string `json:"id_field_value"`
	RenderedContent string `json:"rendered_content"`
	GeneratedValues string `json:"generated_values"`
	CreatedAt       string `json:"created_at"`
}

// RenderedSummary is the listing projection of an artifact.
type RenderedSummary struct {
	IDFieldValue string `json:"id_field_value"`
	CreatedAt    string `json:"created_at"`
}
