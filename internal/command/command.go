// Package command defines the messages sent from the HTTP boundary to
// the dispatcher, and the stateless helpers (Commander) the dispatcher
// composes while handling them.
//
// Every command carries a single-use reply channel. The boundary
// creates reply channels with capacity 1 so the dispatcher's send
// never blocks even when the waiting handler has already timed out and
// gone away.
package command

import (
	"provisionr/internal/types"
)

// Command is the closed set of dispatcher messages.
type Command interface {
	command()
}

// SetTemplate uploads template content. The dispatcher validates the
// content through the engine before storing it.
type SetTemplate struct {
	Name    string
	Content string
	Reply   chan error
}

// SetValues replaces a template's default values YAML.
type SetValues struct {
	Name  string
	YAML  string
	Reply chan error
}

// SetConfig replaces a template's id_field and dynamic_fields.
type SetConfig struct {
	Name   string
	Config types.TemplateConfig
	Reply  chan error
}

// GetConfig reads a template's configuration.
type GetConfig struct {
	Name  string
	Reply chan GetConfigReply
}

type GetConfigReply struct {
	Config types.TemplateConfig
	Found  bool
}

// Render runs the render pipeline for one identity.
type Render struct {
	Name  string
	Query map[string]string
	Reply chan RenderReply
}

type RenderReply struct {
	Content  string
	CacheHit bool
	Err      error
}

// ListRendered lists the catalogue entries for a template.
type ListRendered struct {
	Name  string
	Reply chan ListRenderedReply
}

type ListRenderedReply struct {
	Summaries []types.RenderedSummary
	Err       error
}

// GetRendered fetches one catalogue artifact.
type GetRendered struct {
	Name    string
	IDValue string
	Reply   chan GetRenderedReply
}

type GetRenderedReply struct {
	Artifact types.RenderedArtifact
	Found    bool
	Err      error
}

// DeleteTemplate removes a template record. Idempotent; past renders
// stay in the catalogue.
type DeleteTemplate struct {
	Name  string
	Reply chan error
}

func (SetTemplate) command()    {}
func (SetValues) command()      {}
func (SetConfig) command()      {}
func (GetConfig) command()      {}
func (Render) command()         {}
func (ListRendered) command()   {}
func (GetRendered) command()    {}
func (DeleteTemplate) command() {}
