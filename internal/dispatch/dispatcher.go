// Package dispatch runs the single-writer command loop at the core of
// the service. One goroutine consumes commands in FIFO order and is
// the only code that mutates the template store or touches the
// catalogue connection, so overlapping renders for the same identity
// serialize naturally: the first stores, the second hits the cache.
package dispatch

import (
	"context"

	"provisionr/internal/cache"
	"provisionr/internal/command"
	"provisionr/internal/logging"
	"provisionr/internal/store"
	"provisionr/internal/types"
)

// DefaultQueueSize bounds the command queue.
const DefaultQueueSize = 128

// Notifier is told about newly stored artifacts. Implementations must
// not block the dispatcher.
type Notifier interface {
	ArtifactStored(templateName, idValue, createdAt string)
}

// Dispatcher owns mutable access to the template store and exclusive
// use of the catalogue connection.
type Dispatcher struct {
	commander *command.Commander
	templates *store.TemplateStore
	catalogue *store.Catalogue
	queue     chan command.Command

	hot      *cache.RenderCache // optional
	notifier Notifier           // optional
}

// Option configures optional dispatcher collaborators.
type Option func(*Dispatcher)

// WithHotCache enables the in-process render cache.
func WithHotCache(c *cache.RenderCache) Option {
	return func(d *Dispatcher) { d.hot = c }
}

// WithNotifier registers a store notification sink.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) { d.queue = make(chan command.Command, n) }
}

func New(cmdr *command.Commander, templates *store.TemplateStore, catalogue *store.Catalogue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		commander: cmdr,
		templates: templates,
		catalogue: catalogue,
		queue:     make(chan command.Command, DefaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Queue is the send side handed to the HTTP boundary.
func (d *Dispatcher) Queue() chan<- command.Command {
	return d.queue
}

// Run consumes commands until ctx is cancelled. Inside a command the
// dispatcher runs synchronously; the only suspension point is the
// select below.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logging.Debug("dispatcher_cancelled", nil)
			return
		case cmd := <-d.queue:
			d.handle(cmd)
		}
	}
}

func (d *Dispatcher) handle(cmd command.Command) {
	switch c := cmd.(type) {
	case command.SetTemplate:
		c.Reply <- d.handleSetTemplate(c.Name, c.Content)
	case command.SetValues:
		c.Reply <- d.handleSetValues(c.Name, c.YAML)
	case command.SetConfig:
		c.Reply <- d.handleSetConfig(c.Name, c.Config)
	case command.GetConfig:
		cfg, found := d.templates.GetConfig(c.Name)
		c.Reply <- command.GetConfigReply{Config: cfg, Found: found}
	case command.Render:
		c.Reply <- d.handleRender(c.Name, c.Query)
	case command.ListRendered:
		summaries, err := d.catalogue.List(c.Name)
		c.Reply <- command.ListRenderedReply{Summaries: summaries, Err: err}
	case command.GetRendered:
		artifact, found, err := d.catalogue.Get(c.Name, c.IDValue)
		c.Reply <- command.GetRenderedReply{Artifact: artifact, Found: found, Err: err}
	case command.DeleteTemplate:
		// Past renders stay in the catalogue; deletion removes only
		// the template record.
		d.templates.Delete(c.Name)
		logging.Info("template_deleted", map[string]any{"template": c.Name})
		c.Reply <- nil
	}
}

func (d *Dispatcher) handleSetTemplate(name, content string) error {
	if err := d.commander.ValidateTemplate(content); err != nil {
		return err
	}
	d.templates.SetContent(name, content)
	logging.Info("template_set", map[string]any{"template": name, "bytes": len(content)})
	return nil
}

func (d *Dispatcher) handleSetValues(name, yamlStr string) error {
	if _, err := d.commander.ParseYAML(yamlStr); err != nil {
		return err
	}
	if err := d.templates.SetValues(name, yamlStr); err != nil {
		return err
	}
	logging.Info("template_values_set", map[string]any{"template": name})
	return nil
}

func (d *Dispatcher) handleSetConfig(name string, cfg types.TemplateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := d.templates.SetConfig(name, cfg); err != nil {
		return err
	}
	logging.Info("template_config_set", map[string]any{
		"template":       name,
		"id_field":       cfg.IDField,
		"dynamic_fields": len(cfg.DynamicFields),
	})
	return nil
}

// handleRender is the one composite pipeline: compose bindings,
// generate-and-hash dynamic values, render, persist. The prior
// catalogue read makes secret generation at-most-once per identity.
func (d *Dispatcher) handleRender(name string, query map[string]string) command.RenderReply {
	record, ok := d.templates.Get(name)
	if !ok {
		return command.RenderReply{Err: types.NotFoundError(name)}
	}
	if record.Content == "" {
		return command.RenderReply{Err: types.EmptyError(name)}
	}

	identity, ok := query[record.IDField]
	if !ok {
		return command.RenderReply{Err: types.MissingFieldError(record.IDField)}
	}

	if d.hot != nil {
		if content, hit := d.hot.Get(name, identity); hit {
			return command.RenderReply{Content: content, CacheHit: true}
		}
	}

	// A failed catalogue read must not fall through to regeneration:
	// the row may exist, and a fresh render would replace secrets the
	// machine already received.
	cached, found, err := d.catalogue.Get(name, identity)
	if err != nil {
		return command.RenderReply{Err: err}
	}
	if found {
		logging.Info("render_cache_hit", map[string]any{"template": name, "identity": identity})
		if d.hot != nil {
			d.hot.Set(name, identity, cached.RenderedContent)
		}
		return command.RenderReply{Content: cached.RenderedContent, CacheHit: true}
	}

	// Precedence, lowest to highest: stored defaults, then the query,
	// then generated secrets.
	var bindings map[string]string
	if record.ValuesYAML != "" {
		doc, err := d.commander.ParseYAML(record.ValuesYAML)
		if err != nil {
			return command.RenderReply{Err: err}
		}
		bindings = d.commander.YAMLToFlatMap(doc)
	} else {
		bindings = make(map[string]string)
	}
	for k, v := range query {
		bindings[k] = v
	}

	generated, err := d.commander.GenerateValues(record.DynamicFields, types.HashNone)
	if err != nil {
		return command.RenderReply{Err: err}
	}
	generatedYAML, err := d.commander.MapToYAML(generated)
	if err != nil {
		return command.RenderReply{Err: err}
	}
	for k, v := range generated {
		bindings[k] = v
	}

	rendered, err := d.commander.RenderTemplate(record.Content, bindings)
	if err != nil {
		return command.RenderReply{Err: err}
	}

	// A store failure discards the generated secret; the next request
	// regenerates, which is fine because the client never saw it.
	if _, err := d.catalogue.Store(name, identity, rendered, generatedYAML); err != nil {
		return command.RenderReply{Err: err}
	}

	if d.hot != nil {
		d.hot.Set(name, identity, rendered)
	}
	if d.notifier != nil {
		if artifact, found, err := d.catalogue.Get(name, identity); err == nil && found {
			d.notifier.ArtifactStored(name, identity, artifact.CreatedAt)
		}
	}

	logging.Info("render_stored", map[string]any{"template": name, "identity": identity})
	return command.RenderReply{Content: rendered}
}
