// Package engine abstracts the template expression language behind a
// two-method contract so the dispatcher never depends on a concrete
// dialect. Engines are stateless: each call parses the content it is
// given and carries nothing between calls.
package engine

import "fmt"

// Engine validates and renders template content against a flat
// string-to-string binding map.
//
// Undefined-variable policy is per-engine:
//   - jinja: undefined variables render as the empty string, which is
//     the Jinja dialect's defined default.
//   - gotemplate: undefined variables are a render error
//     (missingkey=error).
type Engine interface {
	// Validate parses content and reports syntax errors without
	// evaluating it.
	Validate(content string) error

	// Render substitutes bindings into content.
	Render(content string, bindings map[string]string) (string, error)
}

// New returns the engine registered under name. Supported names are
// "jinja" (default when name is empty) and "gotemplate".
func New(name string) (Engine, error) {
	switch name {
	case "", "jinja":
		return JinjaEngine{}, nil
	case "gotemplate":
		return GoTemplateEngine{}, nil
	}
	return nil, fmt.Errorf("unknown template engine %q", name)
}
