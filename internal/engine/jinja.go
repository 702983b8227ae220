package engine

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// JinjaEngine renders Jinja2-dialect templates ({{ name }}, {% if %},
// filters) via pongo2. Undefined variables render as the empty string,
// the dialect's defined default.
type JinjaEngine struct{}

func (JinjaEngine) Validate(content string) error {
	if _, err := pongo2.FromString(content); err != nil {
		return fmt.Errorf("template validation error: %v", err)
	}
	return nil
}

func (JinjaEngine) Render(content string, bindings map[string]string) (string, error) {
	tpl, err := pongo2.FromString(content)
	if err != nil {
		return "", fmt.Errorf("template parse error: %v", err)
	}

	ctx := make(pongo2.Context, len(bindings))
	for k, v := range bindings {
		ctx[k] = v
	}

	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("template render error: %v", err)
	}
	return out, nil
}
