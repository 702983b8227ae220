package engine

import (
	"bytes"
	"fmt"
	"text/template"
)

// GoTemplateEngine renders text/template content ({{ .name }}).
// Undefined variables are a render error via missingkey=error, so a
// typo can never inject an empty string into a provisioned file.
type GoTemplateEngine struct{}

func parse(content string) (*template.Template, error) {
	return template.New("template").Option("missingkey=error").Parse(content)
}

func (GoTemplateEngine) Validate(content string) error {
	if _, err := parse(content); err != nil {
		return fmt.Errorf("template validation error: %v", err)
	}
	return nil
}

func (GoTemplateEngine) Render(content string, bindings map[string]string) (string, error) {
	t, err := parse(content)
	if err != nil {
		return "", fmt.Errorf("template parse error: %v", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, bindings); err != nil {
		return "", fmt.Errorf("template render error: %v", err)
	}
	return buf.String(), nil
}
