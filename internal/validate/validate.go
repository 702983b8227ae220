// Package validate implements the --validate mode: a full check of the
// configuration, the preloaded templates, and the catalogue before the
// server would start.
package validate

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"provisionr/internal/config"
	"provisionr/internal/engine"
	"provisionr/internal/store"
)

// Result holds validation results
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Run validates config format and the preloaded templates, then opens
// the catalogue if the format checks pass.
func Run(cfg *config.Config) *Result {
	r := &Result{Valid: true}

	validateAmbient(cfg, r)
	validateTemplates(cfg, r)

	if r.Valid {
		testCatalogue(cfg, r)
	}

	return r
}

func validateAmbient(cfg *config.Config, r *Result) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		r.addError("Port must be 1-65535, got: %d", cfg.Port)
	}

	if cfg.Maintenance != nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(cfg.Maintenance.Cron); err != nil {
			r.addError("Invalid maintenance cron expression '%s': %v", cfg.Maintenance.Cron, err)
		}
	}

	if cfg.Webhook != nil {
		u, err := url.Parse(cfg.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			r.addError("webhook.url must be an http(s) URL, got: %s", cfg.Webhook.URL)
		}
		for name, value := range cfg.Webhook.Headers {
			if strings.HasPrefix(value, "${") {
				r.addWarning("webhook.headers.%s appears to be an unresolved env var", name)
			}
		}
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			r.addError("rate_limit.requests_per_second must be positive")
		}
		if cfg.RateLimit.Burst < 1 {
			r.addError("rate_limit.burst must be at least 1")
		}
	}
}

func validateTemplates(cfg *config.Config, r *Result) {
	if len(cfg.Templates) == 0 {
		r.addWarning("No templates configured - all templates must be registered over HTTP")
		return
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		r.addError("Invalid engine '%s': %v", cfg.Engine, err)
		return
	}

	for name, src := range cfg.Templates {
		prefix := fmt.Sprintf("templates.%s", name)

		content, err := os.ReadFile(cfg.ResolvePath(src.TemplatePath))
		if err != nil {
			r.addError("%s: cannot read template_path: %v", prefix, err)
		} else {
			if len(content) == 0 {
				r.addWarning("%s: template file is empty - renders will fail until content is set", prefix)
			}
			if err := eng.Validate(string(content)); err != nil {
				r.addError("%s: template does not parse: %v", prefix, err)
			}
		}

		if src.ValuesPath != "" {
			data, err := os.ReadFile(cfg.ResolvePath(src.ValuesPath))
			if err != nil {
				r.addError("%s: cannot read values_path: %v", prefix, err)
			} else {
				var doc any
				if err := yaml.Unmarshal(data, &doc); err != nil {
					r.addError("%s: values file is not valid YAML: %v", prefix, err)
				}
			}
		}

		fieldNames := make(map[string]bool)
		for i, f := range src.DynamicFields {
			if fieldNames[f.FieldName] {
				r.addError("%s.dynamic_fields[%d]: duplicate field_name '%s'", prefix, i, f.FieldName)
			}
			fieldNames[f.FieldName] = true
			if f.FieldName == src.IDField {
				r.addWarning("%s.dynamic_fields[%d]: field '%s' shadows the id field", prefix, i, f.FieldName)
			}
		}
	}
}

func testCatalogue(cfg *config.Config, r *Result) {
	catalogue, err := store.OpenCatalogue(cfg.ResolvePath(cfg.DB))
	if err != nil {
		r.addError("Catalogue '%s': open failed: %v", cfg.DB, err)
		return
	}
	defer catalogue.Close()

	if err := catalogue.Init(); err != nil {
		r.addError("Catalogue '%s': schema init failed: %v", cfg.DB, err)
	}
}
