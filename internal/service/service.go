// Package service wires the whole process together: catalogue, template
// preload, dispatcher, HTTP server, and the optional cache, webhook and
// maintenance pieces. main delegates here so the wiring is testable.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"provisionr/internal/cache"
	"provisionr/internal/command"
	"provisionr/internal/config"
	"provisionr/internal/dispatch"
	"provisionr/internal/engine"
	"provisionr/internal/logging"
	"provisionr/internal/metrics"
	"provisionr/internal/scheduler"
	"provisionr/internal/server"
	"provisionr/internal/store"
	"provisionr/internal/types"
	"provisionr/internal/validate"
	"provisionr/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

// Version and BuildTime are set via -ldflags at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Run starts the service and blocks until SIGINT/SIGTERM or a fatal
// server error.
func Run(cfg *config.Config) error {
	result := validate.Run(cfg)
	if !result.Valid {
		return fmt.Errorf("configuration validation failed:\n  %s", joinErrors(result.Errors))
	}
	for _, w := range result.Warnings {
		logging.Warn("config_warning", map[string]any{"warning": w})
	}

	catalogue, err := store.OpenCatalogue(cfg.ResolvePath(cfg.DB))
	if err != nil {
		return fmt.Errorf("opening catalogue %s: %w", cfg.DB, err)
	}
	defer catalogue.Close()
	if err := catalogue.Init(); err != nil {
		return fmt.Errorf("initializing catalogue: %w", err)
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}
	cmdr := command.NewCommander(eng)

	templates := store.NewTemplateStore()
	if err := preloadTemplates(cfg, cmdr, templates); err != nil {
		return err
	}

	metrics.Init(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return catalogue.Ping(ctx) == nil
	}, Version, BuildTime)

	opts := []dispatch.Option{}
	if cfg.Cache != nil && cfg.Cache.Enabled {
		hot, err := cache.New(cfg.Cache.MaxSizeMB)
		if err != nil {
			return fmt.Errorf("initializing render cache: %w", err)
		}
		defer hot.Close()
		metrics.SetCacheSnapshotProvider(func() any { return hot.Snapshot() })
		opts = append(opts, dispatch.WithHotCache(hot))
	}

	var notifier *webhook.Notifier
	if cfg.Webhook != nil {
		notifier = webhook.NewNotifier(*cfg.Webhook)
		defer notifier.Close()
		opts = append(opts, dispatch.WithNotifier(notifier))
	}

	dispatcher := dispatch.New(cmdr, templates, catalogue, opts...)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go dispatcher.Run(dispatchCtx)

	if cfg.Maintenance != nil {
		sched := scheduler.New(catalogue, cfg.Maintenance.Cron)
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(cfg, dispatcher.Queue(), catalogue)

	engineName := cfg.Engine
	if engineName == "" {
		engineName = "jinja"
	}
	logging.Info("service_started", map[string]any{
		"version":   Version,
		"port":      cfg.Port,
		"engine":    engineName,
		"templates": len(cfg.Templates),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logging.Info("shutdown_requested", map[string]any{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// preloadTemplates registers the templates declared in the config file
// before the server accepts requests. Paths resolve against the config
// file's directory.
func preloadTemplates(cfg *config.Config, cmdr *command.Commander, templates *store.TemplateStore) error {
	for name, src := range cfg.Templates {
		content, err := os.ReadFile(cfg.ResolvePath(src.TemplatePath))
		if err != nil {
			return fmt.Errorf("template %s: %w", name, err)
		}
		if err := cmdr.ValidateTemplate(string(content)); err != nil {
			return fmt.Errorf("template %s: %w", name, err)
		}

		rec := types.NewTemplateRecord()
		rec.Content = string(content)
		rec.IDField = src.IDField
		rec.DynamicFields = src.DynamicFields

		if src.ValuesPath != "" {
			values, err := os.ReadFile(cfg.ResolvePath(src.ValuesPath))
			if err != nil {
				return fmt.Errorf("template %s values: %w", name, err)
			}
			if _, err := cmdr.ParseYAML(string(values)); err != nil {
				return fmt.Errorf("template %s values: %w", name, err)
			}
			rec.ValuesYAML = string(values)
		}

		templates.Init(name, rec)
		logging.Info("template_preloaded", map[string]any{
			"template":       name,
			"id_field":       rec.IDField,
			"dynamic_fields": len(rec.DynamicFields),
		})
	}
	return nil
}

func joinErrors(errs []string) string {
	return strings.Join(errs, "\n  ")
}
