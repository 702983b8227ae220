package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"provisionr/internal/config"
	"provisionr/internal/logging"
	"provisionr/internal/service"
	"provisionr/internal/validate"
)

var (
	configPath   = flag.String("config", "", "Path to configuration file")
	port         = flag.Int("port", 0, "HTTP listen port (overrides config)")
	dbPath       = flag.String("db", "", "Rendered catalogue path (overrides config)")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	validateOnly = flag.Bool("validate", false, "Validate configuration and exit")
	install      = flag.Bool("install", false, "Print service installation instructions")
	uninstall    = flag.Bool("uninstall", false, "Print service removal instructions")
)

func main() {
	flag.Parse()

	// Headers like ${PROVISIONR_TOKEN} expand from the environment; a
	// .env file next to the binary is a convenience for development.
	_ = godotenv.Load()

	if *install {
		exePath, err := os.Executable()
		if err != nil {
			log.Fatalf("Failed to get executable path: %v", err)
		}
		if err := service.Install(exePath, *configPath); err != nil {
			log.Fatalf("Failed to print install instructions: %v", err)
		}
		return
	}

	if *uninstall {
		if err := service.Uninstall(); err != nil {
			log.Fatalf("Failed to print removal instructions: %v", err)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	applyOverrides(cfg)

	if *validateOnly {
		runValidation(cfg)
		return
	}

	if err := logging.Init(cfg.LogLevel, logging.Options{
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Logging error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	if err := service.Run(cfg); err != nil {
		logging.Error("service_failed", map[string]any{"error": err.Error()})
		fmt.Fprintf(os.Stderr, "Service error: %v\n", err)
		os.Exit(1)
	}
}

// applyOverrides lets command-line flags win over file values, so a
// config file is optional for simple setups.
func applyOverrides(cfg *config.Config) {
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}

func runValidation(cfg *config.Config) {
	fmt.Println("Provisionr Configuration Validator")
	fmt.Println("==================================")
	if *configPath != "" {
		fmt.Printf("Config file: %s\n\n", *configPath)
	} else {
		fmt.Println("No config file given, validating defaults with overrides.")
		fmt.Println()
	}

	result := validate.Run(cfg)

	fmt.Printf("Server: port %d\n", cfg.Port)
	fmt.Printf("Catalogue: %s\n", cfg.DB)
	engineName := cfg.Engine
	if engineName == "" {
		engineName = "jinja"
	}
	fmt.Printf("Engine: %s\n", engineName)
	fmt.Printf("Logging: level=%s, file=%s\n", cfg.LogLevel, cfg.Logging.FilePath)
	fmt.Printf("Templates: %d preloaded\n", len(cfg.Templates))

	if len(cfg.Templates) > 0 {
		fmt.Println("\nConfigured templates:")
		for name, src := range cfg.Templates {
			fmt.Printf("  %s - %s (id field %s, %d dynamic fields)\n",
				name, src.TemplatePath, src.IDField, len(src.DynamicFields))
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
	}

	fmt.Println()
	if result.Valid {
		fmt.Println("✓ Configuration is valid")
		os.Exit(0)
	} else {
		fmt.Println("✗ Configuration has errors")
		os.Exit(1)
	}
}
