package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pistonhq/piston/internal/api"
	"github.com/pistonhq/piston/internal/auth"
	"github.com/pistonhq/piston/internal/builtin"
	"github.com/pistonhq/piston/internal/config"
	"github.com/pistonhq/piston/internal/doctor"
	"github.com/pistonhq/piston/internal/engine"
	"github.com/pistonhq/piston/internal/events"
	"github.com/pistonhq/piston/internal/lock"
	"github.com/pistonhq/piston/internal/log"
	"github.com/pistonhq/piston/internal/storage"
	"github.com/pistonhq/piston/internal/task"
	"github.com/pistonhq/piston/internal/tui/watch"
)

const version = "0.1.0"

const defaultConfigPath = "piston.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "execute":
		os.Exit(runExecute(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		os.Exit(runVersion(args))
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`piston - Plugin execution engine

Usage:
  piston <command> [flags]

Commands:
  start      Start the daemon in the foreground
  execute    Execute a plugin action once and print the result
  doctor     Validate configuration and plugin setup
  watch      Live activity TUI against a running daemon
  version    Show version information
  help       Show this help message

Use 'piston <command> --help' for command-specific flags.
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("piston starting", "version", version, "config", *configPath)

	guard, err := lock.Acquire(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire pidfile lock", "error", err)
		return 1
	}
	defer guard.Release()
	logger.Info("acquired pidfile lock", "path", guard.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Storage.Path)

	bus := events.NewBus(cfg.Engine.EventBuffer, log.WithComponent("events"))
	registry := engine.NewRegistry(bus)

	loader := engine.NewLoader(registry, log.WithComponent("loader"))
	if err := loader.Load(builtin.All(), cfg.Engine.Manifest); err != nil {
		logger.Error("failed to load plugins", "manifest", cfg.Engine.Manifest, "error", err)
		return 1
	}
	logger.Info("plugins loaded", "count", registry.Count())

	invoker := engine.NewInvoker(cfg.Engine.ExecTimeout, cfg.Engine.GracePeriod,
		cfg.Engine.MaxStderrBytes, log.WithComponent("exec"))
	dispatcher := engine.NewDispatcher(registry, bus, invoker, log.WithComponent("dispatcher"))

	store := task.NewStore(db, cfg.Tasks.MaxAttempts)
	runner := task.NewRunner(store, dispatcher, cfg.Tasks.TickInterval,
		cfg.Tasks.BackoffBase, log.WithComponent("runner"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if err := runner.Start(ctx); err != nil {
		logger.Error("failed to start task runner", "error", err)
		return 1
	}
	defer runner.Stop()

	if cfg.API.Enabled {
		var issuer *auth.TokenIssuer
		if cfg.API.Auth.JWTSecret != "" {
			issuer, err = auth.NewTokenIssuer(cfg.API.Auth.JWTSecret, cfg.API.Auth.JWTTTL)
			if err != nil {
				logger.Error("invalid JWT configuration", "error", err)
				return 1
			}
		}

		apiServer := api.New(cfg.API, dispatcher, registry, store, bus, issuer, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("piston running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("piston stopped")
	return 0
}

// runExecute runs one plugin action in-process and prints the result.
// Usage: piston execute <plugin> <action> [payload-json]
func runExecute(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	// Support flags after positionals like 'piston execute echo echo {} --config x'.
	var positional, remaining []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") && len(positional) < 3 {
			positional = append(positional, arg)
		} else {
			remaining = append(remaining, arg)
		}
	}
	if err := fs.Parse(remaining); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if len(positional) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: piston execute <plugin> <action> [payload-json] [--config PATH]\n")
		return 1
	}
	pluginName, action := positional[0], positional[1]

	var payload any
	if len(positional) == 3 {
		if err := json.Unmarshal([]byte(positional[2]), &payload); err != nil {
			fmt.Fprintf(os.Stderr, "Payload must be valid JSON: %v\n", err)
			return 1
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup("error")
	bus := events.NewBus(cfg.Engine.EventBuffer, nil)
	registry := engine.NewRegistry(bus)
	loader := engine.NewLoader(registry, log.Get())
	if err := loader.Load(builtin.All(), cfg.Engine.Manifest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load plugins: %v\n", err)
		return 1
	}

	invoker := engine.NewInvoker(cfg.Engine.ExecTimeout, cfg.Engine.GracePeriod,
		cfg.Engine.MaxStderrBytes, log.Get())
	dispatcher := engine.NewDispatcher(registry, bus, invoker, log.Get())

	result, err := dispatcher.Execute(context.Background(), pluginName, action, payload)
	if err != nil {
		out, _ := json.Marshal(map[string]any{
			"ok": false,
			"error": map[string]string{
				"kind":    engine.KindOf(err).String(),
				"message": engine.MessageOf(err),
			},
		})
		fmt.Fprintln(os.Stderr, string(out))
		return 1
	}

	out, err := json.MarshalIndent(map[string]any{"ok": true, "result": result}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runDoctor(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	fs.StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, builtin.All()).Validate()

	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Base URL of a running piston API")
	apiKey := fs.String("key", os.Getenv("PISTON_API_KEY"), "API key (defaults to PISTON_API_KEY)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "An API key is required: pass --key or set PISTON_API_KEY")
		return 1
	}

	if err := watch.Run(strings.TrimRight(*apiURL, "/"), *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *jsonOut {
		out, _ := json.Marshal(map[string]string{"name": "piston", "version": version})
		fmt.Println(string(out))
	} else {
		fmt.Printf("piston version %s\n", version)
	}
	return 0
}
