// Arbiter is a conversational intent router. It bridges a chat
// platform to backend capability services (text generation, image
// generation, web search, weather, sports, memes), deciding for each
// inbound message whether it is an explicit command, an implicit
// request a language model can recognize, or plain conversation.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	arbiter serve              Connect to the platform and start routing
//	arbiter version            Print version and build information
//	arbiter -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/moxley/arbiter/internal/audit"
	"github.com/moxley/arbiter/internal/buildinfo"
	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/config"
	"github.com/moxley/arbiter/internal/events"
	"github.com/moxley/arbiter/internal/gateway"
	"github.com/moxley/arbiter/internal/history"
	"github.com/moxley/arbiter/internal/infer"
	"github.com/moxley/arbiter/internal/keyword"
	"github.com/moxley/arbiter/internal/llm"
	"github.com/moxley/arbiter/internal/mqtt"
	"github.com/moxley/arbiter/internal/platform"
	"github.com/moxley/arbiter/internal/router"
)

// capabilityClientTimeout is the outer HTTP timeout for capability
// service calls. Per-dispatch deadlines come from binding timeouts via
// context; this only guards against a wedged connection.
const capabilityClientTimeout = 10 * time.Minute

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the arbiter command. Arguments are
// parsed by hand; the flag package relies on package-level globals
// which interfere with calling run concurrently from tests, and the
// argument surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Arbiter - Conversational Intent Router")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: arbiter [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to the platform and start routing")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./arbiter.yaml, ~/.config/arbiter/arbiter.yaml, /etc/arbiter/arbiter.yaml")
	return nil
}

// runServe is the primary operating mode: loads config, wires the
// routing engine to the platform client and capability services, and
// blocks until a shutdown signal arrives.
//
// Signals:
//   - SIGINT / SIGTERM cancel the context and trigger graceful shutdown
//   - SIGHUP reloads the config file and atomically replaces the
//     keyword bindings; platform and backend connections are untouched
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger, _ := config.NewLogger(stdout, "info", "text")
	logger.Info("starting Arbiter", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner.
	logger, err = config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger config: %w", err)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"gateway_url", cfg.Platform.GatewayURL,
		"model", cfg.LLM.Model,
		"backend_url", cfg.LLM.BaseURL,
	)

	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	if cfg.Platform.GatewayURL == "" {
		return fmt.Errorf("platform.gateway_url is required")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Event bus ---
	// Operational events flow from the engine, gateway, and bridge to
	// the MQTT stats accumulator.
	bus := events.New()

	// --- Keyword registry ---
	bindings, err := keyword.FromConfig(cfg.Bindings)
	if err != nil {
		return fmt.Errorf("bindings: %w", err)
	}
	registry, err := keyword.NewRegistry(cfg.CommandMarker, bindings)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	logger.Info("keyword registry loaded", "marker", cfg.CommandMarker, "bindings", len(registry.Bindings()))

	// --- Generative backend ---
	llmTimeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	ollama := llm.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Model, llmTimeout)
	validity := llm.NewValidity(time.Duration(cfg.LLM.ValidityTTLSec)*time.Second, logger)

	if err := ollama.Ping(ctx); err != nil {
		// The validity cache re-probes on first use; a cold backend at
		// startup is not fatal.
		logger.Warn("generative backend unreachable at startup", "url", cfg.LLM.BaseURL, "error", err)
	}

	// --- Capability service clients ---
	invokers := make(map[capability.ID]capability.Invoker, len(cfg.Capabilities))
	for name, baseURL := range cfg.Capabilities {
		id, err := capability.ParseID(name)
		if err != nil {
			return fmt.Errorf("capabilities: %w", err)
		}
		invokers[id] = capability.NewServiceClient(id, baseURL, capabilityClientTimeout, logger)
		logger.Info("capability service configured", "capability", name, "url", baseURL)
	}

	// --- Platform client ---
	client := platform.NewClient(cfg.Platform.GatewayURL, cfg.Platform.Token, logger)

	collector := history.NewCollector(history.CollectorConfig{
		Store:       client,
		SelfID:      cfg.Platform.SelfID,
		Placeholder: platform.DefaultPlaceholder,
		AllowBots:   cfg.Platform.AllowBots,
		ImageDepth:  cfg.Context.ImageDepth,
		Logger:      logger,
	})

	// --- Audit store ---
	var auditor router.Auditor
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("open audit store %s: %w", cfg.Audit.Path, err)
		}
		defer store.Close()
		auditor = store
		logger.Info("audit store opened", "path", cfg.Audit.Path)
	}

	// --- Routing engine ---
	gw := gateway.New(logger, bus)
	engine := router.New(router.Config{
		Registry:   registry,
		Collector:  collector,
		Client:     ollama,
		Inferencer: infer.New(ollama, logger),
		Gateway:    gw,
		Invokers:   invokers,
		Validity:   validity,
		Lister:     ollama,
		Endpoint:   cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		DirectBudget: history.Budget{
			MaxDepth: cfg.Context.Direct.MaxDepth,
			MaxChars: cfg.Context.Direct.MaxChars,
		},
		AmbientBudget: history.Budget{
			MaxDepth: cfg.Context.Ambient.MaxDepth,
			MaxChars: cfg.Context.Ambient.MaxChars,
		},
		Bus:    bus,
		Audit:  auditor,
		Logger: logger,
	})

	bridge := platform.NewBridge(platform.BridgeConfig{
		Messages:  client.Messages(),
		Sender:    client,
		Engine:    engine,
		Logger:    logger,
		Bus:       bus,
		SelfID:    cfg.Platform.SelfID,
		AllowBots: cfg.Platform.AllowBots,
		RateLimit: cfg.Platform.RateLimit,
	})

	// --- MQTT status publisher ---
	if cfg.MQTT.Enabled {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance ID: %w", err)
		}
		stats := mqtt.NewStats(nil)
		sub := bus.Subscribe(256)
		go stats.Run(ctx, sub)

		pub := mqtt.New(cfg.MQTT, instanceID, stats, func() string { return cfg.LLM.Model }, logger)
		go func() {
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
		logger.Info("mqtt publisher started", "broker", cfg.MQTT.Broker, "device", cfg.MQTT.DeviceName)
	}

	// --- Config reload on SIGHUP ---
	// Only the keyword bindings are reloaded; everything else requires
	// a restart. The registry swap is atomic, so in-flight messages
	// finish against the snapshot they started with.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloadBindings(cfgPath, registry, logger)
			}
		}
	}()

	// --- Platform connection and bridge loop ---
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("platform client stopped", "error", err)
			cancel()
		}
	}()

	bridge.Start(ctx)

	logger.Info("Arbiter stopped")
	return nil
}

// reloadBindings re-reads the config file and swaps the keyword
// bindings in place. A bad config leaves the running set untouched.
func reloadBindings(cfgPath string, registry *keyword.Registry, logger *slog.Logger) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("config reload failed, keeping current bindings", "path", cfgPath, "error", err)
		return
	}
	bindings, err := keyword.FromConfig(cfg.Bindings)
	if err != nil {
		logger.Error("config reload failed, keeping current bindings", "path", cfgPath, "error", err)
		return
	}
	if err := registry.Replace(bindings); err != nil {
		logger.Error("binding replace failed, keeping current bindings", "error", err)
		return
	}
	logger.Info("bindings reloaded", "path", cfgPath, "bindings", len(registry.Bindings()))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Returns the parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
