package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"zaigate/internal/config"
	"zaigate/internal/models"
	"zaigate/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(cmdServe(args))
	case "info":
		os.Exit(cmdInfo(args))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Commands: serve, info")
		os.Exit(1)
	}
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump upstream payloads")
	fs.StringVar(&cfg.BaseURL, "upstream-url", cfg.BaseURL, "Upstream chat service origin")
	fs.StringVar(&cfg.ModelsFile, "models", cfg.ModelsFile, "YAML model registry override file")
	thinking := fs.String("thinking", string(cfg.ThinkingMode), "Thinking mode (strip|think|thinking|raw|separate)")
	fs.Parse(args)
	cfg.ThinkingMode = config.ParseThinkingMode(*thinking)

	setupLogging(cfg)

	srv, err := server.New(cfg)
	if err != nil {
		slog.Error("failed to initialize server", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("zaigate starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"upstream", cfg.BaseURL,
		"thinking_mode", cfg.ThinkingMode,
		"credentials", len(cfg.Tokens),
	)
	if len(cfg.Tokens) == 0 {
		slog.Warn("no upstream credentials configured; running in guest-token mode")
	}

	if err := srv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	modelsFile := fs.String("models", os.Getenv("ZAIGATE_MODELS_FILE"), "YAML model registry override file")
	fs.Parse(args)

	cfg := config.DefaultFromEnv()
	registry := models.NewRegistry()
	if *modelsFile != "" {
		var err error
		registry, err = models.NewRegistryFromFile(*modelsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load model registry: %v\n", err)
			return 1
		}
	}

	fmt.Println("Gateway")
	fmt.Printf("  Upstream:    %s\n", cfg.BaseURL)
	fmt.Printf("  Credentials: %d configured (guest fallback %s)\n", len(cfg.Tokens), guestState(len(cfg.Tokens)))
	fmt.Printf("  Thinking:    %s\n", cfg.ThinkingMode)
	fmt.Println()
	fmt.Println("Models")
	for _, id := range registry.List() {
		mc := registry.Resolve(id)
		fmt.Printf("  %-14s -> %-16s vision=%-5v thinking=%v\n",
			id, mc.UpstreamID, mc.Capabilities.Vision, mc.Capabilities.Thinking)
	}
	return 0
}

func guestState(configured int) string {
	if configured == 0 {
		return "primary"
	}
	return "standby"
}

func setupLogging(cfg *config.ServerConfig) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
