// Package main is the umekomi CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/config"
	"github.com/hyperjump/umekomi/internal/dispatch"
	"github.com/hyperjump/umekomi/internal/modelwatch"
	"github.com/hyperjump/umekomi/internal/server"
	"github.com/hyperjump/umekomi/internal/tensor"
	"github.com/hyperjump/umekomi/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/umekomi/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "embed":
		runEmbed()
	case "version", "--version", "-v":
		fmt.Printf("umekomi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	variant, err := tensor.ParseVariant(cfg.Embedding.Variant)
	if err != nil {
		logger.Fatal("invalid embedding variant", zap.Error(err))
	}

	manager := dispatch.NewManager(
		dispatch.WithLogger(logger),
		dispatch.WithQueueSize(cfg.Embedding.QueueSize),
	)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx, variant); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	defer manager.Stop()

	if cfg.Watch.EnabledOrDefault() {
		watch := modelwatch.New(cfg.Embedding.ModelPath, nil, logger)
		if err := watch.Start(); err != nil {
			logger.Warn("model watch unavailable", zap.Error(err))
		} else {
			defer watch.Stop()
		}
	}

	srv, err := server.NewServer(manager, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
}

func runEmbed() {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tokensArg := fs.String("tokens", "", "comma-separated token ids, e.g. 101,2023,102")
	model := fs.String("model", "", "model path override")
	output := fs.String("output", "", "output tensor name override")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	tokens, err := parseTokens(*tokensArg)
	if err != nil {
		fmt.Printf("Invalid -tokens: %v\n", err)
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	variant, err := tensor.ParseVariant(cfg.Embedding.Variant)
	if err != nil {
		logger.Fatal("invalid embedding variant", zap.Error(err))
	}

	manager := dispatch.NewManager(
		dispatch.WithLogger(logger),
		dispatch.WithQueueSize(cfg.Embedding.QueueSize),
	)
	ctx := context.Background()
	if err := manager.Start(ctx, variant); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	defer manager.Stop()

	modelPath := cfg.Embedding.ModelPath
	if *model != "" {
		modelPath = *model
	}
	var opts []dispatch.InferOption
	outputName := cfg.Embedding.OutputName
	if *output != "" {
		outputName = *output
	}
	if outputName != "" {
		opts = append(opts, dispatch.WithOutputName(outputName))
	}
	if cfg.Embedding.LibraryPath != "" {
		opts = append(opts, dispatch.WithLibraryPath(cfg.Embedding.LibraryPath))
	}

	emb, err := manager.SendInference(ctx, modelPath, tokens, opts...)
	if err != nil {
		logger.Fatal("inference failed", zap.Error(err))
	}
	if err := json.NewEncoder(os.Stdout).Encode(map[string]any{
		"embedding":  emb,
		"dimensions": len(emb),
	}); err != nil {
		logger.Fatal("failed to encode result", zap.Error(err))
	}
}

// parseTokens parses a comma-separated list of non-negative token ids.
func parseTokens(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("no tokens given")
	}
	parts := strings.Split(s, ",")
	tokens := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad token %q: %w", p, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("token %q is negative", p)
		}
		tokens = append(tokens, v)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens given")
	}
	return tokens, nil
}

func printUsage() {
	fmt.Println(`umekomi - embedding inference dispatch service

Usage:
  umekomi serve [-config path] [-debug]     start the HTTP embedding server
  umekomi embed -tokens 101,2023,102 [...]  run one inference and print JSON
  umekomi version                           print version
  umekomi help                              show this help

Flags for embed:
  -config path   config file path
  -tokens list   comma-separated token ids (required)
  -model path    model path override
  -output name   output tensor name override
  -debug         enable debug logging`)
}
