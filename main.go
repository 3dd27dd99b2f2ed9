package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/atomicdiff/prsplit/pkg/cache"
	"github.com/atomicdiff/prsplit/pkg/config"
	"github.com/atomicdiff/prsplit/pkg/fetch"
	"github.com/atomicdiff/prsplit/pkg/log"
	"github.com/atomicdiff/prsplit/pkg/ratelimit"
	"github.com/atomicdiff/prsplit/pkg/runner"
	"github.com/atomicdiff/prsplit/pkg/split"
)

func main() {
	cfg := config.Load()

	var input, output string
	pflag.StringVarP(&input, "input", "i", "", "Path to input NDJSON file with raw PR records.")
	pflag.StringVarP(&output, "output", "o", "", "Path to output NDJSON file for atomic diffs.")
	cfg.RegisterFlags(pflag.CommandLine)
	pflag.Usage = func() {
		fmt.Println("Usage: prsplit -i <input.ndjson> -o <output.ndjson> [flags]")
		fmt.Println("\nSplit merged PRs into atomic diffs by directory and size.")
		fmt.Println("\nFlags:")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := log.New(cfg.Debug)

	if input == "" || output == "" {
		pflag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if cfg.GitHubToken == "" {
		logger.Warning("No GitHub token found in environment - using unauthenticated requests")
	}

	if err := run(logger, cfg, input, output); err != nil {
		logger.Error("Run failed: %v", err)
		os.Exit(1)
	}
}

func run(logger *log.Logger, cfg *config.Config, input, output string) error {
	opts := fetch.Options{Token: cfg.GitHubToken}
	if cfg.CacheEnabled {
		c, err := cache.New(cfg.CacheDir)
		if err != nil {
			return err
		}
		opts.Cache = c
	}
	if cfg.RateLimitEnabled {
		opts.Limiter = ratelimit.New(logger, cfg.SecondsBetweenRequests)
	}
	fetcher := fetch.New(logger, opts)

	splitter, err := split.New(logger, fetcher, cfg)
	if err != nil {
		return err
	}
	r, err := runner.New(logger, splitter, cfg.Workers)
	if err != nil {
		return err
	}

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal: %v", sig)
		cancel()
	}()

	_, err = r.Run(ctx, in, out)
	return err
}
