package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/resolver"
	"github.com/siherrmann/resolver/core/kb"
	"github.com/siherrmann/resolver/core/lock"
	"github.com/siherrmann/resolver/core/metrics"
	"github.com/siherrmann/resolver/core/pipeline"
	"github.com/siherrmann/resolver/core/retry"
	"github.com/siherrmann/resolver/core/verify"
	"github.com/siherrmann/resolver/database/memory"
	"github.com/siherrmann/resolver/helper"
	"github.com/siherrmann/resolver/model"
	"github.com/spf13/cobra"
)

// app is the resolver built from the persistent flags plus what has to be shut down with it.
type app struct {
	resolver *resolver.Resolver
	log      *slog.Logger
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close", "error", err)
		}
	}
}

// openApp creates the resolver the command runs against. configure runs on the
// options right before the resolver is built.
func openApp(ctx context.Context, cmd *cobra.Command, configure ...func(*resolver.Options)) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	inMemory, _ := cmd.Flags().GetBool("memory")
	embeddingDim, _ := cmd.Flags().GetInt("embedding-dim")
	offline, _ := cmd.Flags().GetBool("offline")
	redisURL, _ := cmd.Flags().GetString("redis-url")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stderr, helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: level},
	}))
	a := &app{log: logger}

	opts := resolver.DefaultOptions()
	opts.Logger = logger
	if configPath != "" {
		config, err := model.LoadResolverConfig(configPath)
		if err != nil {
			return nil, err
		}
		opts.Config = config
	}

	// Embeddings
	if embeddingDim > 0 {
		opts.Embed = pipeline.HashEmbedder(embeddingDim)
	} else {
		embed, err := pipeline.DefaultEmbedder()
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding model: %w", err)
		}
		opts.Embed = pipeline.CachedEmbedder(embed, time.Hour)
		embeddingDim = pipeline.DefaultEmbeddingDim
	}

	// Knowledge base
	if !offline {
		resilientOpts := kb.DefaultResilientOptions()
		resilientOpts.Logger = logger
		client, err := kb.NewResilient(kb.NewWikidataClient(), resilientOpts)
		if err != nil {
			return nil, err
		}
		opts.KB = client
	}

	// Verifier
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		verifier, err := verify.NewAnthropicVerifier(verify.AnthropicOptions{
			APIKey: apiKey,
			Model:  os.Getenv("RESOLVER_VERIFIER_MODEL"),
			Retry:  retry.DefaultConfig(),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Verifier = verifier
	}

	// Locks
	if redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		a.closers = append(a.closers, client.Close)
		locker, err := lock.NewRedisLocker(client, "resolver:lock:", 30*time.Second, 0)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Locker = locker
	}

	// Metrics
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts.Metrics = metrics.New(registry)
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
		a.closers = append(a.closers, server.Close)
		logger.Info("Serving metrics", "addr", metricsAddr)
	}

	for _, fn := range configure {
		fn(&opts)
	}

	var err error
	if inMemory {
		a.resolver, err = resolver.NewResolver(ctx, memory.NewStore(), opts)
	} else {
		var dbConfig *helper.DatabaseConfiguration
		dbConfig, err = helper.NewDatabaseConfiguration()
		if err == nil {
			a.resolver, err = resolver.NewPostgresResolver(ctx, dbConfig, embeddingDim, opts)
		}
	}
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.resolver.Close)
	return a, nil
}
