package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/catalog"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/config"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/gateway"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/metrics"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/normalize"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider/anthropicstyle"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider/bedrockstyle"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider/googlestyle"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider/openaistyle"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/provider/workersstyle"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/server"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/transport"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/usage"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/usage/sqlitestore"
)

const serveUsage = `Usage:
  ai-platform-gateway serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	store, err := sqlitestore.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	gw, err := buildGateway(cfg, store)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, gw)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func buildGateway(cfg config.Config, store *sqlitestore.Store) (*gateway.Gateway, error) {
	normalizer := normalize.New(nil)

	registry := provider.NewRegistry()
	adapters := []provider.Adapter{
		openaistyle.New(provider.OpenAI, cfg.Providers["openai"].BaseURL, normalizer),
		openaistyle.New(provider.Groq, cfg.Providers["groq"].BaseURL, normalizer),
		openaistyle.New(provider.Perplexity, cfg.Providers["perplexity-ai"].BaseURL, normalizer),
		openaistyle.New(provider.OpenRouter, cfg.Providers["openrouter"].BaseURL, normalizer),
		openaistyle.New(provider.Mistral, cfg.Providers["mistral"].BaseURL, normalizer),
		openaistyle.New(provider.Ollama, cfg.Providers["ollama"].BaseURL, normalizer),
		anthropicstyle.New(cfg.Providers["anthropic"].BaseURL, normalizer),
		googlestyle.New(cfg.Providers["google-ai-studio"].BaseURL, normalizer),
		bedrockstyle.New(cfg.Providers["bedrock"].Region, normalizer),
		workersstyle.New(cfg.Providers["workers-ai"].AccountID, normalizer),
	}
	for _, adapter := range adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	envSecrets := make(map[provider.Name]string, len(cfg.Providers))
	extraHeaders := make(map[provider.Name]http.Header)
	for name, providerCfg := range cfg.Providers {
		parsed, err := provider.ParseName(name)
		if err != nil {
			return nil, err
		}
		envSecrets[parsed] = providerCfg.ResolveAPIKey()
		if len(providerCfg.Headers) > 0 {
			headers := http.Header{}
			for key, value := range providerCfg.Headers {
				headers.Set(key, value)
			}
			extraHeaders[parsed] = headers
		}
	}

	meter := usage.NewMeter(store, store,
		usage.Limits{
			Daily:     cfg.Usage.DailyLimit,
			Anonymous: cfg.Usage.DailyLimitAnonymous,
			Pro:       cfg.Usage.DailyLimitPro,
		},
		usage.Baseline{
			InputCost:  cfg.Usage.BaselineInputCost,
			OutputCost: cfg.Usage.BaselineOutputCost,
		},
		nil,
	)

	dispatcher := &provider.Dispatcher{
		Transport: transport.NewClient(transport.RetryConfig{
			MaxAttempts: cfg.Transport.MaxAttempts,
			Backoff:     cfg.Transport.Backoff,
			BaseDelay:   cfg.Transport.BaseDelay,
			MaxDelay:    cfg.Transport.MaxDelay,
			Timeout:     cfg.Transport.Timeout,
		}, slog.Default()),
		Metrics: metrics.SlogRecorder{},
	}

	return gateway.New(gateway.Options{
		Catalog:    catalog.NewStatic(cfg.Models),
		Registry:   registry,
		Dispatcher: dispatcher,
		Meter:      meter,
		Secrets: provider.Secrets{
			Users:        store,
			Env:          envSecrets,
			GatewayToken: cfg.Gateway.Token,
		},
		ExtraHeaders: extraHeaders,
	}), nil
}
