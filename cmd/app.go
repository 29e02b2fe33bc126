package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/teemow/mailtriage/internal/accounts"
	"github.com/teemow/mailtriage/internal/classify"
	"github.com/teemow/mailtriage/internal/config"
	"github.com/teemow/mailtriage/internal/instrumentation"
	"github.com/teemow/mailtriage/internal/intel"
	"github.com/teemow/mailtriage/internal/llm"
	"github.com/teemow/mailtriage/internal/store"
	"github.com/teemow/mailtriage/internal/triage"
	"github.com/teemow/mailtriage/internal/vault"
)

// app wires the long-lived collaborators every command needs: configuration,
// the vault, the learner state, and the triager.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider *instrumentation.Provider
	accounts *accounts.Manager
	triager  *triage.Triager
	priority *intel.PriorityEngine
	learner  *intel.CategoryLearner
	tone     *intel.ToneLearner
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger()

	instrCfg := instrumentation.DefaultConfig()
	instrCfg.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	v, err := vault.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}

	mgr := accounts.New(v, cfg, logger)
	mgr.SetMetrics(provider.Metrics())

	repo, err := store.NewFileRepository(filepath.Join(cfg.DataDir, "intelligence"))
	if err != nil {
		return nil, err
	}

	completer := llm.NewOllamaClient(cfg.LLM.Endpoint, cfg.LLM.Model)
	priority := intel.NewPriorityEngine(repo, logger)
	learner := intel.NewCategoryLearner(repo, logger)
	tone := intel.NewToneLearner(repo, logger)
	contextEngine := intel.NewContextEngine(priority, learner, nil, logger)

	triager := triage.New(triage.Deps{
		Accounts:  mgr,
		Detector:  classify.NewSpamDetector(completer, logger),
		Completer: completer,
		Learner:   learner,
		Context:   contextEngine,
		Tone:      tone,
		Metrics:   provider.Metrics(),
		Logger:    logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		accounts: mgr,
		triager:  triager,
		priority: priority,
		learner:  learner,
		tone:     tone,
	}, nil
}

func (a *app) shutdown(ctx context.Context) {
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("instrumentation shutdown failed", "error", err)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// printJSON writes a report to stdout. Reports go to stdout, logs to stderr,
// so output stays scriptable.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
