package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rumor-ml/commons.systems/tradesync/internal/cache"
	"github.com/rumor-ml/commons.systems/tradesync/internal/classify"
	"github.com/rumor-ml/commons.systems/tradesync/internal/config"
	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/logging"
	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/registry"
	"github.com/rumor-ml/commons.systems/tradesync/internal/rules"
	"github.com/rumor-ml/commons.systems/tradesync/internal/scanner"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

// firestoreCache selects the Firestore category collection as the cache.
const firestoreCache = "firestore"

// commonFlags are shared by every command that touches the spreadsheet.
type commonFlags struct {
	configPath string
	dryRun     bool
	input      string
	logLevel   string
	logFormat  string
}

func (c *commonFlags) register(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "Config file (default "+config.DefaultPath+")")
	f.BoolVar(&c.dryRun, "dry-run", false, "Plan the run without writing to the spreadsheet")
	f.StringVar(&c.input, "input", "", "Input directory containing brokerage exports")
	f.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&c.logFormat, "log-format", "", "Log format: text or json")
}

// load resolves the config with flags taking precedence over file and
// environment, then validates it.
func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.dryRun {
		cfg.DryRun = true
	}
	if c.input != "" {
		cfg.Input = c.input
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds the collaborators built from a config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	runner  *pipeline.Runner
	history *firestore.Client
	closers []io.Closer
}

// newApp connects to every configured backend. Only the spreadsheet is
// required; the classifier degrades to rules when Gemini cannot be set up.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Firestore.ProjectID != "" {
		fc, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, cfg.Sheets.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to firestore: %w", err)
		}
		a.history = fc
		a.closers = append(a.closers, fc)
	}

	classifier, err := a.openClassifier(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner = &pipeline.Runner{
		Scanner:    scanner.New(cfg.Input),
		Ingester:   ingest.New(registry.MustNew(), logger),
		Store:      store,
		Classifier: classifier,
		Logger:     logger,
		DryRun:     cfg.DryRun,
	}
	if a.history != nil {
		a.runner.Recorder = a.history
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) (sheets.Store, error) {
	if a.cfg.Sheets.SpreadsheetID == "" {
		// only reachable in dry-run mode, see config.Validate
		a.logger.Warn("no spreadsheet configured, planning against an empty spreadsheet")
		return sheets.NewMemory(), nil
	}
	return sheets.NewClient(ctx, sheets.Options{
		SpreadsheetID:     a.cfg.Sheets.SpreadsheetID,
		CredentialsFile:   a.cfg.Sheets.ServiceAccountPath,
		RequestsPerSecond: a.cfg.Sheets.RequestsPerSecond,
		Burst:             a.cfg.Sheets.Burst,
		MaxRetries:        a.cfg.Sheets.MaxRetries,
		BaseDelay:         a.cfg.Sheets.RetryDelay,
		Logger:            a.logger,
	})
}

func (a *app) openClassifier(ctx context.Context) (*classify.Classifier, error) {
	store, err := a.openCache()
	if err != nil {
		return nil, err
	}

	var engine *rules.Engine
	if a.cfg.Rules != "" {
		engine, err = rules.LoadFromFile(a.cfg.Rules)
	} else {
		engine, err = rules.LoadEmbedded()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}

	var oracle classify.Oracle
	if a.cfg.ClassifierEnabled() {
		g, err := classify.NewGeminiOracle(ctx, a.cfg.Classifier.APIKey, a.cfg.Classifier.Model)
		if err != nil {
			a.logger.Warn("gemini unavailable, classifying by rules only", "error", err)
		} else {
			oracle = g
		}
	}
	return classify.New(store, oracle, engine, a.logger), nil
}

func (a *app) openCache() (cache.Store, error) {
	spec := a.cfg.Cache
	if strings.TrimSuffix(spec, ":") == firestoreCache {
		if a.history == nil {
			return nil, fmt.Errorf("cache %q needs a firestore project", spec)
		}
		return a.history.Categories(), nil
	}
	store, err := cache.Open(spec)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	return store, nil
}

// Close releases backend connections.
func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close backend", "error", err)
		}
	}
	a.closers = nil
}

// setup loads config and logging and builds the app. Errors are printed.
func setup(ctx context.Context, flags *commonFlags) (*app, bool) {
	cfg, err := flags.load()
	if err != nil {
		printError(err)
		return nil, false
	}
	logger := logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		printError(err)
		return nil, false
	}
	return a, true
}
