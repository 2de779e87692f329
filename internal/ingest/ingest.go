// Package ingest decodes and parses every scanned export and groups the
// resulting trades by destination.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/logging"
	"github.com/rumor-ml/commons.systems/tradesync/internal/registry"
	"github.com/rumor-ml/commons.systems/tradesync/internal/scanner"
	"github.com/rumor-ml/commons.systems/tradesync/internal/tabular"
)

// DefaultConcurrency bounds the number of files decoded at once.
const DefaultConcurrency = 4

// FileStatus is the outcome of one file.
type FileStatus string

const (
	StatusProcessed    FileStatus = "processed"
	StatusUnrecognized FileStatus = "unrecognized"
	StatusFailed       FileStatus = "failed"
)

// FileStats describes what happened to one input file.
type FileStats struct {
	Path     string
	Label    string
	Parser   string
	Status   FileStatus
	Trades   int
	Rejected int
	Err      error
}

// Destination is the ordered set of trades bound for one sheet.
type Destination struct {
	Name   string
	Kind   domain.Kind
	Trades []domain.Trade
}

// Batch is the ingestion result. Destinations appear in the order their first
// trade was seen; trades keep source order.
type Batch struct {
	Destinations []*Destination
	Files        []FileStats
}

// Count returns the number of files with the given status.
func (b *Batch) Count(status FileStatus) int {
	n := 0
	for _, f := range b.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// TradeCount is the total number of trades across destinations.
func (b *Batch) TradeCount() int {
	n := 0
	for _, d := range b.Destinations {
		n += len(d.Trades)
	}
	return n
}

// Ingester runs detection and parsing over scanned files.
type Ingester struct {
	Registry    *registry.Registry
	Logger      *slog.Logger
	Concurrency int
}

// New returns an Ingester with the default concurrency.
func New(reg *registry.Registry, logger *slog.Logger) *Ingester {
	return &Ingester{Registry: reg, Logger: logger, Concurrency: DefaultConcurrency}
}

type fileResult struct {
	stats  FileStats
	trades []domain.Trade
}

// Run decodes and parses files concurrently. A file that cannot be read,
// detected or parsed is logged and skipped; only cancellation fails the run.
func (i *Ingester) Run(ctx context.Context, files []scanner.ScanResult) (*Batch, error) {
	logger := i.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	limit := i.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]fileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for idx, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := i.process(gctx, f, logger)
			if err != nil {
				return err
			}
			results[idx] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch := &Batch{}
	byName := make(map[string]*Destination)
	for _, r := range results {
		batch.Files = append(batch.Files, r.stats)
		for _, tr := range r.trades {
			name := domain.DestinationName(tr.Account, tr.Kind)
			d, ok := byName[name]
			if !ok {
				d = &Destination{Name: name, Kind: tr.Kind}
				byName[name] = d
				batch.Destinations = append(batch.Destinations, d)
			}
			d.Trades = append(d.Trades, tr)
		}
	}
	return batch, nil
}

// process handles one file. The returned error is non-nil only on cancellation.
func (i *Ingester) process(ctx context.Context, f scanner.ScanResult, logger *slog.Logger) (fileResult, error) {
	stats := FileStats{Path: f.Path}
	if f.Metadata != nil {
		stats.Label = f.Metadata.Label()
	}
	log := logger.With("file", filepath.Base(f.Path), "account", stats.Label)

	tbl, err := tabular.Read(f.Path)
	if err != nil {
		log.Error("failed to read export", "error", err)
		stats.Status, stats.Err = StatusFailed, err
		return fileResult{stats: stats}, nil
	}

	p, err := i.Registry.FindParser(tbl.Header)
	if err != nil {
		log.Warn("unrecognized export format, skipping", "error", err)
		stats.Status, stats.Err = StatusUnrecognized, err
		return fileResult{stats: stats}, nil
	}
	stats.Parser = p.Name()

	res, err := p.Parse(ctx, tbl, f.Metadata)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fileResult{}, err
		}
		log.Error("failed to parse export", "parser", p.Name(), "error", err)
		stats.Status, stats.Err = StatusFailed, err
		return fileResult{stats: stats}, nil
	}

	stats.Status = StatusProcessed
	stats.Trades = len(res.Trades)
	stats.Rejected = res.RejectedCount()
	for _, re := range res.RowErrors {
		log.Debug("row rejected", "parser", p.Name(), "line", re.Line, "error", re.Err)
	}
	if stats.Rejected > 0 {
		log.Warn("rows rejected", "parser", p.Name(), "rejected", stats.Rejected, "trades", stats.Trades)
	}
	log.Info("parsed export", "parser", p.Name(), "trades", stats.Trades)
	return fileResult{stats: stats, trades: res.Trades}, nil
}
