package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
)

// Snapshot is the trade set read back from every ledger sheet.
type Snapshot struct {
	Trades []domain.Trade
	// Readable are the ledger sheets that were read in full.
	Readable []string
	// Failed are sheets that could not be read. They may or may not be ledgers.
	Failed []string
	// Ignored are sheets whose header matches neither ledger shape.
	Ignored []string
}

// Majority reports whether enough ledgers were read for the dashboard to be
// trusted: readable sheets must be a strict majority of readable plus failed.
// With no ledgers at all there is nothing to misreport and Majority is true.
func (s *Snapshot) Majority() bool {
	total := len(s.Readable) + len(s.Failed)
	if total == 0 {
		return true
	}
	return len(s.Readable)*2 > total
}

// Loader reads all ledger sheets back into trades.
type Loader struct {
	Store  sheets.Store
	Logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger falls back to slog.Default.
func NewLoader(store sheets.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Store: store, Logger: logger}
}

// Load lists every sheet, keeps those whose first row is a ledger header and
// reconstructs their rows. The dashboard sheet itself never matches a ledger
// header and is ignored like any other unrelated tab. A failure to read one
// sheet is recorded in the snapshot; only a failure to list sheets is returned.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	names, err := l.Store.ListSheets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}

	snap := &Snapshot{}
	width := len(domain.ForeignHeader)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if name == SheetName {
			snap.Ignored = append(snap.Ignored, name)
			continue
		}
		// raw mode keeps numbers exact; dates still come back as text
		rows, err := l.Store.Read(ctx, name, sheets.A1Range(1, 1, width, 0), sheets.RenderRaw)
		if err != nil {
			l.Logger.Warn("failed to read sheet", "sheet", name, "error", err)
			snap.Failed = append(snap.Failed, name)
			continue
		}
		if len(rows) == 0 {
			snap.Ignored = append(snap.Ignored, name)
			continue
		}
		header := make([]string, len(rows[0]))
		for i, v := range rows[0] {
			header[i] = domain.CellString(v)
		}
		kind, ok := domain.MatchHeader(header)
		if !ok {
			l.Logger.Debug("ignoring non-ledger sheet", "sheet", name)
			snap.Ignored = append(snap.Ignored, name)
			continue
		}

		read := 0
		for i, row := range rows[1:] {
			if len(row) == 0 || domain.CellString(row[0]) == "" {
				continue
			}
			tr, err := domain.FromRow(kind, row, name)
			if err != nil {
				l.Logger.Warn("skipping unreadable row", "sheet", name, "row", i+2, "error", err)
				continue
			}
			snap.Trades = append(snap.Trades, tr)
			read++
		}
		snap.Readable = append(snap.Readable, name)
		l.Logger.Debug("loaded ledger", "sheet", name, "kind", kind.String(), "trades", read)
	}
	return snap, nil
}
