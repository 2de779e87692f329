// Package pipeline runs one synchronization: scan the input tree, parse every
// export, append the trades each ledger sheet does not have yet and, once all
// ledgers are done, rebuild the dashboard from what the spreadsheet holds.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tradesync/internal/classify"
	"github.com/rumor-ml/commons.systems/tradesync/internal/dashboard"
	"github.com/rumor-ml/commons.systems/tradesync/internal/dedup"
	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/scanner"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
	"github.com/rumor-ml/commons.systems/tradesync/internal/validate"
	"github.com/rumor-ml/commons.systems/tradesync/internal/writer"
)

// ErrFatal marks errors that abort a run before anything is written.
var ErrFatal = errors.New("fatal")

// RunRecorder persists run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *firestore.RunRecord) error
}

// Observer is told about progress while a run executes. Calls come from the
// running goroutine, one at a time.
type Observer interface {
	FileDone(runID string, file ingest.FileStats)
	DestinationDone(runID string, dest DestinationResult)
	Finished(s *Summary)
}

// Runner wires the collaborators of a run. Scanner, Ingester and Store are
// required; Classifier, Recorder and Observer are optional.
type Runner struct {
	Scanner    *scanner.Scanner
	Ingester   *ingest.Ingester
	Store      sheets.Store
	Classifier *classify.Classifier
	Recorder   RunRecorder
	Observer   Observer
	Logger     *slog.Logger
	DryRun     bool
	Now        func() time.Time
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// check verifies the store is usable before anything else happens.
func (r *Runner) check(ctx context.Context) error {
	if r.Store == nil {
		return fmt.Errorf("%w: no spreadsheet store configured", ErrFatal)
	}
	if _, err := r.Store.ListSheets(ctx); err != nil {
		return fmt.Errorf("%w: spreadsheet unreachable: %v", ErrFatal, err)
	}
	return nil
}

// Run performs one synchronization. The returned Summary is non-nil whenever
// the run got past the fatal checks, even if err is non-nil. Per-destination
// failures are reported in the Summary, not as err.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	return r.RunWithID(ctx, uuid.NewString())
}

// RunWithID is Run with a caller-chosen run ID.
func (r *Runner) RunWithID(ctx context.Context, runID string) (*Summary, error) {
	s := &Summary{RunID: runID, DryRun: r.DryRun, StartedAt: r.now()}
	log := r.logger().With("run_id", s.RunID)
	log.Info("run started", "dry_run", r.DryRun)

	if err := r.check(ctx); err != nil {
		return nil, err
	}
	if r.Scanner == nil || r.Ingester == nil {
		return nil, fmt.Errorf("%w: scanner and ingester are required", ErrFatal)
	}

	files, err := r.Scanner.Scan()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFatal, err)
	}
	log.Info("scanned input", "files", len(files))

	batch, err := r.Ingester.Run(ctx, files)
	if err != nil {
		s.Dashboard = DashboardCancelled
		return r.finish(ctx, s, log), err
	}
	s.Files = batch.Files
	if r.Observer != nil {
		for _, f := range s.Files {
			r.Observer.FileDone(s.RunID, f)
		}
	}

	for _, dest := range batch.Destinations {
		if ctx.Err() != nil {
			break
		}
		res := r.syncDestination(ctx, dest, log)
		s.Destinations = append(s.Destinations, res)
		if r.Observer != nil {
			r.Observer.DestinationDone(s.RunID, res)
		}
	}

	// every destination is finished before the dashboard reads them back
	if err := ctx.Err(); err != nil {
		log.Warn("run cancelled, dashboard not refreshed")
		s.Dashboard = DashboardCancelled
		return r.finish(ctx, s, log), err
	}

	s.Dashboard, s.DashboardErr = r.RefreshDashboard(ctx)
	return r.finish(ctx, s, log), nil
}

// syncDestination validates, ensures, filters and appends one destination.
// Nothing here aborts the run.
func (r *Runner) syncDestination(ctx context.Context, dest *ingest.Destination, log *slog.Logger) DestinationResult {
	res := DestinationResult{Name: dest.Name, Kind: dest.Kind, Candidates: len(dest.Trades)}
	log = log.With("sheet", dest.Name)

	trades, vr := validate.Trades(dest.Trades)
	res.Invalid = len(vr.Errors)
	res.Warnings = len(vr.Warnings)
	for _, e := range vr.Errors {
		log.Warn("invalid trade dropped", "trade", e.ID, "error", e.Message)
	}
	for _, w := range vr.Warnings {
		log.Warn("trade check", "trade", w.ID, "field", w.Field, "value", w.Value, "message", w.Message)
	}

	w := writer.New(r.Store, log, r.DryRun)
	created, err := w.EnsureDestination(ctx, dest.Name, dest.Kind)
	res.Created = created
	if err != nil {
		return res.fail(log, err)
	}

	fresh, dups, err := dedup.New(r.Store, log).Filter(ctx, dest.Name, dest.Kind, trades)
	if err != nil {
		return res.fail(log, err)
	}
	res.Duplicates = dups

	appended, err := w.Append(ctx, dest.Name, dest.Kind, fresh)
	if appended != nil {
		res.Append = appended
		res.New = appended.Count
	}
	if err != nil {
		return res.fail(log, err)
	}
	log.Info("destination synced",
		"new", res.New,
		"duplicates", res.Duplicates,
		"invalid", res.Invalid,
		"created", res.Created,
	)
	return res
}

// RefreshDashboard rebuilds the dashboard from the persisted ledgers. It is
// skipped when too few ledgers could be read; DashboardFailed comes with the
// error that caused it.
func (r *Runner) RefreshDashboard(ctx context.Context) (DashboardStatus, error) {
	log := r.logger()

	snap, err := dashboard.NewLoader(r.Store, log).Load(ctx)
	if err != nil {
		log.Error("failed to load ledgers for dashboard", "error", err)
		return DashboardFailed, err
	}
	if !snap.Majority() {
		log.Warn("dashboard skipped: too many ledgers unreadable",
			"readable", len(snap.Readable),
			"failed", len(snap.Failed),
		)
		return DashboardSkipped, nil
	}

	var categories map[string]domain.Category
	if r.Classifier != nil {
		categories = r.Classifier.Classify(ctx, classify.Instruments(snap.Trades))
	}
	report := dashboard.Compute(snap.Trades, categories)

	if err := dashboard.NewWriter(r.Store, log, r.DryRun).Write(ctx, report); err != nil {
		log.Error("failed to write dashboard", "error", err)
		return DashboardFailed, err
	}
	if r.DryRun {
		return DashboardDryRun, nil
	}
	return DashboardWritten, nil
}

func (r *Runner) finish(ctx context.Context, s *Summary, log *slog.Logger) *Summary {
	s.FinishedAt = r.now()
	log.Info("run finished",
		"status", string(s.Status()),
		"appended", s.Appended(),
		"duplicates", s.Duplicates(),
		"failed_sheets", len(s.FailedDestinations()),
		"dashboard", string(s.Dashboard),
		"elapsed", s.FinishedAt.Sub(s.StartedAt).String(),
	)

	if r.Recorder != nil {
		// recording must survive a cancelled run
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.Recorder.RecordRun(rctx, s.Record()); err != nil {
			log.Warn("failed to record run", "error", err)
		}
	}
	if r.Observer != nil {
		r.Observer.Finished(s)
	}
	return s
}
