package pipeline

import (
	"log/slog"
	"time"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/output"
	"github.com/rumor-ml/commons.systems/tradesync/internal/sheets"
	"github.com/rumor-ml/commons.systems/tradesync/internal/writer"
)

// DashboardStatus is what happened to the dashboard in a run.
type DashboardStatus string

const (
	DashboardWritten   DashboardStatus = "written"
	DashboardSkipped   DashboardStatus = "skipped"
	DashboardFailed    DashboardStatus = "failed"
	DashboardDryRun    DashboardStatus = "dry-run"
	DashboardCancelled DashboardStatus = "cancelled"
)

// DestinationResult is the outcome for one ledger sheet. Err is set when the
// destination failed; rows appended before the failure stay appended.
type DestinationResult struct {
	Name       string
	Kind       domain.Kind
	Created    bool
	Candidates int
	New        int
	Duplicates int
	Invalid    int
	Warnings   int
	Append     *writer.AppendResult
	Err        error
}

func (d DestinationResult) fail(log *slog.Logger, err error) DestinationResult {
	d.Err = err
	log.Error("destination failed", "new", d.New, "error", err)
	return d
}

// Summary reports a whole run.
type Summary struct {
	RunID        string
	DryRun       bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Files        []ingest.FileStats
	Destinations []DestinationResult
	Dashboard    DashboardStatus
	DashboardErr error
}

// FileCount returns the number of files with the given status.
func (s *Summary) FileCount(status ingest.FileStatus) int {
	n := 0
	for _, f := range s.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Appended is the number of trades written (or planned, in dry-run mode).
func (s *Summary) Appended() int {
	n := 0
	for _, d := range s.Destinations {
		n += d.New
	}
	return n
}

// Duplicates is the number of trades skipped as already persisted.
func (s *Summary) Duplicates() int {
	n := 0
	for _, d := range s.Destinations {
		n += d.Duplicates
	}
	return n
}

// Invalid is the number of trades dropped by validation.
func (s *Summary) Invalid() int {
	n := 0
	for _, d := range s.Destinations {
		n += d.Invalid
	}
	return n
}

// FailedDestinations lists the names of failed destinations.
func (s *Summary) FailedDestinations() []string {
	var out []string
	for _, d := range s.Destinations {
		if d.Err != nil {
			out = append(out, d.Name)
		}
	}
	return out
}

// Status condenses the run into one run-history status.
func (s *Summary) Status() firestore.RunStatus {
	switch {
	case s.Dashboard == DashboardCancelled:
		return firestore.RunStatusCancelled
	case s.DryRun:
		return firestore.RunStatusDryRun
	case len(s.FailedDestinations()) > 0 || s.Dashboard == DashboardFailed || s.Dashboard == DashboardSkipped:
		return firestore.RunStatusPartial
	}
	return firestore.RunStatusCompleted
}

// Record converts the summary into a run-history record.
func (s *Summary) Record() *firestore.RunRecord {
	finished := s.FinishedAt
	rec := &firestore.RunRecord{
		ID:              s.RunID,
		Status:          s.Status(),
		FileCount:       len(s.Files),
		Appended:        s.Appended(),
		Duplicates:      s.Duplicates(),
		FailedSheets:    s.FailedDestinations(),
		DashboardStatus: string(s.Dashboard),
		Stats: map[string]interface{}{
			"processed":    s.FileCount(ingest.StatusProcessed),
			"unrecognized": s.FileCount(ingest.StatusUnrecognized),
			"failedFiles":  s.FileCount(ingest.StatusFailed),
			"invalid":      s.Invalid(),
			"destinations": len(s.Destinations),
		},
		CreatedAt:   s.StartedAt,
		CompletedAt: &finished,
	}
	if s.DashboardErr != nil {
		rec.Error = s.DashboardErr.Error()
	}
	return rec
}

// Plan converts the summary into the JSON plan document.
func (s *Summary) Plan() *output.Plan {
	p := &output.Plan{
		RunID:        s.RunID,
		DryRun:       s.DryRun,
		GeneratedAt:  s.FinishedAt,
		Destinations: []output.Destination{},
		Files:        []output.File{},
		Dashboard:    string(s.Dashboard),
	}
	for _, d := range s.Destinations {
		pd := output.Destination{
			Name:       d.Name,
			Kind:       d.Kind.String(),
			Created:    d.Created,
			New:        d.New,
			Duplicates: d.Duplicates,
			Invalid:    d.Invalid,
		}
		if d.Append != nil && d.Append.Count > 0 {
			pd.Range = d.Append.Range
			pd.StartRow = d.Append.StartRow
			pd.EndRow = d.Append.EndRow
			pd.FirstColumn = sheets.ColumnLetter(1)
			pd.LastColumn = sheets.ColumnLetter(d.Kind.Columns())
		}
		if d.Err != nil {
			pd.Error = d.Err.Error()
		}
		p.Destinations = append(p.Destinations, pd)
	}
	for _, f := range s.Files {
		p.Files = append(p.Files, output.File{
			Path:     f.Path,
			Parser:   f.Parser,
			Status:   string(f.Status),
			Trades:   f.Trades,
			Rejected: f.Rejected,
		})
	}
	return p
}
