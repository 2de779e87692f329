package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/streaming"
)

// HeartbeatInterval is how often an idle event stream sends a heartbeat.
var HeartbeatInterval = 30 * time.Second

// Syncer runs synchronizations. *pipeline.Runner implements it.
type Syncer interface {
	RunWithID(ctx context.Context, runID string) (*pipeline.Summary, error)
	RefreshDashboard(ctx context.Context) (pipeline.DashboardStatus, error)
}

// RunState is what the API reports about a run started by this process.
type RunState struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Appended   int        `json:"appended"`
	Duplicates int        `json:"duplicates"`
	Dashboard  string     `json:"dashboard,omitempty"`
	Error      string     `json:"error,omitempty"`
}

const (
	statusRunning = "running"
	statusError   = "error"
)

// SyncHandlers starts runs in the background, one at a time, and streams
// their progress.
type SyncHandlers struct {
	syncer Syncer
	hub    *streaming.StreamHub
	logger *slog.Logger
	// base outlives requests; runs are cancelled only when it is.
	base context.Context

	mu      sync.Mutex
	current string
	runs    map[string]*RunState
	wg      sync.WaitGroup
}

// NewSyncHandlers creates sync handlers. Runs are bound to base.
func NewSyncHandlers(base context.Context, syncer Syncer, hub *streaming.StreamHub, logger *slog.Logger) *SyncHandlers {
	return &SyncHandlers{
		syncer: syncer,
		hub:    hub,
		logger: logger,
		base:   base,
		runs:   make(map[string]*RunState),
	}
}

// Wait blocks until background runs have finished.
func (h *SyncHandlers) Wait() {
	h.wg.Wait()
}

type startResponse struct {
	RunID  string `json:"runId"`
	Events string `json:"events"`
}

// StartSync handles POST /api/sync
func (h *SyncHandlers) StartSync(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.current != "" {
		current := h.current
		h.mu.Unlock()
		writeJSON(w, http.StatusConflict, startResponse{RunID: current, Events: eventsPath(current)})
		return
	}
	id := uuid.NewString()
	h.current = id
	h.runs[id] = &RunState{ID: id, Status: statusRunning, StartedAt: time.Now()}
	h.wg.Add(1)
	h.mu.Unlock()

	go h.run(id)

	h.logger.Info("run started via api", "run_id", id)
	writeJSON(w, http.StatusAccepted, startResponse{RunID: id, Events: eventsPath(id)})
}

func eventsPath(id string) string {
	return fmt.Sprintf("/api/sync/%s/events", id)
}

func (h *SyncHandlers) run(id string) {
	defer h.wg.Done()
	summary, err := h.syncer.RunWithID(h.base, id)

	h.mu.Lock()
	state := h.runs[id]
	if summary == nil {
		// fatal before Finished: nothing else will end the stream
		now := time.Now()
		state.FinishedAt = &now
		state.Status = statusError
	}
	if err != nil {
		state.Error = err.Error()
	}
	h.current = ""
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("api run failed", "run_id", id, "error", err)
	}
	if summary == nil {
		msg := "run produced no summary"
		if err != nil {
			msg = err.Error()
		}
		h.hub.Broadcast(id, streaming.NewErrorEvent(streaming.ErrorEvent{Message: msg, RunID: id}))
	}
}

func (h *SyncHandlers) state(id string) (RunState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.runs[id]
	if !ok {
		return RunState{}, false
	}
	return *s, true
}

// GetSync handles GET /api/sync/{id}
func (h *SyncHandlers) GetSync(w http.ResponseWriter, r *http.Request) {
	state, ok := h.state(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// StreamSync handles GET /api/sync/{id}/events (SSE endpoint)
func (h *SyncHandlers) StreamSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// register before reading state so no event falls in between
	client := h.hub.Register(context.WithoutCancel(r.Context()), id)
	defer h.hub.Unregister(id, client)

	state, ok := h.state(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	initial := streaming.NewRunEvent(streaming.RunEvent{ID: state.ID, Status: state.Status, StartedAt: state.StartedAt})
	if err := writeEvent(w, initial); err != nil {
		return
	}
	if state.Status != statusRunning {
		final := streaming.NewCompleteEvent(&streaming.CompleteEvent{
			RunID:        state.ID,
			Status:       state.Status,
			Appended:     state.Appended,
			Duplicates:   state.Duplicates,
			FailedSheets: []string{},
			Dashboard:    state.Dashboard,
		})
		if state.Status == statusError {
			final = streaming.NewErrorEvent(streaming.ErrorEvent{Message: state.Error, RunID: state.ID})
		}
		_ = writeEvent(w, final)
		flusher.Flush()
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				h.logger.Debug("stream write failed", "run_id", id, "error", err)
				return
			}
			flusher.Flush()
			if event.Type == streaming.EventTypeComplete || event.Type == streaming.EventTypeError {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: {\"status\":\"alive\"}\n\n", streaming.EventTypeHeartbeat); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event streaming.SSEEvent) error {
	data, err := json.Marshal(event.Data())
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

type dashboardResponse struct {
	Dashboard string `json:"dashboard"`
	Error     string `json:"error,omitempty"`
}

// RefreshDashboard handles POST /api/dashboard. It refuses to run while a
// sync is writing ledgers.
func (h *SyncHandlers) RefreshDashboard(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	busy := h.current != ""
	h.mu.Unlock()
	if busy {
		writeError(w, http.StatusConflict, "a sync is in progress")
		return
	}

	status, err := h.syncer.RefreshDashboard(r.Context())
	resp := dashboardResponse{Dashboard: string(status)}
	code := http.StatusOK
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		resp.Error = err.Error()
		code = http.StatusBadGateway
	case status == pipeline.DashboardSkipped:
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// FileDone, DestinationDone and Finished make SyncHandlers the runner's
// pipeline.Observer.

func (h *SyncHandlers) FileDone(runID string, f ingest.FileStats) {
	e := streaming.FileEvent{
		Path:     f.Path,
		Parser:   f.Parser,
		Status:   string(f.Status),
		Trades:   f.Trades,
		Rejected: f.Rejected,
	}
	if f.Err != nil {
		e.Error = f.Err.Error()
	}
	h.hub.Broadcast(runID, streaming.NewFileEvent(e))
}

func (h *SyncHandlers) DestinationDone(runID string, d pipeline.DestinationResult) {
	e := streaming.DestinationEvent{
		Name:       d.Name,
		Kind:       d.Kind.String(),
		Created:    d.Created,
		New:        d.New,
		Duplicates: d.Duplicates,
		Invalid:    d.Invalid,
	}
	if d.Append != nil && d.Append.Count > 0 {
		e.Range = d.Append.Range
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	h.hub.Broadcast(runID, streaming.NewDestinationEvent(e))
}

// Finished records the outcome before announcing it, so a client that
// connects afterwards finds the final state.
func (h *SyncHandlers) Finished(s *pipeline.Summary) {
	failed := s.FailedDestinations()
	if failed == nil {
		failed = []string{}
	}

	h.mu.Lock()
	if state, ok := h.runs[s.RunID]; ok {
		finished := s.FinishedAt
		state.FinishedAt = &finished
		state.Status = string(s.Status())
		state.Appended = s.Appended()
		state.Duplicates = s.Duplicates()
		state.Dashboard = string(s.Dashboard)
	}
	h.mu.Unlock()

	h.hub.Broadcast(s.RunID, streaming.NewCompleteEvent(&streaming.CompleteEvent{
		RunID:        s.RunID,
		Status:       string(s.Status()),
		Appended:     s.Appended(),
		Duplicates:   s.Duplicates(),
		FailedSheets: failed,
		Dashboard:    string(s.Dashboard),
	}))
}
