package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
	"github.com/rumor-ml/commons.systems/tradesync/internal/ingest"
	"github.com/rumor-ml/commons.systems/tradesync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/tradesync/internal/streaming"
	"github.com/rumor-ml/commons.systems/tradesync/internal/writer"
)

type fakeSyncer struct {
	h       *SyncHandlers
	release chan struct{}
	summary *pipeline.Summary
	err     error

	dashboard    pipeline.DashboardStatus
	dashboardErr error
}

func (f *fakeSyncer) RunWithID(_ context.Context, id string) (*pipeline.Summary, error) {
	if f.release != nil {
		<-f.release
	}
	if f.summary == nil {
		return nil, f.err
	}
	s := *f.summary
	s.RunID = id
	f.h.FileDone(id, ingest.FileStats{Path: "미래에셋증권/국내계좌.md", Parser: "mirae", Status: ingest.StatusProcessed, Trades: 3})
	for _, d := range s.Destinations {
		f.h.DestinationDone(id, d)
	}
	f.h.Finished(&s)
	return &s, f.err
}

func (f *fakeSyncer) RefreshDashboard(context.Context) (pipeline.DashboardStatus, error) {
	return f.dashboard, f.dashboardErr
}

func completedSummary() *pipeline.Summary {
	return &pipeline.Summary{
		Dashboard: pipeline.DashboardWritten,
		Destinations: []pipeline.DestinationResult{{
			Name:       "미래에셋증권_국내계좌",
			Kind:       domain.Domestic,
			New:        2,
			Duplicates: 1,
			Append:     &writer.AppendResult{Range: "A5:I6", Count: 2},
		}},
	}
}

func newHandlers(f *fakeSyncer) (*SyncHandlers, *streaming.StreamHub, *http.ServeMux) {
	hub := streaming.NewStreamHub()
	h := NewSyncHandlers(context.Background(), f, hub, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.h = h
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync", h.StartSync)
	mux.HandleFunc("GET /api/sync/{id}", h.GetSync)
	mux.HandleFunc("GET /api/sync/{id}/events", h.StreamSync)
	mux.HandleFunc("POST /api/dashboard", h.RefreshDashboard)
	return h, hub, mux
}

func do(t *testing.T, mux http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func start(t *testing.T, mux http.Handler) startResponse {
	t.Helper()
	w := do(t, mux, http.MethodPost, "/api/sync")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp startResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func getState(t *testing.T, mux http.Handler, id string) RunState {
	t.Helper()
	w := do(t, mux, http.MethodGet, "/api/sync/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	var state RunState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	return state
}

func TestStartSync_OneRunAtATime(t *testing.T) {
	f := &fakeSyncer{release: make(chan struct{}), summary: completedSummary()}
	h, _, mux := newHandlers(f)

	first := start(t, mux)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, "/api/sync/"+first.RunID+"/events", first.Events)
	assert.Equal(t, statusRunning, getState(t, mux, first.RunID).Status)

	w := do(t, mux, http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), first.RunID)

	w = do(t, mux, http.MethodPost, "/api/dashboard")
	assert.Equal(t, http.StatusConflict, w.Code, "dashboard waits for the sync")

	close(f.release)
	h.Wait()

	state := getState(t, mux, first.RunID)
	assert.Equal(t, "completed", state.Status)
	assert.Equal(t, 2, state.Appended)
	assert.Equal(t, 1, state.Duplicates)
	assert.Equal(t, "written", state.Dashboard)
	require.NotNil(t, state.FinishedAt)

	second := start(t, mux)
	assert.NotEqual(t, first.RunID, second.RunID)
	h.Wait()
}

func TestStartSync_FatalError(t *testing.T) {
	f := &fakeSyncer{err: fmt.Errorf("%w: spreadsheet unreachable", pipeline.ErrFatal)}
	h, _, mux := newHandlers(f)

	resp := start(t, mux)
	h.Wait()

	state := getState(t, mux, resp.RunID)
	assert.Equal(t, statusError, state.Status)
	assert.Contains(t, state.Error, "spreadsheet unreachable")

	// a finished run still answers its event stream
	w := do(t, mux, http.MethodGet, resp.Events)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event: run\n")
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "spreadsheet unreachable")
}

func TestGetSync_NotFound(t *testing.T) {
	_, _, mux := newHandlers(&fakeSyncer{})
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/sync/nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/sync/nope/events").Code)
}

func TestStreamSync_Live(t *testing.T) {
	f := &fakeSyncer{release: make(chan struct{}), summary: completedSummary()}
	h, hub, mux := newHandlers(f)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp := start(t, mux)

	res, err := http.Get(srv.URL + resp.Events)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	require.Eventually(t, func() bool { return hub.IsRunning(resp.RunID) }, 2*time.Second, 10*time.Millisecond)
	close(f.release)

	var events []string
	var complete streaming.CompleteEvent
	scanner := bufio.NewScanner(res.Body)
	var current string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
			events = append(events, current)
		case strings.HasPrefix(line, "data: ") && current == "complete":
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &complete))
		}
	}
	h.Wait()

	assert.Equal(t, []string{"run", "file", "destination", "complete"}, events)
	assert.Equal(t, resp.RunID, complete.RunID)
	assert.Equal(t, "completed", complete.Status)
	assert.Equal(t, 2, complete.Appended)
	assert.Equal(t, []string{}, complete.FailedSheets)
}

func TestRefreshDashboard(t *testing.T) {
	tests := []struct {
		name     string
		status   pipeline.DashboardStatus
		err      error
		wantCode int
	}{
		{"written", pipeline.DashboardWritten, nil, http.StatusOK},
		{"dry run", pipeline.DashboardDryRun, nil, http.StatusOK},
		{"skipped", pipeline.DashboardSkipped, nil, http.StatusServiceUnavailable},
		{"failed", pipeline.DashboardFailed, errors.New("quota"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, mux := newHandlers(&fakeSyncer{dashboard: tt.status, dashboardErr: tt.err})
			w := do(t, mux, http.MethodPost, "/api/dashboard")
			assert.Equal(t, tt.wantCode, w.Code)

			var resp dashboardResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, string(tt.status), resp.Dashboard)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), resp.Error)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	HealthCheck(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "tradesync", resp.Service)
}
