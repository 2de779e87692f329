package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/tradesync/internal/firestore"
)

type mockHistory struct {
	runs      []*firestore.RunRecord
	err       error
	lastLimit int
}

func (m *mockHistory) ListRuns(_ context.Context, limit int) ([]*firestore.RunRecord, error) {
	m.lastLimit = limit
	return m.runs, m.err
}

func (m *mockHistory) GetRun(_ context.Context, id string) (*firestore.RunRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, status.Error(codes.NotFound, "no such document")
}

func runsMux(h *mockHistory) *http.ServeMux {
	handler := NewRunsHandler(h, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs", handler.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", handler.GetRun)
	return mux
}

func TestListRuns(t *testing.T) {
	h := &mockHistory{runs: []*firestore.RunRecord{
		{ID: "r2", Status: firestore.RunStatusPartial, Appended: 1, CreatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
		{ID: "r1", Status: firestore.RunStatusCompleted, Appended: 4, CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}}
	mux := runsMux(h)

	w := do(t, mux, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, h.lastLimit)

	var runs []firestore.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	do(t, mux, http.MethodGet, "/api/runs?limit=5")
	assert.Equal(t, 5, h.lastLimit)
}

func TestListRuns_Errors(t *testing.T) {
	for _, q := range []string{"0", "-1", "abc", "101"} {
		w := do(t, runsMux(&mockHistory{}), http.MethodGet, "/api/runs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", q)
	}

	w := do(t, runsMux(&mockHistory{err: errors.New("unavailable")}), http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "unavailable", "backend errors stay in the log")
}

func TestListRuns_EmptyIsArray(t *testing.T) {
	w := do(t, runsMux(&mockHistory{}), http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestGetRun(t *testing.T) {
	h := &mockHistory{runs: []*firestore.RunRecord{{ID: "r1", Status: firestore.RunStatusCompleted}}}

	w := do(t, runsMux(h), http.MethodGet, "/api/runs/r1")
	require.Equal(t, http.StatusOK, w.Code)
	var run firestore.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, firestore.RunStatusCompleted, run.Status)

	assert.Equal(t, http.StatusNotFound, do(t, runsMux(h), http.MethodGet, "/api/runs/nope").Code)

	h.err = errors.New("deadline exceeded")
	assert.Equal(t, http.StatusInternalServerError, do(t, runsMux(h), http.MethodGet, "/api/runs/r1").Code)
}
