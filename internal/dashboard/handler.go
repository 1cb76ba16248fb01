// Package dashboard exposes the read-only experiment browsing API: JSON
// reshapes of the MLflow tracking server's schema, one upstream round trip
// per call.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/neuralripper/neuralripper/internal/mlflow"
)

// Tracker is the slice of the tracking client the dashboard needs.
type Tracker interface {
	SearchExperiments(ctx context.Context) ([]mlflow.Experiment, error)
	SearchRuns(ctx context.Context, experimentID string) ([]mlflow.Run, error)
	GetRun(ctx context.Context, runID string) (*mlflow.Run, error)
	GetMetricHistory(ctx context.Context, runID, metricKey string) ([]mlflow.Metric, error)
}

// Handler serves the dashboard query routes.
type Handler struct {
	tracker Tracker
}

// NewHandler creates a dashboard handler over a tracking client.
func NewHandler(tracker Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Register mounts the dashboard routes on a router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/experiments", h.listExperiments).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/experiments/{eid}/runs", h.listRuns).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/runs/{rid}", h.getRun).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/runs/{rid}/metrics", h.getMetricSummary).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/runs/{rid}/metrics/{name}", h.getMetricHistory).Methods(http.MethodGet, http.MethodOptions)
}

func (h *Handler) listExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := h.tracker.SearchExperiments(r.Context())
	if err != nil {
		writeFetchError(w, err)
		return
	}

	out := make([]ExperimentResponse, 0, len(experiments))
	for _, e := range experiments {
		out = append(out, reshapeExperiment(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	eid := mux.Vars(r)["eid"]

	runs, err := h.tracker.SearchRuns(r.Context(), eid)
	if err != nil {
		writeFetchError(w, err)
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, reshapeRun(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	rid := mux.Vars(r)["rid"]

	run, err := h.tracker.GetRun(r.Context(), rid)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reshapeRun(*run))
}

func (h *Handler) getMetricSummary(w http.ResponseWriter, r *http.Request) {
	rid := mux.Vars(r)["rid"]

	run, err := h.tracker.GetRun(r.Context(), rid)
	if err != nil {
		writeFetchError(w, err)
		return
	}

	summary := MetricSummary{
		MetricNames: make([]string, 0, len(run.Data.Metrics)),
		FinalValues: make(map[string]float64, len(run.Data.Metrics)),
	}
	for _, m := range run.Data.Metrics {
		summary.MetricNames = append(summary.MetricNames, m.Key)
		summary.FinalValues[m.Key] = m.Value
	}
	sort.Strings(summary.MetricNames)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) getMetricHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rid, name := vars["rid"], vars["name"]

	history, err := h.tracker.GetMetricHistory(r.Context(), rid, name)
	if err != nil {
		writeFetchError(w, err)
		return
	}

	out := make([]MetricPoint, 0, len(history))
	for _, m := range history {
		out = append(out, MetricPoint{
			Key:       m.Key,
			Value:     m.Value,
			Timestamp: int64(m.Timestamp),
			Step:      m.Step,
			RunID:     rid,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeFetchError reports an upstream failure, preserving the tracking
// server's status code when one was received.
func writeFetchError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *mlflow.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	slog.Warn("dashboard fetch failed", "status", status, "error", err)
	writeJSON(w, status, map[string]any{
		"error":  "fetch failed",
		"detail": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
