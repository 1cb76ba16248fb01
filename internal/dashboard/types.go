package dashboard

import (
	"time"

	"github.com/neuralripper/neuralripper/internal/mlflow"
)

// ExperimentResponse is the dashboard's reshaped experiment: tags flattened
// to a map, millisecond timestamps rendered as RFC 3339 UTC.
type ExperimentResponse struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	ArtifactLocation string            `json:"artifact_location"`
	LifecycleStage   string            `json:"lifecycle_stage"`
	Tags             map[string]string `json:"tags"`
	CreationTime     string            `json:"creation_time"`
	LastUpdateTime   string            `json:"last_update_time"`
}

// RunInfoResponse is the run metadata block of a run response.
type RunInfoResponse struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name"`
	ExperimentID   string `json:"experiment_id"`
	Status         string `json:"status"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
	UserID         string `json:"user_id"`
}

// RunDataResponse holds a run's params and final metric values as flat maps.
type RunDataResponse struct {
	Metrics map[string]float64 `json:"metrics"`
	Params  map[string]string  `json:"params"`
}

// RunResponse is the dashboard's nested run shape.
type RunResponse struct {
	Info RunInfoResponse `json:"info"`
	Data RunDataResponse `json:"data"`
}

// MetricPoint is one time-series point of a named metric.
type MetricPoint struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
	RunID     string  `json:"run_id"`
}

// MetricSummary lists a run's metric names with their final values.
type MetricSummary struct {
	MetricNames []string           `json:"metric_names"`
	FinalValues map[string]float64 `json:"final_values"`
}

func reshapeExperiment(e mlflow.Experiment) ExperimentResponse {
	tags := make(map[string]string, len(e.Tags))
	for _, t := range e.Tags {
		tags[t.Key] = t.Value
	}
	return ExperimentResponse{
		ID:               e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   e.LifecycleStage,
		Tags:             tags,
		CreationTime:     formatMillis(int64(e.CreationTime)),
		LastUpdateTime:   formatMillis(int64(e.LastUpdateTime)),
	}
}

func reshapeRun(r mlflow.Run) RunResponse {
	metrics := make(map[string]float64, len(r.Data.Metrics))
	for _, m := range r.Data.Metrics {
		metrics[m.Key] = m.Value
	}
	params := make(map[string]string, len(r.Data.Params))
	for _, p := range r.Data.Params {
		params[p.Key] = p.Value
	}
	return RunResponse{
		Info: RunInfoResponse{
			RunID:          r.Info.RunID,
			RunName:        r.Info.RunName,
			ExperimentID:   r.Info.ExperimentID,
			Status:         r.Info.Status,
			StartTime:      int64(r.Info.StartTime),
			EndTime:        int64(r.Info.EndTime),
			ArtifactURI:    r.Info.ArtifactURI,
			LifecycleStage: r.Info.LifecycleStage,
			UserID:         r.Info.UserID,
		},
		Data: RunDataResponse{Metrics: metrics, Params: params},
	}
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
