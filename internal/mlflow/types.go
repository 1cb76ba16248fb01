package mlflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Millis is a millisecond Unix timestamp. The tracking server's proto-JSON
// encoding emits int64 fields as either numbers or strings depending on
// version, so both are accepted.
type Millis int64

func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	*m = Millis(v)
	return nil
}

// Tag is a key/value tag on an experiment or run.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Experiment mirrors the tracking API's experiment schema.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
	CreationTime     Millis `json:"creation_time"`
	LastUpdateTime   Millis `json:"last_update_time"`
	Tags             []Tag  `json:"tags"`
}

// RunInfo mirrors the tracking API's run info schema.
type RunInfo struct {
	RunID          string `json:"run_id"`
	RunName        string `json:"run_name"`
	ExperimentID   string `json:"experiment_id"`
	Status         string `json:"status"`
	StartTime      Millis `json:"start_time"`
	EndTime        Millis `json:"end_time"`
	ArtifactURI    string `json:"artifact_uri"`
	LifecycleStage string `json:"lifecycle_stage"`
	UserID         string `json:"user_id"`
}

// Metric is one point of a metric time series.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp Millis  `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Param is a logged run parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunData holds a run's logged metrics (final values) and params.
type RunData struct {
	Metrics []Metric `json:"metrics"`
	Params  []Param  `json:"params"`
	Tags    []Tag    `json:"tags"`
}

// Run is the tracking API's nested run object.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

type searchExperimentsResponse struct {
	Experiments   []Experiment `json:"experiments"`
	NextPageToken string       `json:"next_page_token"`
}

type searchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	RunViewType   string   `json:"run_view_type"`
	MaxResults    int      `json:"max_results"`
	OrderBy       []string `json:"order_by,omitempty"`
}

type searchRunsResponse struct {
	Runs          []Run  `json:"runs"`
	NextPageToken string `json:"next_page_token"`
}

type getRunResponse struct {
	Run Run `json:"run"`
}

type metricHistoryResponse struct {
	Metrics []Metric `json:"metrics"`
}

type apiErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Step may also arrive as a bare number; accept both.
func (m *Metric) UnmarshalJSON(data []byte) error {
	type alias struct {
		Key       string          `json:"key"`
		Value     float64         `json:"value"`
		Timestamp Millis          `json:"timestamp"`
		Step      json.RawMessage `json:"step"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Key = a.Key
	m.Value = a.Value
	m.Timestamp = a.Timestamp
	if len(a.Step) > 0 {
		raw := bytes.Trim(a.Step, `"`)
		if !bytes.Equal(raw, []byte("null")) && len(raw) > 0 {
			v, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid metric step %s: %w", a.Step, err)
			}
			m.Step = v
		}
	}
	return nil
}
