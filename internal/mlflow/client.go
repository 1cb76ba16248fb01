// Package mlflow is a read-only client for the MLflow tracking server's REST
// API. Every call is a live round trip; nothing is cached locally.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	apiPrefix = "/api/2.0/mlflow"

	// maxResults bounds search responses; the dashboard serves tens of
	// experiments, not thousands, so pagination is not followed.
	maxResults = 1000
)

// APIError is a non-success response from the tracking server. The upstream
// status code is preserved for the dashboard to propagate.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one MLflow tracking server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a tracking client for the given base URL
// (e.g. http://localhost:5000).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithHTTP creates a Client with an existing http.Client (for testing).
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// SearchExperiments lists all active experiments, sorted by experiment id.
func (c *Client) SearchExperiments(ctx context.Context) ([]Experiment, error) {
	params := url.Values{}
	params.Set("max_results", fmt.Sprint(maxResults))

	var resp searchExperimentsResponse
	if err := c.get(ctx, "/experiments/search", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to search experiments: %w", err)
	}

	// Sort client-side so ordering does not depend on the server's
	// order_by dialect.
	sort.Slice(resp.Experiments, func(i, j int) bool {
		return resp.Experiments[i].ExperimentID < resp.Experiments[j].ExperimentID
	})
	return resp.Experiments, nil
}

// SearchRuns lists active runs for an experiment, most recently finished
// first.
func (c *Client) SearchRuns(ctx context.Context, experimentID string) ([]Run, error) {
	body := searchRunsRequest{
		ExperimentIDs: []string{experimentID},
		RunViewType:   "ACTIVE_ONLY",
		MaxResults:    maxResults,
		OrderBy:       []string{"attributes.end_time DESC"},
	}

	var resp searchRunsResponse
	if err := c.post(ctx, "/runs/search", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to search runs for experiment %s: %w", experimentID, err)
	}

	sort.Slice(resp.Runs, func(i, j int) bool {
		return resp.Runs[i].Info.EndTime > resp.Runs[j].Info.EndTime
	})
	return resp.Runs, nil
}

// GetRun fetches one run with its params and final metric values.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	params := url.Values{}
	params.Set("run_id", runID)

	var resp getRunResponse
	if err := c.get(ctx, "/runs/get", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return &resp.Run, nil
}

// GetMetricHistory fetches the full time series for one metric of a run.
func (c *Client) GetMetricHistory(ctx context.Context, runID, metricKey string) ([]Metric, error) {
	params := url.Values{}
	params.Set("run_id", runID)
	params.Set("metric_key", metricKey)

	var resp metricHistoryResponse
	if err := c.get(ctx, "/metrics/get-history", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get history for metric %s of run %s: %w", metricKey, runID, err)
	}
	return resp.Metrics, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + apiPrefix + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+apiPrefix+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracking server unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read tracking response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode tracking response: %w", err)
	}
	return nil
}
