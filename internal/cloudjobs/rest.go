package cloudjobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/common"
)

// RESTClient is the HTTP implementation of Client. A circuit breaker guards
// the control plane: a flapping API trips the breaker instead of hammering
// it from every monitor goroutine.
type RESTClient struct {
	endpoint string
	project  string
	region   string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   arbor.ILogger
}

// NewRESTClient creates the control-plane client from config.
func NewRESTClient(cfg common.CloudJobsConfig, logger arbor.ILogger) *RESTClient {
	return &RESTClient{
		endpoint: cfg.Endpoint,
		project:  cfg.Project,
		region:   cfg.Region,
		http:     &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "cloudjobs",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Cloud API circuit breaker state change")
			},
		}),
		logger: logger,
	}
}

func (c *RESTClient) jobsURL(parts ...string) string {
	base := fmt.Sprintf("%s/v1/projects/%s/locations/%s/jobs", c.endpoint, c.project, c.region)
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

// RunJob launches a job run with env, task count and parallelism overrides.
func (c *RESTClient) RunJob(ctx context.Context, req RunRequest) (*RunResult, error) {
	body := map[string]any{
		"taskCount":   req.TaskCount,
		"parallelism": req.Parallelism,
		"env":         req.Env,
	}
	if req.Machine != nil {
		body["allocationPolicy"] = map[string]any{
			"machineType":      req.Machine.MachineType,
			"vcpu":             req.Machine.VCPU,
			"memoryMb":         req.Machine.MemoryMB,
			"preferSpot":       req.Machine.PreferSpot,
			"onDemandFallback": req.Machine.OnDemandFallback,
		}
		if req.Machine.MaxAttempts > 0 {
			body["maxAttempts"] = req.Machine.MaxAttempts
		}
	}

	var out struct {
		Name      string `json:"name"`
		Operation string `json:"operation"`
	}
	err := c.do(ctx, http.MethodPost, c.jobsURL(req.JobName)+":run", body, &out)
	if err != nil {
		return nil, err
	}
	return &RunResult{OperationName: out.Operation, ExecutionName: out.Name}, nil
}

// GetJob fetches one job run's state.
func (c *RESTClient) GetJob(ctx context.Context, executionName string) (*JobStatus, error) {
	var out struct {
		Name   string `json:"name"`
		Status struct {
			State  string `json:"state"`
			Events []struct {
				Description string `json:"description"`
			} `json:"statusEvents"`
		} `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, c.jobsURL(executionName), nil, &out); err != nil {
		return nil, err
	}
	status := &JobStatus{Name: out.Name, State: out.Status.State}
	for _, ev := range out.Status.Events {
		status.Events = append(status.Events, ev.Description)
	}
	return status, nil
}

// CancelJob requests cancellation.
func (c *RESTClient) CancelJob(ctx context.Context, executionName string) error {
	return c.do(ctx, http.MethodPost, c.jobsURL(executionName)+":cancel", map[string]any{}, nil)
}

// do runs one API call through the breaker and maps status codes onto the
// package error taxonomy.
func (c *RESTClient) do(ctx context.Context, method, rawURL string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, &PermanentError{Err: err}
			}
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, &PermanentError{Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("cloud api %s %s: %w", method, rawURL, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("cloud api read body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, fmt.Errorf("cloud api status %d: %s", resp.StatusCode, string(data))
		case resp.StatusCode >= 400:
			return nil, &PermanentError{Err: fmt.Errorf("cloud api status %d: %s", resp.StatusCode, string(data))}
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("cloud api decode: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
