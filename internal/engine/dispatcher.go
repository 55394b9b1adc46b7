// Package engine dispatches campaign steps to the remote worker
// services (prospecting, analysis, outreach, sender) over HTTP and
// normalizes their heterogeneous responses. The dispatcher knows
// nothing about budgets or persistence.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/campaign"
	"leadpilot/internal/retry"
)

// ErrPollTimeout marks an async job that never reached a terminal
// status within the wall-time bound. Distinct from a failed job.
var ErrPollTimeout = errors.New("async job polling timed out")

const maxErrorBody = 1024

// Default per-call timeouts by engine kind. Analysis and send jobs
// chew on whole lead lists and routinely run long.
var defaultTimeouts = map[campaign.EngineKind]time.Duration{
	campaign.EngineProspecting: 5 * time.Minute,
	campaign.EngineAnalysis:    10 * time.Minute,
	campaign.EngineOutreach:    5 * time.Minute,
	campaign.EngineSender:      10 * time.Minute,
}

// Async polling cadence and wall bounds by engine kind.
var pollIntervals = map[campaign.EngineKind]time.Duration{
	campaign.EngineProspecting: 5 * time.Second,
	campaign.EngineAnalysis:    10 * time.Second,
	campaign.EngineOutreach:    10 * time.Second,
	campaign.EngineSender:      10 * time.Second,
}

var pollBounds = map[campaign.EngineKind]time.Duration{
	campaign.EngineProspecting: 10 * time.Minute,
	campaign.EngineAnalysis:    15 * time.Minute,
	campaign.EngineOutreach:    15 * time.Minute,
	campaign.EngineSender:      20 * time.Minute,
}

// Dispatcher issues engine calls with per-step timeouts and retries.
type Dispatcher struct {
	client *http.Client
	logger *zap.Logger

	// Overridable in tests to avoid multi-second sleeps.
	pollInterval func(campaign.EngineKind) time.Duration
	pollBound    func(campaign.EngineKind) time.Duration
}

// NewDispatcher builds a dispatcher over a shared HTTP client. The
// client carries no global timeout; each call gets a context deadline
// from its step config.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{},
		logger: logger,
		pollInterval: func(k campaign.EngineKind) time.Duration {
			return pollIntervals[k]
		},
		pollBound: func(k campaign.EngineKind) time.Duration {
			return pollBounds[k]
		},
	}
}

// Dispatch runs one step under its retry policy and returns the
// normalized result. The retry classifier sees the raw transport and
// HTTP errors produced by each attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, step campaign.StepConfig) (campaign.StepResult, error) {
	var res campaign.StepResult
	err := retry.Do(ctx, step.RetryPolicy(), step.Name, d.logger, func() error {
		r, err := d.callOnce(ctx, step)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return campaign.StepResult{}, err
	}
	return res, nil
}

func (d *Dispatcher) callOnce(ctx context.Context, step campaign.StepConfig) (campaign.StepResult, error) {
	timeout := time.Duration(step.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeouts[step.Engine]
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	payload, err := d.request(reqCtx, step)
	if err != nil {
		return campaign.StepResult{}, err
	}

	// Async engines acknowledge with a job id and expect polling.
	if status, _ := payload["status"].(string); status == "running" {
		if jobID, _ := payload["jobId"].(string); jobID != "" {
			payload, err = d.poll(ctx, step, jobID)
			if err != nil {
				return campaign.StepResult{}, err
			}
		}
	}

	return Normalize(step.Engine, payload, time.Since(started)), nil
}

func (d *Dispatcher) request(ctx context.Context, step campaign.StepConfig) (map[string]any, error) {
	method := step.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := json.Marshal(step.Params)
	if err != nil {
		return nil, fmt.Errorf("encode step params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, step.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", step.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(raw),
		}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return payload, nil
}

// poll watches endpoint/{jobId} until the job reports completed or
// failed, or the engine-specific wall bound expires.
func (d *Dispatcher) poll(ctx context.Context, step campaign.StepConfig, jobID string) (map[string]any, error) {
	interval := d.pollInterval(step.Engine)
	deadline := time.Now().Add(d.pollBound(step.Engine))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s on %s after %s",
				ErrPollTimeout, jobID, step.Engine, d.pollBound(step.Engine))
		}

		payload, err := d.pollOnce(ctx, step, jobID)
		if err != nil {
			// A single failed poll is not a verdict on the job.
			d.logger.Debug("job poll failed",
				zap.String("step", step.Name),
				zap.String("job_id", jobID),
				zap.Error(err))
			continue
		}

		switch status, _ := payload["status"].(string); status {
		case "completed":
			return payload, nil
		case "failed":
			msg, _ := payload["error"].(string)
			if msg == "" {
				msg = "job reported failure"
			}
			return nil, fmt.Errorf("job %s failed: %s", jobID, msg)
		default:
			// still running
		}
	}
}

func (d *Dispatcher) pollOnce(ctx context.Context, step campaign.StepConfig, jobID string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	url := step.Endpoint + "/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(raw),
		}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}
