// Package workerclient is the outbound HTTP and websocket client for
// talking to compute workers.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/gantry/internal/models"
)

// Client issues requests against individual workers. A single client is
// shared across the gateway; per-request credentials come from the caller.
type Client struct {
	httpClient   *http.Client
	probeTimeout time.Duration
}

// New builds a client. requestTimeout bounds submissions and history
// fetches; probeTimeout bounds health and queue probes.
func New(requestTimeout, probeTimeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		probeTimeout: probeTimeout,
	}
}

// ProbeResult describes the outcome of a health probe.
type ProbeResult struct {
	Healthy bool
	Detail  string
}

// HealthProbe checks a worker's liveness: /system_stats first, falling back
// to /queue on any non-200. Some workers do not expose system stats at all,
// others hide it behind proxies that answer 401 or 503, so a reachable
// queue endpoint is still proof of life.
func (c *Client) HealthProbe(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	status, err := c.head(ctx, worker, creds, "/system_stats")
	if err == nil && status == http.StatusOK {
		return ProbeResult{Healthy: true, Detail: "ok"}
	}
	if err == nil {
		status, err = c.head(ctx, worker, creds, "/queue")
		if err == nil && status == http.StatusOK {
			return ProbeResult{Healthy: true, Detail: "ok"}
		}
	}
	if err != nil {
		return ProbeResult{Healthy: false, Detail: probeErrorDetail(err)}
	}
	return ProbeResult{Healthy: false, Detail: fmt.Sprintf("http %d", status)}
}

func (c *Client) head(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, worker.URL+path, nil)
	if err != nil {
		return 0, err
	}
	applyAuth(req, creds)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

func probeErrorDetail(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if strings.Contains(err.Error(), "connection refused") {
		return "connection refused"
	}
	return err.Error()
}

// FetchQueue retrieves a worker's current queue state.
func (c *Client) FetchQueue(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials) (*models.WorkerQueue, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, worker.URL+"/queue", nil)
	if err != nil {
		return nil, err
	}
	applyAuth(req, creds)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue probe failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("queue probe returned http %d", resp.StatusCode)
	}

	var queue models.WorkerQueue
	if err := json.NewDecoder(resp.Body).Decode(&queue); err != nil {
		return nil, fmt.Errorf("failed to decode queue response: %w", err)
	}
	return &queue, nil
}

// SubmitResult carries a worker's response to a prompt submission.
type SubmitResult struct {
	StatusCode int
	Body       []byte
	PromptID   string
}

// SubmitPrompt posts a prompt payload to a worker. Transport failures are
// reported as 503 so callers treat an unreachable worker the same as a
// worker that refused the job.
func (c *Client) SubmitPrompt(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials, payload []byte) (*SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, worker.URL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SubmitResult{StatusCode: http.StatusServiceUnavailable, Body: nil}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SubmitResult{StatusCode: http.StatusServiceUnavailable, Body: nil}, nil
	}

	result := &SubmitResult{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode == http.StatusOK {
		var parsed struct {
			PromptID string `json:"prompt_id"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			result.PromptID = parsed.PromptID
		}
	}
	return result, nil
}

// GetHistory fetches a worker's history entry for one prompt. Returns the
// raw history object, or nil when the worker has no entry yet.
func (c *Client) GetHistory(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials, promptID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, worker.URL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	applyAuth(req, creds)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("history fetch returned http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read history response: %w", err)
	}

	// Worker history is keyed by prompt id; unwrap to the entry itself.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	entry, ok := envelope[promptID]
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// ProxyView streams a worker's /view response (an output artifact) into w,
// forwarding the raw query string. Returns the upstream status code.
func (c *Client) ProxyView(ctx context.Context, worker *models.WorkerInfo, creds *models.Credentials, rawQuery string, w http.ResponseWriter) (int, error) {
	target := worker.URL + "/view"
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	applyAuth(req, creds)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("view proxy failed: %w", err)
	}
	defer resp.Body.Close()

	for _, header := range []string{"Content-Type", "Content-Length", "Content-Disposition"} {
		if value := resp.Header.Get(header); value != "" {
			w.Header().Set(header, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	return resp.StatusCode, err
}

func applyAuth(req *http.Request, creds *models.Credentials) {
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
}
