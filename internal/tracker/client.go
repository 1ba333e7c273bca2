package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxJobIDLength = 128

// Backend is the analysis service the tracker polls.
type Backend interface {
	GetProgress(ctx context.Context, jobID string) (*ProgressReport, error)
	GetResult(ctx context.Context, jobID string) (*AnalysisResult, error)
}

// ClientConfig holds analysis backend connection settings
type ClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	UserAgent      string
}

// Client is an HTTP implementation of Backend
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a backend client for the given base URL
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http or https: %q", cfg.BaseURL)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// ValidateJobID checks that a job id can be used as a single URL path segment.
func ValidateJobID(jobID string) error {
	switch {
	case strings.TrimSpace(jobID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidJobID)
	case len(jobID) > maxJobIDLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidJobID, maxJobIDLength)
	case jobID == "." || jobID == "..", strings.ContainsAny(jobID, "/?#"):
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidJobID, jobID)
	}
	return nil
}

// GetProgress fetches the current analysis progress for a job
func (c *Client) GetProgress(ctx context.Context, jobID string) (*ProgressReport, error) {
	var report ProgressReport
	if err := c.getJSON(ctx, "get progress", "progress", jobID, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetResult fetches the detection results of a completed job
func (c *Client) GetResult(ctx context.Context, jobID string) (*AnalysisResult, error) {
	var result AnalysisResult
	if err := c.getJSON(ctx, "get result", "result", jobID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) getJSON(ctx context.Context, op, resource, jobID string, dest any) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}

	endpoint := c.baseURL.JoinPath(resource, jobID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("Backend request finished",
		slog.String("op", op),
		slog.String("job_id", jobID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(detail),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}
