// Package webhook provides the outbound HTTP call node runner.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/nodes"
	"github.com/tallybook/automation/pkg/template"
)

const (
	defaultTimeout = 30
	maxBodyBytes   = 1 << 20
)

// Config is the webhook node configuration.
type Config struct {
	URL     string            `json:"url"     validate:"required"`
	Method  string            `json:"method"  validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
	Timeout int               `json:"timeout" validate:"gte=0,lte=300"`
	Retries RetryConfig       `json:"retries"`
}

// RetryConfig controls retries on transport errors and 5xx responses.
type RetryConfig struct {
	Attempts int `json:"attempts" validate:"gte=0,lte=10"`
	Delay    int `json:"delay"    validate:"gte=0"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Runner performs an HTTP call with templated URL, headers and body.
type Runner struct {
	client *http.Client
}

// NewRunner creates a webhook runner. A nil client uses http.DefaultClient.
func NewRunner(client *http.Client) *Runner {
	if client == nil {
		client = http.DefaultClient
	}

	return &Runner{client: client}
}

func (r *Runner) Type() string {
	return models.NodeTypeWebhook
}

func (r *Runner) Name() string {
	return "Webhook"
}

func (r *Runner) Description() string {
	return "Calls an external HTTP endpoint. URL, headers and body may reference run data with {{ }} placeholders."
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL",
				"examples":    []string{"https://hooks.example.com/invoices/{{invoice.id}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default": "POST",
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Objects are sent as JSON.",
			},
			"timeout": map[string]any{
				"type":        "integer",
				"description": "Timeout in seconds",
				"default":     defaultTimeout,
				"minimum":     0,
				"maximum":     300,
			},
			"retries": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
					"delay":    map[string]any{"type": "integer", "minimum": 0, "description": "Delay between attempts in milliseconds"},
				},
			},
		},
		"required": []string{"url"},
	}
}

// Run returns a failed result for non-2xx responses and an error when the
// endpoint could not be reached.
func (r *Runner) Run(ctx context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error) {
	var cfg Config

	err := nodes.DecodeConfig(config, &cfg)
	if err != nil {
		return models.Failed(err.Error(), nil), nil
	}

	data := nodes.TemplateData(actx, input)

	req, err := newRequest(cfg, data)
	if err != nil {
		return models.Failed(err.Error(), nil), nil
	}

	attempts := max(cfg.Retries.Attempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			err = sleep(ctx, time.Duration(cfg.Retries.Delay)*time.Millisecond)
			if err != nil {
				return models.NodeResult{}, err
			}
		}

		output, err := r.do(ctx, req, cfg.Timeout)
		if err == nil {
			output["attempts"] = attempt

			return models.Succeed(output), nil
		}

		lastErr = err

		statusErr := &StatusError{}
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			break
		}
	}

	statusErr := &StatusError{}
	if errors.As(lastErr, &statusErr) {
		return models.Failed(lastErr.Error(), map[string]any{
			"status_code": statusErr.StatusCode,
			"body":        statusErr.Body,
		}), nil
	}

	return models.NodeResult{}, fmt.Errorf("webhook request failed after %d attempts: %w", attempts, lastErr)
}

type request struct {
	method  string
	url     string
	headers map[string]string
	body    string
}

func newRequest(cfg Config, data map[string]any) (request, error) {
	req := request{
		method:  cfg.Method,
		url:     template.Render(cfg.URL, data),
		headers: make(map[string]string, len(cfg.Headers)),
	}

	if req.method == "" {
		req.method = http.MethodPost
	}

	if req.url == "" {
		return req, errors.New("webhook url rendered empty")
	}

	for key, value := range cfg.Headers {
		req.headers[key] = template.Render(value, data)
	}

	switch body := cfg.Body.(type) {
	case nil:
	case string:
		req.body = template.Render(body, data)
	case map[string]any:
		encoded, err := json.Marshal(template.RenderMap(body, data))
		if err != nil {
			return req, fmt.Errorf("failed to encode webhook body: %w", err)
		}

		req.body = string(encoded)
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return req, fmt.Errorf("failed to encode webhook body: %w", err)
		}

		req.body = string(encoded)
	}

	return req, nil
}

func (r *Runner) do(ctx context.Context, req request, timeout int) (map[string]any, error) {
	if timeout == 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var body io.Reader
	if req.body != "" {
		body = strings.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range req.headers {
		httpReq.Header.Set(key, value)
	}

	if req.body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err == nil {
		output["json"] = decoded
	}

	return output, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
