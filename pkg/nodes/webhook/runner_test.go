package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybook/automation/pkg/automation"
)

func TestRunner_PostsRenderedBody(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invoices/inv-1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &received)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	actx := &automation.Context{
		RunID: "run-1",
		Subject: &automation.InvoiceSubject{
			Invoice: automation.Invoice{ID: "inv-1", Number: "INV-001", Total: 250},
		},
	}

	result, err := NewRunner(server.Client()).Run(context.Background(), actx, map[string]any{
		"url":     server.URL + "/invoices/{{invoice.id}}",
		"headers": map[string]any{"X-Token": "{{token}}"},
		"body":    map[string]any{"number": "{{invoice.number}}", "run": "{{run.id}}"},
	}, map[string]any{"token": "secret"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 200, result.Output["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, result.Output["json"])
	assert.Equal(t, map[string]any{"number": "INV-001", "run": "run-1"}, received)
}

func TestRunner_ClientErrorIsStructuredFailure(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer server.Close()

	result, err := NewRunner(server.Client()).Run(context.Background(), nil, map[string]any{
		"url":     server.URL,
		"method":  "PUT",
		"retries": map[string]any{"attempts": 3},
	}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "HTTP 422: bad payload", result.Error)
	assert.Equal(t, http.StatusUnprocessableEntity, result.Output["status_code"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunner_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	result, err := NewRunner(server.Client()).Run(context.Background(), nil, map[string]any{
		"url":     server.URL,
		"retries": map[string]any{"attempts": 3, "delay": 1},
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusAccepted, result.Output["status_code"])
	assert.Equal(t, 3, result.Output["attempts"])
}

func TestRunner_UnreachableEndpointReturnsError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewRunner(nil).Run(context.Background(), nil, map[string]any{"url": url}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook request failed after 1 attempts")
}

func TestRunner_InvalidConfig(t *testing.T) {
	result, err := NewRunner(nil).Run(context.Background(), nil, map[string]any{"method": "GET"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "URL")
}

func TestRunner_LowercaseMethodIsRejected(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	result, err := NewRunner(server.Client()).Run(context.Background(), nil, map[string]any{
		"url":    server.URL,
		"method": "post",
	}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Method")
	assert.Zero(t, calls.Load())
}
