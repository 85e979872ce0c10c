package exporter_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miniapm/miniapm-go/errevent"
	"github.com/miniapm/miniapm-go/exporter"
	"github.com/miniapm/miniapm-go/tracing"
	"github.com/miniapm/miniapm-go/transport"
)

type capturedRequest struct {
	path    string
	auth    string
	payload map[string]any
}

func newCollector(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()

	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		var payload map[string]any
		_ = json.Unmarshal(body, &payload)

		captured = append(captured, capturedRequest{
			path:    r.URL.Path,
			auth:    r.Header.Get("Authorization"),
			payload: payload,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, &captured
}

func testConfig(endpoint string) exporter.Config {
	return exporter.Config{
		Endpoint:    endpoint,
		APIKey:      "k",
		ServiceName: "svc",
		Environment: "test",
	}
}

func TestOTLP_Export(t *testing.T) {
	srv, captured := newCollector(t, http.StatusOK)

	span := tracing.NewSpan("GET /a", tracing.CategoryHTTPServer, tracing.WithAttributes(map[string]any{
		"http.method":      "GET",
		"http.status_code": 200,
	}))
	span.Finish()

	otlp := exporter.NewOTLP(testConfig(srv.URL), transport.New(exporter.UserAgent()))
	res := otlp.Export([]*tracing.Span{span})

	require.NotNil(t, res)
	assert.True(t, res.Success)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/ingest/v1/traces", req.path)
	assert.Equal(t, "Bearer k", req.auth)

	resourceSpans := req.payload["resourceSpans"].([]any)
	require.Len(t, resourceSpans, 1)
	first := resourceSpans[0].(map[string]any)

	resource := first["resource"].(map[string]any)
	attrs := resource["attributes"].([]any)
	names := map[string]string{}
	for _, a := range attrs {
		kv := a.(map[string]any)
		names[kv["key"].(string)] = kv["value"].(map[string]any)["stringValue"].(string)
	}
	assert.Equal(t, "svc", names["service.name"])
	assert.Equal(t, "test", names["deployment.environment"])
	assert.Equal(t, "miniapm-go", names["telemetry.sdk.name"])
	assert.Equal(t, "go", names["telemetry.sdk.language"])
	assert.NotEmpty(t, names["telemetry.sdk.version"])

	scopeSpans := first["scopeSpans"].([]any)
	require.Len(t, scopeSpans, 1)
	scope := scopeSpans[0].(map[string]any)
	spans := scope["spans"].([]any)
	require.Len(t, spans, 1)

	otlpSpan := spans[0].(map[string]any)
	assert.Equal(t, float64(2), otlpSpan["kind"])
	assert.Equal(t, float64(0), otlpSpan["status"].(map[string]any)["code"])
}

func TestOTLP_Export_NoAPIKey(t *testing.T) {
	srv, captured := newCollector(t, http.StatusOK)

	cfg := testConfig(srv.URL)
	cfg.APIKey = ""

	span := tracing.NewSpan("x", tracing.CategoryDB)
	res := exporter.NewOTLP(cfg, transport.New(exporter.UserAgent())).Export([]*tracing.Span{span})

	assert.Nil(t, res)
	assert.Empty(t, *captured)
}

func TestOTLP_Export_OptionalResourceAttributes(t *testing.T) {
	srv, captured := newCollector(t, http.StatusOK)

	cfg := testConfig(srv.URL)
	cfg.ServiceVersion = "1.2.3"
	cfg.Host = "web-1"
	cfg.GitSHA = "abc123"

	span := tracing.NewSpan("x", tracing.CategoryDB)
	span.Finish()
	exporter.NewOTLP(cfg, transport.New(exporter.UserAgent())).Export([]*tracing.Span{span})

	require.Len(t, *captured, 1)
	body, _ := json.Marshal((*captured)[0].payload)
	assert.Contains(t, string(body), "service.version")
	assert.Contains(t, string(body), "host.name")
	assert.Contains(t, string(body), "git.sha")
}

func TestErrors_Export(t *testing.T) {
	srv, captured := newCollector(t, http.StatusOK)

	event := errevent.New("RuntimeError", "boom", []string{"app/a.go:1"})
	res := exporter.NewErrors(testConfig(srv.URL), transport.New(exporter.UserAgent())).Export(event)

	require.NotNil(t, res)
	assert.True(t, res.Success)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/ingest/errors", req.path)
	assert.Equal(t, "Bearer k", req.auth)
	assert.Equal(t, "RuntimeError", req.payload["exception_class"])
	assert.Equal(t, event.Fingerprint, req.payload["fingerprint"])
}

func TestErrors_ExportBatch_OnePostPerEvent(t *testing.T) {
	srv, captured := newCollector(t, http.StatusOK)

	events := []*errevent.Event{
		errevent.New("A", "a", nil),
		errevent.New("B", "b", nil),
		errevent.New("C", "c", nil),
	}

	res := exporter.NewErrors(testConfig(srv.URL), transport.New(exporter.UserAgent())).ExportBatch(events)

	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Sent)
	assert.Zero(t, res.Failed)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Len(t, *captured, 3)
}

func TestErrors_ExportBatch_AggregatesFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	events := []*errevent.Event{
		errevent.New("A", "a", nil),
		errevent.New("B", "b", nil),
	}

	res := exporter.NewErrors(testConfig(srv.URL), transport.New(exporter.UserAgent())).ExportBatch(events)

	require.NotNil(t, res)
	assert.True(t, res.Success, "any success marks the batch successful")
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestCheckHealth(t *testing.T) {
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	ok := exporter.CheckHealth(testConfig(srv.URL), transport.New(exporter.UserAgent()))

	assert.True(t, ok)
	assert.Equal(t, "/health", path)
	assert.Equal(t, "Bearer k", auth)
}
