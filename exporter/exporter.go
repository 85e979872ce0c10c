// Package exporter serializes telemetry batches into the collector's wire
// formats and posts them: OTLP-JSON resourceSpans for traces, one JSON
// document per error event.
package exporter

import (
	"runtime"

	"github.com/samber/lo"

	"github.com/miniapm/miniapm-go/errevent"
	"github.com/miniapm/miniapm-go/logger"
	"github.com/miniapm/miniapm-go/tracing"
	"github.com/miniapm/miniapm-go/transport"
)

// Library identity, reported as telemetry.sdk.* resource attributes and in
// the User-Agent of every export request.
const (
	SDKName    = "miniapm-go"
	SDKVersion = "0.1.0"
	sdkLang    = "go"
)

const (
	tracesPath = "/ingest/v1/traces"
	errorsPath = "/ingest/errors"
	healthPath = "/health"
)

// UserAgent identifies the library on outbound requests.
func UserAgent() string {
	return SDKName + "/" + SDKVersion
}

// Config carries the collector coordinates and the resource identity
// attached to every exported batch.
type Config struct {
	Endpoint       string
	APIKey         string
	ServiceName    string
	Environment    string
	ServiceVersion string
	Host           string
	GitSHA         string
}

func (c Config) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

// resourceAttributes builds the OTLP resource attribute list. Everything is
// encoded as a stringValue; optional fields are omitted when empty.
func (c Config) resourceAttributes() []map[string]any {
	pairs := [][2]string{
		{"service.name", c.ServiceName},
		{"deployment.environment", c.Environment},
		{"telemetry.sdk.name", SDKName},
		{"telemetry.sdk.version", SDKVersion},
		{"telemetry.sdk.language", sdkLang},
		{"process.runtime.version", runtime.Version()},
	}

	optional := [][2]string{
		{"service.version", c.ServiceVersion},
		{"host.name", c.Host},
		{"git.sha", c.GitSHA},
	}
	for _, p := range optional {
		if p[1] != "" {
			pairs = append(pairs, p)
		}
	}

	return lo.Map(pairs, func(p [2]string, _ int) map[string]any {
		return map[string]any{
			"key":   p[0],
			"value": map[string]any{"stringValue": p[1]},
		}
	})
}

// OTLP exports span batches to the collector's trace endpoint.
type OTLP struct {
	cfg    Config
	client *transport.Client
	log    logger.Logger
}

// NewOTLP creates the span exporter. The transport client may be shared
// with other exporters; it is safe for concurrent use.
func NewOTLP(cfg Config, client *transport.Client) *OTLP {
	return &OTLP{
		cfg:    cfg,
		client: client,
		log:    logger.Named("exporter.otlp"),
	}
}

// Export posts one OTLP resourceSpans payload built from the batch. With
// no API key configured it does nothing and returns nil.
func (e *OTLP) Export(spans []*tracing.Span) *transport.Result {
	if e.cfg.APIKey == "" || len(spans) == 0 {
		return nil
	}

	payload := map[string]any{
		"resourceSpans": []map[string]any{{
			"resource": map[string]any{
				"attributes": e.cfg.resourceAttributes(),
			},
			"scopeSpans": []map[string]any{{
				"scope": map[string]any{
					"name":    SDKName,
					"version": SDKVersion,
				},
				"spans": lo.Map(spans, func(s *tracing.Span, _ int) map[string]any {
					return s.ToOTLP()
				}),
			}},
		}},
	}

	res := e.client.Post(e.cfg.Endpoint+tracesPath, payload, e.cfg.authHeaders())

	if !res.Success {
		e.log.With("status", res.Status, "error", res.Err).
			Debugf("trace export attempt failed for %d spans", len(spans))
	}

	return &res
}

// CheckHealth posts an empty body to the collector's health endpoint and
// reports whether it answered with success.
func CheckHealth(cfg Config, client *transport.Client) bool {
	res := client.Post(cfg.Endpoint+healthPath, nil, cfg.authHeaders())
	return res.Success
}

// Errors exports error events to the collector's error endpoint, one
// payload per event.
type Errors struct {
	cfg    Config
	client *transport.Client
	log    logger.Logger
}

// NewErrors creates the error exporter.
func NewErrors(cfg Config, client *transport.Client) *Errors {
	return &Errors{
		cfg:    cfg,
		client: client,
		log:    logger.Named("exporter.errors"),
	}
}

// Export posts a single error event. With no API key configured it does
// nothing and returns nil.
func (e *Errors) Export(event *errevent.Event) *transport.Result {
	if e.cfg.APIKey == "" || event == nil {
		return nil
	}

	res := e.client.Post(e.cfg.Endpoint+errorsPath, event.ToMap(), e.cfg.authHeaders())
	return &res
}

// BatchResult aggregates the per-event outcomes of ExportBatch.
type BatchResult struct {
	Success bool
	Sent    int
	Failed  int
	Status  int
}

// ExportBatch sends the events one by one. The aggregate succeeds when any
// single event succeeded; Status is the last observed HTTP status.
func (e *Errors) ExportBatch(events []*errevent.Event) *BatchResult {
	if e.cfg.APIKey == "" || len(events) == 0 {
		return nil
	}

	out := &BatchResult{}
	for _, event := range events {
		res := e.Export(event)
		if res == nil {
			continue
		}

		out.Status = res.Status
		if res.Success {
			out.Sent++
		} else {
			out.Failed++
		}
	}

	out.Success = out.Sent > 0
	return out
}
