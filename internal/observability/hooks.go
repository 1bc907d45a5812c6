package observability

import (
	"context"
	"sync"
	"time"

	"github.com/octobridge/octobridge/internal/github"
)

// Verify DaemonHooks implements github.Hooks at compile time.
var _ github.Hooks = (*DaemonHooks)(nil)

// DaemonHooks feeds gateway traffic into metrics, the session collector and
// the trace writer. Verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Messages only
//   - 2: Messages + upstream requests
type DaemonHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
	metrics   *Metrics
}

// NewDaemonHooks creates hooks with the given verbosity level.
// Any of collector, writer and metrics may be nil.
func NewDaemonHooks(level int, collector *SessionCollector, writer *TraceWriter, metrics *Metrics) *DaemonHooks {
	return &DaemonHooks{
		level:     level,
		collector: collector,
		writer:    writer,
		metrics:   metrics,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *DaemonHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *DaemonHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

// OnRequestStart is called before a gateway request is sent.
func (h *DaemonHooks) OnRequestStart(ctx context.Context, info github.RequestInfo) context.Context {
	h.mu.Lock()
	level := h.level
	writer := h.writer
	h.mu.Unlock()

	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after a gateway request completes.
func (h *DaemonHooks) OnRequestEnd(_ context.Context, info github.RequestInfo, result github.RequestResult) {
	h.mu.Lock()
	level := h.level
	collector := h.collector
	writer := h.writer
	metrics := h.metrics
	h.mu.Unlock()

	if collector != nil {
		collector.RecordRequestFromGateway(info, result)
	}
	metrics.ObserveGatewayRequest(info.Resource, result.StatusCode, result.Duration)

	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

// OnMessage is called by the router after each envelope is produced.
// outcome is "ok" or the envelope's error code.
func (h *DaemonHooks) OnMessage(action, outcome string, d time.Duration) {
	h.mu.Lock()
	level := h.level
	collector := h.collector
	writer := h.writer
	metrics := h.metrics
	h.mu.Unlock()

	if collector != nil {
		collector.RecordMessage(outcome == "ok")
	}
	metrics.ObserveRouterRequest(action, outcome, d)

	if level >= 1 && writer != nil {
		writer.WriteMessage(action, outcome, d)
	}
}
