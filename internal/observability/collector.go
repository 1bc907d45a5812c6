// Package observability provides metrics, request tracing and session
// statistics for the daemon.
package observability

import (
	"sync"
	"time"

	"github.com/octobridge/octobridge/internal/github"
)

// RequestMetrics holds timing and status information for a single gateway request.
type RequestMetrics struct {
	Resource   string
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Error      error
}

// SessionMetrics aggregates metrics for a daemon run.
type SessionMetrics struct {
	StartTime      time.Time
	EndTime        time.Time
	TotalRequests  int
	FailedRequests int
	TotalMessages  int
	FailedMessages int
	TotalLatency   time.Duration
}

// SessionCollector accumulates metrics across a daemon run.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime      time.Time
	totalRequests  int
	failedRequests int
	totalMessages  int
	failedMessages int
	totalLatency   time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for a gateway request. Transport errors and
// non-2xx responses count as failures.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Error != nil || m.StatusCode < 200 || m.StatusCode > 299 {
		c.failedRequests++
	}
}

// RecordRequestFromGateway records metrics from gateway hook types.
func (c *SessionCollector) RecordRequestFromGateway(info github.RequestInfo, result github.RequestResult) {
	c.RecordRequest(RequestMetrics{
		Resource:   info.Resource,
		Method:     info.Method,
		URL:        info.URL,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Error:      result.Error,
	})
}

// RecordMessage records one routed message.
func (c *SessionCollector) RecordMessage(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalMessages++
	if !success {
		c.failedMessages++
	}
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:      c.startTime,
		EndTime:        time.Now(),
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalMessages:  c.totalMessages,
		FailedMessages: c.failedMessages,
		TotalLatency:   c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.failedRequests = 0
	c.totalMessages = 0
	c.failedMessages = 0
	c.totalLatency = 0
}
