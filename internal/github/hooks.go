package github

import (
	"context"
	"time"
)

// RequestInfo describes an outbound gateway request.
type RequestInfo struct {
	Resource string
	Method   string
	URL      string
}

// RequestResult describes how a request ended. StatusCode is zero when the
// request never got a response.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Error      error
}

// Hooks observes gateway traffic.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
}

// NopHooks ignores everything.
type NopHooks struct{}

func (NopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }
func (NopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult) {}
