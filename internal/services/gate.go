package services

import (
	"context"
	"sync"
)

type handle struct {
	cancel  context.CancelFunc
	aborted bool
}

// RequestGate holds the abort handle of a session's current AI request.
// Every call gets a fresh handle, and the handle is cleared once the call
// settles so a later Abort cannot reach a finished request.
type RequestGate struct {
	mu      sync.Mutex
	current *handle
}

// Begin derives a cancellable context for one request. The returned done
// function must be called when the request settles; it reports whether the
// request was aborted.
func (g *RequestGate) Begin(ctx context.Context) (context.Context, func() bool) {
	reqCtx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}

	g.mu.Lock()
	g.current = h
	g.mu.Unlock()

	return reqCtx, func() bool {
		cancel()
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.current == h {
			g.current = nil
		}
		return h.aborted
	}
}

// Abort cancels the current request. It returns false when nothing is in
// flight.
func (g *RequestGate) Abort() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return false
	}
	g.current.aborted = true
	g.current.cancel()
	g.current = nil
	return true
}

// Active reports whether a request is in flight.
func (g *RequestGate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current != nil
}
