package services

import (
	"context"
	"testing"
)

func TestRequestGate_Abort(t *testing.T) {
	var g RequestGate
	if g.Abort() {
		t.Error("Abort with nothing in flight should report false")
	}

	ctx, done := g.Begin(context.Background())
	if !g.Active() {
		t.Fatal("expected an active request")
	}
	if !g.Abort() {
		t.Fatal("expected Abort to cancel the request")
	}
	if ctx.Err() == nil {
		t.Error("request context should be cancelled")
	}
	if !done() {
		t.Error("done should report the abort")
	}
	if g.Active() {
		t.Error("handle should be cleared after settle")
	}
}

func TestRequestGate_ResetAfterSettle(t *testing.T) {
	var g RequestGate

	_, done := g.Begin(context.Background())
	if done() {
		t.Error("request was not aborted")
	}
	if g.Abort() {
		t.Error("a settled request must not be abortable")
	}

	// A stale done must not clear a newer handle.
	_, done1 := g.Begin(context.Background())
	ctx2, done2 := g.Begin(context.Background())
	done1()
	if !g.Active() {
		t.Fatal("newer request should still be active")
	}
	g.Abort()
	if ctx2.Err() == nil {
		t.Error("newer request should be cancelled")
	}
	if !done2() {
		t.Error("newer request should report the abort")
	}
}
