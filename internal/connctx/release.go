package connctx

import (
	"context"

	"sslproxy/internal/metrics"
	"sslproxy/internal/teardown"
)

// abort implements §4.3's ABORT state and §7's "close fd, free ctx"
// handling: terminal, not reentrant, frees the meta slot.
func (c *ConnCtx) abort(ctx context.Context, reason string) {
	if c.state == StateAbort || c.state == StateTeardown {
		return
	}
	c.state = StateAbort
	c.release(reason)
}

// maybeTeardown checks §4.6's parent predicate and releases the parent
// once it holds.
func (c *ConnCtx) maybeTeardown(ctx context.Context) {
	if c.state == StateAbort || c.state == StateTeardown {
		return
	}
	if !c.readyForTeardown() {
		return
	}
	c.state = StateTeardown
	c.src.eof = true
	c.e2src.eof = true
	c.release("")
}

func (c *ConnCtx) markEOF(ctx context.Context, ep *endpoint) {
	ep.eof = true
	c.maybeTeardown(ctx)
}

// release implements §4.6's parent release procedure: close src, dst,
// e2src in that order, detach from the meta, and free the meta once no
// children remain.
func (c *ConnCtx) release(reason string) {
	_ = teardown.ReleaseAll(&c.src, &c.dst, &c.e2src)
	c.meta.parent = nil
	c.meta.maybeFreeLocked()
	c.worker.Release()

	metrics.ActiveInterceptions.Dec()
	metrics.TeardownTotal.WithLabelValues(teardownReasonLabel(reason)).Inc()

	emitConnectLog(c, reason)
}

func teardownReasonLabel(reason string) string {
	if reason == "" {
		return "complete"
	}
	return reason
}
