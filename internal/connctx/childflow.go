package connctx

import (
	"context"
	"net"

	"sslproxy/internal/metrics"
	"sslproxy/internal/pipe"
	"sslproxy/internal/relay"
	"sslproxy/internal/teardown"
)

// acceptMirrorChildren runs the per-interception mirror listener's accept
// loop, spawning a ChildCtx for every connection it accepts (§3/§4.3's
// mirror child state machine). It exits once the listener is closed by
// the meta's teardown.
func acceptMirrorChildren(ctx context.Context, meta *Meta, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		spawnChild(ctx, meta, conn)
	}
}

func spawnChild(ctx context.Context, meta *Meta, conn net.Conn) {
	cc := &ChildCtx{meta: meta}
	cc.e2dst.pipe = pipe.NewPlain(conn)

	meta.worker.Submit(func() {
		meta.mu.Lock()
		defer meta.mu.Unlock()
		meta.addChild(cc)
		metrics.ActiveChildren.Inc()
		cc.e2dst.pipe.EnableRW()
		cc.dialDst(ctx)
	})
}

// dialDst implements the child's connection to the original destination,
// reusing the parent's resolved address and TLS configuration (§9's Open
// Question: retained as the parent's original destination, not a separate
// analyzer address).
func (c *ChildCtx) dialDst(ctx context.Context) {
	addr := c.meta.dstAddr
	tlsCfg := c.meta.dstTLSConfig

	c.dst.pipe = pipe.Dial(ctx, "tcp", addr, c.onWorkerErr(func(err error) {
		if err != nil {
			_ = c.e2dst.Close()
			c.meta.removeChild(c)
			c.meta.maybeFreeLocked()
			metrics.ActiveChildren.Dec()
			return
		}
		if tlsCfg != nil {
			if err := c.dst.pipe.UpgradeInPlace(tlsCfg, pipe.RoleConnect); err != nil {
				_ = c.e2dst.Close()
				c.meta.removeChild(c)
				c.meta.maybeFreeLocked()
				metrics.ActiveChildren.Dec()
				return
			}
		}
		c.dst.pipe.EnableRW()
		c.startRelay(ctx)
	}))
}

// startRelay wires the child's plain e2dst<->dst pump of §4.5 — no header
// filtering, the parent already applied it.
func (c *ChildCtx) startRelay(ctx context.Context) {
	c.e2dst.pipe.SetCallbacks(
		c.onWorker(func() { relay.Pump(ctx, c.e2dst.pipe, c.dst.pipe, nil) }),
		c.onWorker(func() { c.maybeTeardown(ctx) }),
		c.onWorkerErr(func(error) { c.markEOF(ctx, &c.e2dst) }),
	)
	c.dst.pipe.SetCallbacks(
		c.onWorker(func() { relay.Pump(ctx, c.dst.pipe, c.e2dst.pipe, nil) }),
		c.onWorker(func() { c.maybeTeardown(ctx) }),
		c.onWorkerErr(func(error) { c.markEOF(ctx, &c.dst) }),
	)
}

func (c *ChildCtx) markEOF(ctx context.Context, ep *endpoint) {
	ep.eof = true
	c.maybeTeardown(ctx)
}

func (c *ChildCtx) maybeTeardown(ctx context.Context) {
	if !c.readyForTeardown() {
		return
	}
	err := teardown.ReleaseAll(&c.dst, &c.e2dst)
	c.meta.removeChild(c)
	c.meta.maybeFreeLocked()
	metrics.ActiveChildren.Dec()
	_ = err
}
