package connctx

import (
	"context"
	"net"
	"time"

	"sslproxy/internal/clienthello"
	"sslproxy/internal/config"
	"sslproxy/internal/metrics"
	"sslproxy/internal/pipe"
)

// StartParent begins the ACCEPTED state for a freshly accepted client
// connection, binding it to one worker for the rest of its lifetime (§5).
func StartParent(ctx context.Context, lc *ListenerCtx, conn net.Conn) {
	w := lc.Pool.Bind()
	meta := newMeta(lc)
	meta.worker = w

	c := &ConnCtx{ID: newULID(), meta: meta, worker: w, state: StateAccepted}
	meta.parent = c

	c.srcHost, c.srcPort = splitHostPort(conn.RemoteAddr())
	c.peerFamily = addrFamily(conn.RemoteAddr())
	c.src.pipe = pipe.NewPlain(conn)

	metrics.ActiveInterceptions.Inc()

	w.Submit(func() {
		meta.mu.Lock()
		defer meta.mu.Unlock()
		c.enterAccepted(ctx)
	})
}

func (c *ConnCtx) enterAccepted(ctx context.Context) {
	spec := c.meta.listener.Spec
	if spec.Protocol == config.ProtoSSL {
		c.state = StatePeeking
		c.clienthelloSearch = true
		c.peekOnce(ctx)
		return
	}

	// autossl resolves and connects in plain mode first (§4.3's "Peek &
	// upgrade" note): whether the wire is actually TLS is only decided
	// later, off of a non-aborting peek once relaying is about to begin
	// (see enterFullyConnected/autosslPeek in relaying.go).
	if spec.Protocol == config.ProtoAutoSSL {
		c.clienthelloSearch = true
	}
	c.state = StateResolving
	c.resolveDst(ctx)
}

// peekOnce issues one non-destructive peek for a ClientHello. pipe.Peek
// blocks until at least one byte has arrived, so the blocking call
// runs on its own goroutine (mirroring pipe.Dial's async-connect pattern)
// and reports back onto this interception's worker.
func (c *ConnCtx) peekOnce(ctx context.Context) {
	src := c.src.pipe
	go func() {
		buf, err := src.Peek(sniPeekBufSize)
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onPeekResult(ctx, buf, err)
		})
	}()
}

func (c *ConnCtx) sniPeekLimits() (retries int, delay time.Duration) {
	retries, delay = maxSNIPeekRetries, sniPeekDelay
	if env := c.meta.listener.Config.Env; env != nil {
		if env.SNIPeekRetries > 0 {
			retries = env.SNIPeekRetries
		}
		if env.SNIPeekDelayMS > 0 {
			delay = time.Duration(env.SNIPeekDelayMS) * time.Millisecond
		}
	}
	return retries, delay
}

func (c *ConnCtx) onPeekResult(ctx context.Context, buf []byte, err error) {
	if c.state != StatePeeking {
		return
	}
	if err != nil && len(buf) == 0 {
		c.abort(ctx, "peek EOF before ClientHello")
		return
	}

	res := clienthello.Parse(buf)
	if !res.Found {
		c.abort(ctx, "not a TLS ClientHello")
		return
	}
	if !res.Complete {
		retries, delay := c.sniPeekLimits()
		c.sniPeekRetries++
		if c.sniPeekRetries >= retries {
			c.abort(ctx, "ClientHello incomplete after retries")
			return
		}
		time.AfterFunc(delay, func() { c.peekOnce(ctx) })
		return
	}

	c.sni = res.SNI
	c.clienthelloFound = true
	c.clienthelloSearch = false
	c.state = StateResolving
	c.resolveDst(ctx)
}
