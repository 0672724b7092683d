package connctx

import "sslproxy/internal/teardown"

// ChildCtx is the mirror child state machine of §3/§4.3: accepted on the
// per-interception mirror listener, relaying e2dst↔dst, sharing the
// parent's meta and mutex.
type ChildCtx struct {
	meta *Meta

	e2dst endpoint
	dst   endpoint
}

// --- teardown.ChildView ---

func (c *ChildCtx) E2Dst() teardown.EndpointView { return &c.e2dst }
func (c *ChildCtx) Dst() teardown.EndpointView   { return &c.dst }

func (c *ChildCtx) ParentAttached() bool {
	return c.meta != nil && c.meta.parent != nil
}

func (c *ChildCtx) ParentSrcEOF() bool {
	if !c.ParentAttached() {
		return false
	}
	return c.meta.parent.src.EOF()
}

func (c *ChildCtx) ParentE2SrcEOF() bool {
	if !c.ParentAttached() {
		return false
	}
	return c.meta.parent.e2src.EOF()
}

// readyForTeardown reports §4.6's child predicate.
func (c *ChildCtx) readyForTeardown() bool { return teardown.ChildReady(c) }
