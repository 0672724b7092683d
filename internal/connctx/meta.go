package connctx

import (
	"crypto/tls"
	"net"
	"sync"

	"sslproxy/internal/certcache"
	"sslproxy/internal/config"
	"sslproxy/internal/ui"
	"sslproxy/internal/workerpool"
)

// ListenerCtx bundles the spec, process config, and worker-pool binding
// shared by every interception accepted on one configured listener —
// the "back-pointer to the listener-context that created it" of §3.
type ListenerCtx struct {
	Spec   *config.ListenerSpec
	Config *config.Config
	Certs  *certcache.Store
	Pool   *workerpool.Pool
	Log    *ui.ContentLogger // nil when content logging is disabled
}

// Meta is the shared bookkeeping of §3: one mutex serializing every
// callback of the parent and all of its children, a released flag, and
// the per-interception mirror listener.
//
// Grounded on the Design Notes' arena guidance: rather than an intrusive
// linked list of raw pointers, children live in a plain slice behind the
// mutex — Go's GC makes the generational-handle indirection the original
// needed for memory safety unnecessary.
type Meta struct {
	mu sync.Mutex

	parent   *ConnCtx
	children []*ChildCtx

	mirrorListener net.Listener
	mirrorAddr     string

	// dstAddr and dstTLSConfig record how the parent reached the original
	// destination, so a child can reconnect the same way (§9's Open
	// Question: children target the parent's original destination).
	dstAddr      string
	dstTLSConfig *tls.Config

	worker *workerpool.Worker

	released bool
	listener *ListenerCtx
}

func newMeta(lc *ListenerCtx) *Meta {
	return &Meta{listener: lc}
}

// addChild inserts c at the head of the child list, mirroring the
// original's "insert at head" (§3).
func (m *Meta) addChild(c *ChildCtx) {
	m.children = append([]*ChildCtx{c}, m.children...)
	if m.parent != nil {
		m.parent.initialized = true
	}
}

// removeChild unlinks c from the child list.
func (m *Meta) removeChild(c *ChildCtx) {
	for i, ch := range m.children {
		if ch == c {
			m.children = append(m.children[:i], m.children[i+1:]...)
			return
		}
	}
}

// maybeFreeLocked marks the meta released and closes the mirror listener
// once parent is nil and no children remain. Must be called with mu held;
// per §5, the mutex itself is only actually discarded once the caller has
// unlocked (Go's GC handles that for us — there is no explicit "destroy").
func (m *Meta) maybeFreeLocked() {
	if m.released || m.parent != nil || len(m.children) > 0 {
		return
	}
	m.released = true
	if m.mirrorListener != nil {
		_ = m.mirrorListener.Close()
	}
}
