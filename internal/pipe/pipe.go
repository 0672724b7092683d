// Package pipe implements the asynchronous full-duplex byte pipe of §4.1:
// input/output byte queues with a high-water mark, readable/writable/event
// callbacks, and an optional TLS layer attachable either at creation or by
// filtering an already-live plaintext pipe in place.
//
// Grounded on the teacher's goroutine-pair relay in
// internal/proxy/server.go's HandleConnection (one goroutine per
// direction), generalized from a blocking io.Copy pair into a queue with
// pause/resume so the connection state machine can inspect and mutate
// buffered bytes between the read and write sides.
package pipe

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
)

// HighWaterMark is the per-direction read pause threshold (§4.1, §6).
const HighWaterMark = 128 * 1024

// Role distinguishes a TLS pipe's handshake side.
type Role int

const (
	RoleAccept Role = iota
	RoleConnect
)

// Pipe is one half-duplex-addressable endpoint of an interception: a
// socket plus optional TLS, with buffered input/output.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	conn   net.Conn
	br     *bufio.Reader
	hasTLS bool
	role   Role

	in  bytes.Buffer
	out bytes.Buffer

	onReadable func()
	onWritable func()
	onEvent    func(error)

	wake    chan struct{}
	closed  bool
	started bool
}

func newPipe() *Pipe {
	p := &Pipe{wake: make(chan struct{}, 1)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// NewPlain wraps an already-connected socket with no TLS.
func NewPlain(conn net.Conn) *Pipe {
	p := newPipe()
	p.conn = conn
	p.br = bufio.NewReaderSize(conn, 4096)
	return p
}

// NewTLS wraps conn with a TLS handshake in the given role.
func NewTLS(conn net.Conn, cfg *tls.Config, role Role) *Pipe {
	p := newPipe()
	p.wrapTLS(conn, cfg, role)
	return p
}

// Dial asynchronously connects to addr and reports the outcome through
// onEvent(nil) on success or onEvent(err) on failure — the Pipe-level
// analogue of §4.1's socket_connect plus the CONNECTING_DST→DST_CONNECTED
// transition of §4.3.
func Dial(ctx context.Context, network, addr string, onEvent func(error)) *Pipe {
	p := newPipe()
	p.onEvent = onEvent
	go func() {
		d := net.Dialer{}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			onEvent(err)
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.br = bufio.NewReaderSize(conn, 4096)
		p.mu.Unlock()
		onEvent(nil)
	}()
	return p
}

func (p *Pipe) wrapTLS(conn net.Conn, cfg *tls.Config, role Role) {
	var tconn *tls.Conn
	switch role {
	case RoleAccept:
		tconn = tls.Server(conn, cfg)
	default:
		tconn = tls.Client(conn, cfg)
	}
	p.conn = tconn
	p.br = bufio.NewReaderSize(tconn, 4096)
	p.hasTLS = true
	p.role = role
}

// bufConn lets a net.Conn be read back through a bufio.Reader that may
// already hold peeked bytes, so those bytes survive a later TLS wrap.
type bufConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// UpgradeInPlace replaces this pipe's plain transport with a TLS filter on
// the same underlying socket, per §4.1's upgrade_in_place. Any bytes
// already peeked (but not consumed) are replayed through the TLS layer.
// Must be called before EnableRW.
func (p *Pipe) UpgradeInPlace(cfg *tls.Config, role Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pipe: cannot upgrade after I/O has started")
	}
	if p.hasTLS {
		return errors.New("pipe: already TLS")
	}
	underlying := &bufConn{Conn: p.conn, r: p.br}
	p.wrapTLS(underlying, cfg, role)
	return nil
}

// Peek returns up to n already-received bytes without consuming them,
// blocking only until at least one byte is available. Used by the
// ClientHello peek in §4.3.
func (p *Pipe) Peek(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.br.Peek(1); err != nil {
		return nil, err
	}
	if b := p.br.Buffered(); b < n {
		n = b
	}
	return p.br.Peek(n)
}

// SetCallbacks installs the readable/writable/event notifications.
func (p *Pipe) SetCallbacks(onReadable, onWritable func(), onEvent func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReadable = onReadable
	p.onWritable = onWritable
	p.onEvent = onEvent
}

// EnableRW starts the read and write loops. Idempotent.
func (p *Pipe) EnableRW() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.readLoop()
	go p.writeLoop()
}

func (p *Pipe) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		p.mu.Lock()
		for !p.closed && p.in.Len() >= HighWaterMark {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		r := p.br
		p.mu.Unlock()

		n, err := r.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.in.Write(buf[:n])
			cb := p.onReadable
			p.mu.Unlock()
			if cb != nil {
				cb()
			}
		}
		if err != nil {
			p.mu.Lock()
			cb := p.onEvent
			p.mu.Unlock()
			if cb != nil {
				cb(err)
			}
			return
		}
	}
}

func (p *Pipe) writeLoop() {
	for {
		p.mu.Lock()
		for !p.closed && p.out.Len() == 0 {
			p.mu.Unlock()
			<-p.wake
			p.mu.Lock()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		chunk := append([]byte(nil), p.out.Bytes()...)
		p.out.Reset()
		conn := p.conn
		p.mu.Unlock()

		if _, err := conn.Write(chunk); err != nil {
			p.mu.Lock()
			cb := p.onEvent
			p.mu.Unlock()
			if cb != nil {
				cb(err)
			}
			return
		}

		p.mu.Lock()
		cb := p.onWritable
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

// ReadInput pops up to max bytes (0 = all) buffered from the read side.
func (p *Pipe) ReadInput(max int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.in.Len()
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}
	data := make([]byte, n)
	p.in.Read(data)
	p.cond.Broadcast()
	return data
}

// InputLen reports how many bytes are currently buffered on the read side.
func (p *Pipe) InputLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Len()
}

// DrainInput discards all buffered input, returning what was discarded.
func (p *Pipe) DrainInput() []byte {
	return p.ReadInput(0)
}

// WriteOutput queues data to be written asynchronously.
func (p *Pipe) WriteOutput(data []byte) {
	p.mu.Lock()
	p.out.Write(data)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// OutputLen reports how many bytes are queued but not yet written.
func (p *Pipe) OutputLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Len()
}

// HasTLS reports whether this pipe has a TLS layer attached.
func (p *Pipe) HasTLS() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasTLS
}

// TLSConnectionState returns the TLS connection state, if any.
func (p *Pipe) TLSConnectionState() (tls.ConnectionState, bool) {
	p.mu.Lock()
	conn := p.conn
	hasTLS := p.hasTLS
	p.mu.Unlock()
	if !hasTLS {
		return tls.ConnectionState{}, false
	}
	tconn, ok := conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tconn.ConnectionState(), true
}

// Handshake runs (or waits for) the TLS handshake on this pipe.
func (p *Pipe) Handshake(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	hasTLS := p.hasTLS
	p.mu.Unlock()
	if !hasTLS {
		return nil
	}
	tconn, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	return tconn.HandshakeContext(ctx)
}

// Conn returns the underlying net.Conn (raw or TLS-wrapped) for address
// lookups and socket option tweaks.
func (p *Pipe) Conn() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Release frees the pipe: TLS pipes attempt a graceful close_notify
// shutdown first (dirty-close errors are tolerated, per §4.1/§7), then the
// socket is closed either way.
func (p *Pipe) Release() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conn := p.conn
	p.mu.Unlock()

	p.cond.Broadcast()
	select {
	case p.wake <- struct{}{}:
	default:
	}

	if conn == nil {
		return nil
	}
	_ = conn.Close() // dirty TLS shutdown is not an error, per contract
	return nil
}
