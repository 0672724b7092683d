package connctx

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"sslproxy/internal/certcache"
	"sslproxy/internal/clienthello"
	"sslproxy/internal/config"
	"sslproxy/internal/httpfilter"
	"sslproxy/internal/metrics"
	"sslproxy/internal/ocsp"
	"sslproxy/internal/pipe"
	"sslproxy/internal/relay"
)

// openMirrorListener implements the DST_CONNECTED entry action of §4.3:
// bind the per-interception mirror listener, then connect e2src to it.
func (c *ConnCtx) openMirrorListener(ctx context.Context) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		c.abort(ctx, "cannot open mirror listener: "+err.Error())
		return
	}
	c.meta.mirrorListener = ln
	c.meta.mirrorAddr = ln.Addr().String()
	go acceptMirrorChildren(ctx, c.meta, ln)

	c.e2src.pipe = pipe.Dial(ctx, "tcp", c.meta.mirrorAddr, func(err error) {
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onE2SrcConnectEvent(ctx, err)
		})
	})
}

func (c *ConnCtx) onE2SrcConnectEvent(ctx context.Context, err error) {
	if c.state != StateDstConnected {
		return
	}
	if err != nil {
		c.abort(ctx, "e2src connect failed: "+err.Error())
		return
	}
	c.e2srcConnected = true
	c.state = StateFullyConnected
	c.enterFullyConnected(ctx)
}

// enterFullyConnected implements §4.3's FULLY_CONNECTED entry action. The
// ssl protocol always terminates TLS on src here; autossl instead peeks
// first (in plain mode, non-aborting) to decide whether the wire is TLS
// at all before committing either way.
func (c *ConnCtx) enterFullyConnected(ctx context.Context) {
	spec := c.meta.listener.Spec

	if spec.Protocol == config.ProtoAutoSSL && c.clienthelloSearch && !c.passthrough {
		c.autosslPeek(ctx)
		return
	}

	if spec.Protocol == config.ProtoSSL && !c.passthrough {
		c.startTLSSrc(ctx)
		return
	}

	c.startPlainRelay(ctx)
}

// autosslPeek implements the "Peek & upgrade (in-band autossl)" design
// note: peek src's first bytes without consuming them and look for a
// ClientHello. Unlike the ssl protocol's bounded PEEKING retry, a miss
// here is never fatal — plain traffic on an autossl listener is the
// common case and just keeps relaying plain.
func (c *ConnCtx) autosslPeek(ctx context.Context) {
	src := c.src.pipe
	go func() {
		buf, err := src.Peek(sniPeekBufSize)
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onAutosslPeekResult(ctx, buf, err)
		})
	}()
}

func (c *ConnCtx) onAutosslPeekResult(ctx context.Context, buf []byte, err error) {
	if c.state != StateFullyConnected {
		return
	}
	c.clienthelloSearch = false

	res := clienthello.Parse(buf)
	if err != nil || !res.Found {
		c.startPlainRelay(ctx)
		return
	}

	c.clienthelloFound = true
	if res.Complete {
		c.sni = res.SNI
	}
	c.upgradeDstThenSrc(ctx)
}

// upgradeDstThenSrc carries out the two steps the design note calls for
// once a ClientHello is found mid-accept: filter-upgrade the dst
// side-channel in place (connecting role) to observe the original
// certificate, then hand off to the same src-upgrade path the ssl
// protocol uses.
func (c *ConnCtx) upgradeDstThenSrc(ctx context.Context) {
	cfg := &tls.Config{
		ServerName:         c.sni,
		InsecureSkipVerify: true,
		ClientSessionCache: certcache.DstSessionCache(c.meta.listener.Certs, c.meta.dstAddr, c.sni),
	}
	if err := c.dst.pipe.UpgradeInPlace(cfg, pipe.RoleConnect); err != nil {
		c.abort(ctx, "dst TLS upgrade: "+err.Error())
		return
	}
	c.dstTLSConfig = cfg
	c.meta.dstTLSConfig = cfg

	// Handshake blocks on network I/O; run it off the worker goroutine
	// so the meta mutex is never held across a suspension point (§5).
	go func() {
		herr := c.dst.pipe.Handshake(ctx)
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onAutosslDstHandshakeDone(ctx, herr)
		})
	}()
}

func (c *ConnCtx) onAutosslDstHandshakeDone(ctx context.Context, err error) {
	if c.state != StateFullyConnected {
		return
	}
	if err != nil {
		c.abort(ctx, "dst TLS handshake failed: "+err.Error())
		return
	}
	if state, ok := c.dst.pipe.TLSConnectionState(); ok {
		if len(state.PeerCertificates) > 0 {
			c.origLeaf = state.PeerCertificates[0]
		}
		c.tlsDstProto = tlsProtoString(state)
	}
	c.startTLSSrc(ctx)
}

// startTLSSrc forges/selects a certificate and terminates TLS on src,
// upgrading in place so any bytes already peeked off the wire (by either
// the ssl protocol's PEEKING state or autossl's in-band peek) carry over.
func (c *ConnCtx) startTLSSrc(ctx context.Context) {
	rec, err := c.meta.listener.Certs.Select(c.origLeaf, c.sni)
	if err != nil {
		c.abort(ctx, "forge failure: "+err.Error())
		return
	}
	c.generatedCert = rec.Generated
	c.immutableCert = rec.Immutable
	if c.origLeaf != nil {
		c.origCrtFpr = certcache.Fingerprint(c.origLeaf)
	}
	c.usedCrtFpr = certcache.Fingerprint(rec.Leaf)
	c.sslNames = strings.Join(rec.Leaf.DNSNames, ",")

	tlsCfg := &tls.Config{
		GetCertificate: c.makeGetCertificate(rec),
	}
	c.srcTLSConfig = tlsCfg

	if err := c.src.pipe.UpgradeInPlace(tlsCfg, pipe.RoleAccept); err != nil {
		c.abort(ctx, "src TLS upgrade: "+err.Error())
		return
	}
	c.src.pipe.EnableRW()

	// Handshake blocks on network I/O; run it off the worker goroutine
	// so the meta mutex is never held across a suspension point (§5).
	go func() {
		herr := c.src.pipe.Handshake(ctx)
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onSrcHandshakeDone(ctx, herr)
		})
	}()
}

func (c *ConnCtx) startPlainRelay(ctx context.Context) {
	c.src.pipe.EnableRW()
	c.e2src.pipe.EnableRW()
	c.state = StateRelaying
	c.startRelay(ctx)
}

func (c *ConnCtx) onSrcHandshakeDone(ctx context.Context, err error) {
	if c.state != StateFullyConnected {
		return
	}
	if err != nil {
		c.abort(ctx, "src TLS handshake failed: "+err.Error())
		return
	}
	if state, ok := c.src.pipe.TLSConnectionState(); ok {
		c.tlsSrcProto = tlsProtoString(state)
	}

	c.e2src.pipe.EnableRW()
	c.state = StateRelaying
	c.startRelay(ctx)
}

// makeGetCertificate returns a GetCertificate callback that serves rec by
// default and re-forges when the client's SNI differs and rec is not
// immutable (§4.2's servername_mismatch).
func (c *ConnCtx) makeGetCertificate(rec *certcache.CertRecord) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cur := rec
		if hello.ServerName != "" && hello.ServerName != c.sni && !cur.Immutable && c.origLeaf != nil {
			fresh, err := c.meta.listener.Certs.ServernameMismatch(c.origLeaf, hello.ServerName)
			if err == nil {
				cur = fresh
				metrics.ForgeCacheTotal.WithLabelValues("forged", "mismatch").Inc()
				c.usedCrtFpr = certcache.Fingerprint(fresh.Leaf)
			}
		}
		chain := make([][]byte, 0, len(cur.Chain))
		chain = append(chain, cur.Chain...)
		return &tls.Certificate{Certificate: chain, PrivateKey: cur.Key, Leaf: cur.Leaf}, nil
	}
}

// startRelay wires the parent's src<->e2src pump of §4.5, including the
// request-direction header filter + one-shot mirror injection and the
// response-direction header filter.
func (c *ConnCtx) startRelay(ctx context.Context) {
	reqFilter := relay.NewRequestInjector(
		func(line []byte) ([]byte, bool) { return httpfilter.FilterRequestLine(&c.reqFilter, line) },
		c.reqFilter.InjectConnectionClose,
		c.meta.mirrorAddr,
	)
	respFilter := relay.NewHeaderScanner(
		func(line []byte) ([]byte, bool) { return httpfilter.FilterResponseLine(&c.respFilter, line) },
		nil,
	)

	c.src.pipe.SetCallbacks(
		c.onWorker(func() { c.onSrcReadable(ctx, reqFilter) }),
		c.onWorker(func() { c.maybeTeardown(ctx) }),
		c.onWorkerErr(func(error) { c.markEOF(ctx, &c.src) }),
	)
	c.e2src.pipe.SetCallbacks(
		c.onWorker(func() {
			data := c.e2src.pipe.ReadInput(0)
			if len(data) == 0 {
				return
			}
			c.src.pipe.WriteOutput(respFilter.Feed(data))
		}),
		c.onWorker(func() { c.maybeTeardown(ctx) }),
		c.onWorkerErr(func(error) { c.markEOF(ctx, &c.e2src) }),
	)
}

// onSrcReadable implements the request-direction pump plus the OCSP denial
// check of §4.3: once the request header block is fully parsed, decide
// whether to deny it instead of forwarding.
func (c *ConnCtx) onSrcReadable(ctx context.Context, filter relay.LineFilter) {
	data := c.src.pipe.ReadInput(0)
	if len(data) == 0 {
		return
	}

	wasDone := c.reqFilter.HeadersDone
	out := filter.Feed(data)

	if !wasDone && c.reqFilter.HeadersDone && !c.ocspChecked {
		c.ocspChecked = true
		if c.isOCSPRequest() {
			c.denyOCSP(ctx)
			return
		}
	}

	if len(out) > 0 {
		c.e2src.pipe.WriteOutput(out)
	}
	if c.meta.listener.Log != nil {
		c.meta.listener.Log.Submit(c.ID.String(), true, data)
	}
}

func (c *ConnCtx) isOCSPRequest() bool {
	if c.reqFilter.Method == "GET" && ocsp.IsGetURI(c.reqFilter.URI) {
		return true
	}
	if c.reqFilter.Method == "POST" && ocsp.IsPostContentType(c.reqFilter.ContentType) {
		return true
	}
	return false
}

// denyOCSP implements §4.3's OCSP denial path: drain src input, release
// dst, write the exact 103-byte response, mark ocsp_denied.
func (c *ConnCtx) denyOCSP(ctx context.Context) {
	c.src.pipe.DrainInput()
	_ = c.dst.Close()
	c.dst.eof = true
	c.src.pipe.WriteOutput(ocsp.DenyResponse())
	c.ocspDenied = true
	metrics.OCSPDeniedTotal.Inc()
	if c.meta.listener.Log != nil {
		c.meta.listener.Log.Submit(c.ID.String(), false, ocsp.DenyResponse())
	}
}
