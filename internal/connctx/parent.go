package connctx

import (
	"crypto/tls"
	"crypto/x509"
	"net/netip"

	"github.com/oklog/ulid/v2"

	"sslproxy/internal/httpfilter"
	"sslproxy/internal/teardown"
	"sslproxy/internal/workerpool"
)

// ConnCtx is the parent interception state machine of §3/§4.3.
type ConnCtx struct {
	ID ulid.ULID

	meta   *Meta
	worker *workerpool.Worker

	state State

	src   endpoint
	dst   endpoint
	e2src endpoint

	dstConnected   bool
	e2srcConnected bool
	initialized    bool
	passthrough    bool

	clienthelloSearch bool
	clienthelloFound  bool
	sniPeekRetries    int

	sni        string
	peerAddr   netip.AddrPort
	peerFamily int

	srcHost, srcPort string
	dstHost, dstPort string

	ocspDenied  bool
	ocspChecked bool

	tlsSrcProto, tlsDstProto string
	sslNames                 string
	origCrtFpr, usedCrtFpr   string

	origLeaf      *x509.Certificate
	generatedCert bool
	immutableCert bool
	allocFailed   bool

	reqFilter  httpfilter.ReqState
	respFilter httpfilter.RespState
	mirrorHdr  bool // true once SSLproxy-Addr: has been injected

	dstTLSConfig *tls.Config
	srcTLSConfig *tls.Config
}

// --- teardown.ParentView ---

func (c *ConnCtx) Src() teardown.EndpointView   { return &c.src }
func (c *ConnCtx) E2Src() teardown.EndpointView { return &c.e2src }
func (c *ConnCtx) Initialized() bool            { return c.initialized }
func (c *ConnCtx) HasChildren() bool {
	if c.meta == nil {
		return false
	}
	return len(c.meta.children) > 0
}

// readyForTeardown reports §4.6's parent predicate.
func (c *ConnCtx) readyForTeardown() bool { return teardown.ParentReady(c) }

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
