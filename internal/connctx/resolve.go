package connctx

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"sslproxy/internal/certcache"
	"sslproxy/internal/config"
	"sslproxy/internal/nat"
	"sslproxy/internal/pipe"
)

// resolveDst implements the RESOLVING state of §4.3: NAT lookup, static
// forwarding, or SNI-driven DNS, depending on the listener spec.
func (c *ConnCtx) resolveDst(ctx context.Context) {
	spec := c.meta.listener.Spec

	if target, ok := nat.StaticTarget(spec); ok {
		c.dstHost, c.dstPort, _ = net.SplitHostPort(target)
		c.state = StateConnectingDst
		c.connectDst(ctx, target)
		return
	}

	if spec.NAT == config.NATKernel {
		tcpConn, ok := c.src.pipe.Conn().(*net.TCPConn)
		if !ok {
			c.abort(ctx, "NAT lookup requires a TCP connection")
			return
		}
		addrPort, err := nat.LookupOriginalDst(tcpConn)
		if err != nil {
			c.abort(ctx, "NAT lookup miss: "+err.Error())
			return
		}
		c.dstHost, c.dstPort = addrPort.Addr().String(), fmt.Sprint(addrPort.Port())
		c.state = StateConnectingDst
		c.connectDst(ctx, addrPort.String())
		return
	}

	if c.sni == "" {
		c.abort(ctx, "no NAT/static target and no SNI observed")
		return
	}

	go func() {
		port := uint16(443)
		addrPort, err := nat.ResolveSNI(ctx, c.worker.Resolver(), c.sni, c.peerFamily, port)
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			if err != nil {
				c.abort(ctx, "Cannot resolve SNI hostname")
				return
			}
			c.dstHost, c.dstPort = addrPort.Addr().String(), fmt.Sprint(addrPort.Port())
			c.state = StateConnectingDst
			c.connectDst(ctx, addrPort.String())
		})
	}()
}

// connectDst implements the CONNECTING_DST state: dial the resolved
// address, optionally wrapping with TLS unless passthrough was already
// selected.
func (c *ConnCtx) connectDst(ctx context.Context, addr string) {
	spec := c.meta.listener.Spec
	// autossl's dst side-channel connects plain; it is only upgraded to
	// TLS in place later, if and when the in-band peek finds a
	// ClientHello on src (see relaying.go's upgradeDstThenSrc).
	wantTLS := spec.Protocol == config.ProtoSSL && !c.passthrough

	c.dst.pipe = pipe.Dial(ctx, "tcp", addr, func(err error) {
		c.worker.Submit(func() {
			c.meta.mu.Lock()
			defer c.meta.mu.Unlock()
			c.onDstConnectEvent(ctx, err, wantTLS)
		})
	})
	c.meta.dstAddr = addr
}

func (c *ConnCtx) onDstConnectEvent(ctx context.Context, err error, wantTLS bool) {
	if c.state != StateConnectingDst {
		return
	}
	if err != nil {
		if spec := c.meta.listener.Spec; wantTLS && spec.PassthroughOnFail && !c.allocFailed {
			c.passthrough = true
			c.connectDst(ctx, c.meta.dstAddr)
			return
		}
		c.abort(ctx, "dst connect failed: "+err.Error())
		return
	}

	if wantTLS {
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
				c.onDstHandshakeDone(ctx, herr)
			})
		}()
		return
	}

	c.dstConnected = true
	c.state = StateDstConnected
	c.openMirrorListener(ctx)
}

func (c *ConnCtx) onDstHandshakeDone(ctx context.Context, err error) {
	if c.state != StateConnectingDst {
		return
	}
	if err != nil {
		spec := c.meta.listener.Spec
		if spec.PassthroughOnFail && !c.allocFailed {
			c.passthrough = true
			_ = c.dst.pipe.Release()
			c.dst.pipe = nil
			c.connectDst(ctx, c.meta.dstAddr)
			return
		}
		c.abort(ctx, "dst TLS handshake failed: "+err.Error())
		return
	}
	if state, ok := c.dst.pipe.TLSConnectionState(); ok {
		if len(state.PeerCertificates) > 0 {
			c.origLeaf = state.PeerCertificates[0]
		}
		c.tlsDstProto = tlsProtoString(state)
	}

	c.dstConnected = true
	c.state = StateDstConnected
	c.openMirrorListener(ctx)
}

func tlsProtoString(state tls.ConnectionState) string {
	return fmt.Sprintf("%s:%s", tlsVersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLSv1.0"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return "unknown"
	}
}
