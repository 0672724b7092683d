package connctx

import (
	"strings"

	"sslproxy/internal/config"
	"sslproxy/internal/ui"
)

// emitConnectLog renders the §6 connect-log line for a parent interception
// that just released, and prints it via the colored console logger.
// Missing fields render as "-".
func emitConnectLog(c *ConnCtx, abortReason string) {
	fields := []string{
		connectKind(c),
		dashIfEmpty(c.srcHost),
		dashIfEmpty(c.srcPort),
		dashIfEmpty(c.dstHost),
		dashIfEmpty(c.dstPort),
	}

	spec := c.meta.listener.Spec
	wantTLS := spec.Protocol == config.ProtoSSL || spec.Protocol == config.ProtoAutoSSL

	if wantTLS && !c.passthrough {
		fields = append(fields,
			"sni:"+dashIfEmpty(c.sni),
			"names:"+dashIfEmpty(c.sslNames),
			"sproto:"+dashIfEmpty(c.tlsSrcProto),
			"dproto:"+dashIfEmpty(c.tlsDstProto),
			"origcrt:"+dashIfEmpty(c.origCrtFpr),
			"usedcrt:"+dashIfEmpty(c.usedCrtFpr),
		)
	}

	if c.reqFilter.Method != "" {
		fields = append(fields,
			dashIfEmpty(c.reqFilter.Host),
			dashIfEmpty(c.reqFilter.Method),
			dashIfEmpty(c.reqFilter.URI),
			dashIfEmpty(c.respFilter.StatusCode),
			dashIfEmpty(c.respFilter.ContentLength),
		)
	}

	// lproc is always "-": process-info lookup is out of scope (§1).
	fields = append(fields, "lproc:-")

	if c.ocspDenied {
		fields = append(fields, "ocsp:denied")
	}
	if abortReason != "" {
		fields = append(fields, "abort:"+abortReason)
	}

	ui.LogConnect(strings.Join(fields, " "))
}


func connectKind(c *ConnCtx) string {
	spec := c.meta.listener.Spec
	switch {
	case c.passthrough:
		return "passthrough"
	case c.reqFilter.Method != "" && (spec.Protocol == config.ProtoSSL || spec.Protocol == config.ProtoAutoSSL):
		return "https"
	case c.reqFilter.Method != "":
		return "http"
	case spec.Protocol == config.ProtoAutoSSL && c.clienthelloFound:
		return "upgrade"
	case spec.Protocol == config.ProtoSSL:
		return "ssl"
	default:
		return "tcp"
	}
}
