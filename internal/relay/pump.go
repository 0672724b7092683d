package relay

import (
	"context"

	"sslproxy/internal/httpfilter"
	"sslproxy/internal/pipe"
)

// Pump implements one direction of §4.5's relay rule: drain from's
// buffered input, run it through filter (nil for unfiltered child
// relaying), and queue the result on to's output.
func Pump(ctx context.Context, from, to *pipe.Pipe, filter LineFilter) {
	if ctx.Err() != nil {
		return
	}
	data := from.ReadInput(0)
	if len(data) == 0 {
		return
	}
	if filter != nil {
		data = filter.Feed(data)
	}
	if len(data) > 0 {
		to.WriteOutput(data)
	}
}

// RequestInjector wraps a HeaderScanner for the parent's src→e2src
// direction, injecting the mirror-listener address header at most once:
// injection is attempted only on the first forwarded segment, and if that
// segment does not contain the header-block boundary no header is
// injected at all (§4.4/§9 — a known, intentionally unfixed limitation).
type RequestInjector struct {
	scanner    *HeaderScanner
	mirrorAddr string
	attempted  bool
}

// NewRequestInjector builds a request-direction LineFilter that applies
// the header filter and then injects the mirror address header.
func NewRequestInjector(filter HeaderLineFunc, trailer func() []byte, mirrorAddr string) *RequestInjector {
	return &RequestInjector{scanner: NewHeaderScanner(filter, trailer), mirrorAddr: mirrorAddr}
}

// Feed implements LineFilter.
func (r *RequestInjector) Feed(data []byte) []byte {
	out := r.scanner.Feed(data)
	if r.attempted {
		return out
	}
	r.attempted = true
	if injected, ok := httpfilter.InjectMirrorAddr(out, r.mirrorAddr); ok {
		return injected
	}
	return out
}
