// Package connctx implements the per-connection state machine of §4.3 (the
// parent interception) and its mirror child of §3/§4.3, sharing the
// meta-context and mutex described in §3 and §5.
//
// Grounded on the teacher's HandleConnection in internal/proxy/server.go
// and internal/proxy/handler.go for the TLS-terminate-then-relay shape;
// generalized from one blocking goroutine per connection into an explicit
// state plus a dispatch run under the meta-context's mutex, per the Design
// Notes' "callback-driven state machine" guidance.
package connctx

import "time"

// State is one of the parent interception's states, exactly as the table
// in §4.3.
type State int

const (
	StateAccepted State = iota
	StatePeeking
	StateResolving
	StateConnectingDst
	StateDstConnected
	StateFullyConnected
	StateRelaying
	StateTeardown
	StateAbort
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "ACCEPTED"
	case StatePeeking:
		return "PEEKING"
	case StateResolving:
		return "RESOLVING"
	case StateConnectingDst:
		return "CONNECTING_DST"
	case StateDstConnected:
		return "DST_CONNECTED"
	case StateFullyConnected:
		return "FULLY_CONNECTED"
	case StateRelaying:
		return "RELAYING"
	case StateTeardown:
		return "TEARDOWN"
	case StateAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// maxSNIPeekRetries and sniPeekDelay implement §4.3/§6's bounded peek:
// 50 retries at a fixed ~100ms delay, about 5 seconds total. Both are
// overridable per-process via EnvConfig (see sniPeekLimits in accept.go).
const (
	maxSNIPeekRetries = 50
	sniPeekDelay      = 100 * time.Millisecond
	sniPeekBufSize    = 1024
)
