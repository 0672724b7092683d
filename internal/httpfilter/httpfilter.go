// Package httpfilter implements the line-oriented HTTP/1.x header
// rewriting described in §4.4: request-direction header stripping plus
// the one-shot mirror-address injection, and response-direction header
// stripping.
package httpfilter

import (
	"bytes"
	"net"
	"strings"
)

// ReqState accumulates request-header filter state across the header
// block of one HTTP request. Once HeadersDone is set, every later line
// passes through unfiltered; the connection state machine keeps one
// ReqState per interception, so only the first request is filtered.
type ReqState struct {
	HeadersDone   bool
	NonHTTP       bool
	HTTP09        bool
	SawConnection bool

	Method  string
	URI     string
	Version string
	Host    string
	ContentType string
}

// RespState accumulates response-header filter state.
type RespState struct {
	HeadersDone bool
	NonHTTP     bool

	StatusCode    string
	StatusText    string
	ContentLength string
}

var dropRequestPrefixes = []string{"Accept-Encoding:", "Keep-Alive:"}
var dropResponsePrefixes = []string{
	"Public-Key-Pins:",
	"Public-Key-Pins-Report-Only:",
	"Strict-Transport-Security:",
	"Alternate-Protocol:",
}

// FilterRequestLine applies the request-direction rule of §4.4 to a single
// header line (without its trailing CRLF). It returns the line to forward
// (nil to drop it) and whether the header block just ended.
func FilterRequestLine(st *ReqState, line []byte) (out []byte, endOfHeaders bool) {
	if st.HeadersDone {
		return line, false
	}

	if st.Method == "" && !st.NonHTTP {
		parts := bytes.SplitN(line, []byte(" "), 3)
		switch len(parts) {
		case 3:
			st.Method = string(parts[0])
			st.URI = string(parts[1])
			st.Version = string(parts[2])
		case 2:
			st.Method = string(parts[0])
			st.URI = string(parts[1])
			st.HTTP09 = true
			st.HeadersDone = true
			return line, true
		default:
			st.NonHTTP = true
			st.HeadersDone = true
			return line, true
		}
		return line, false
	}

	if len(line) == 0 {
		if !st.SawConnection {
			st.HeadersDone = true
			return line, true
		}
		st.HeadersDone = true
		return line, true
	}

	lowerHasPrefix := func(prefix string) bool {
		return len(line) >= len(prefix) && strings.EqualFold(string(line[:len(prefix)]), prefix)
	}

	switch {
	case lowerHasPrefix("Host:"):
		st.Host = strings.TrimSpace(string(line[5:]))
		return line, false
	case lowerHasPrefix("Content-Type:"):
		st.ContentType = strings.TrimSpace(string(line[13:]))
		return line, false
	case lowerHasPrefix("Connection:"):
		st.SawConnection = true
		return []byte("Connection: close"), false
	default:
		for _, p := range dropRequestPrefixes {
			if lowerHasPrefix(p) {
				return nil, false
			}
		}
		return line, false
	}
}

// InjectConnectionClose returns the extra line to insert before the blank
// line that ends the header block, when no Connection: header was seen.
func (st *ReqState) InjectConnectionClose() []byte {
	if st.SawConnection || st.HTTP09 || st.NonHTTP {
		return nil
	}
	return []byte("Connection: close\r\n")
}

// FilterResponseLine applies the response-direction rule of §4.4.
func FilterResponseLine(st *RespState, line []byte) (out []byte, endOfHeaders bool) {
	if st.HeadersDone {
		return line, false
	}

	if st.StatusCode == "" && !st.NonHTTP {
		if !bytes.HasPrefix(line, []byte("HTTP")) {
			st.NonHTTP = true
			st.HeadersDone = true
			return line, true
		}
		parts := bytes.SplitN(line, []byte(" "), 3)
		if len(parts) >= 2 {
			st.StatusCode = string(parts[1])
		}
		if len(parts) == 3 {
			st.StatusText = string(parts[2])
		}
		return line, false
	}

	if len(line) == 0 {
		st.HeadersDone = true
		return line, true
	}

	lowerHasPrefix := func(prefix string) bool {
		return len(line) >= len(prefix) && strings.EqualFold(string(line[:len(prefix)]), prefix)
	}

	if lowerHasPrefix("Content-Length:") {
		st.ContentLength = strings.TrimSpace(string(line[15:]))
		return line, false
	}

	for _, p := range dropResponsePrefixes {
		if lowerHasPrefix(p) {
			return nil, false
		}
	}

	return line, false
}

// mirrorAddrPrefix is the literal header name used by InjectMirrorAddr.
const mirrorAddrPrefix = "SSLproxy-Addr"

// InjectMirrorAddr inserts "\r\nSSLproxy-Addr: [<ip>]:<port>" immediately
// before the first "\r\n\r\n" found in buf. Per §4.4/§9, this only
// operates on the exact buffer handed to it — if the boundary isn't in
// this buffer, the data is returned unchanged and the caller must not
// retry against later buffers: injection is a one-shot, first-segment-only
// operation.
func InjectMirrorAddr(buf []byte, addr string) (out []byte, injected bool) {
	const boundary = "\r\n\r\n"
	idx := bytes.Index(buf, []byte(boundary))
	if idx < 0 {
		return buf, false
	}

	header := "\r\n" + mirrorAddrPrefix + ": " + bracketHostPort(addr)
	out = make([]byte, 0, len(buf)+len(header))
	out = append(out, buf[:idx]...)
	out = append(out, header...)
	out = append(out, buf[idx:]...)
	return out, true
}

// bracketHostPort renders a dialable "host:port" string (as returned by
// net.Listener.Addr().String(), unbracketed even for IPv4) as the
// "[host]:port" form the header is specified to carry.
func bracketHostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return "[" + host + "]:" + port
}
