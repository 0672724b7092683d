package connctx

import "sslproxy/internal/pipe"

// endpoint is one of the four pipe slots of §3: a byte-pipe, an EOF flag,
// and a closed flag, with the invariant that the two are never both live.
type endpoint struct {
	pipe   *pipe.Pipe
	eof    bool
	closed bool
}

func (e *endpoint) EOF() bool { return e.eof }

func (e *endpoint) InputLen() int {
	if e.pipe == nil {
		return 0
	}
	return e.pipe.InputLen()
}

func (e *endpoint) OutputLen() int {
	if e.pipe == nil {
		return 0
	}
	return e.pipe.OutputLen()
}

// Close closes the endpoint's pipe, if any, and marks it closed. Satisfies
// io.Closer so endpoints can be passed directly to teardown.ReleaseAll.
func (e *endpoint) Close() error {
	if e.closed || e.pipe == nil {
		e.closed = true
		return nil
	}
	e.closed = true
	return e.pipe.Release()
}
