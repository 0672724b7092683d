// Package teardown implements the release predicates and close-ordering
// procedure of §4.6: when a parent or child interception is ready to be
// freed, and how its endpoints are closed without losing errors.
package teardown

import (
	"io"

	multierror "github.com/hashicorp/go-multierror"
)

// EndpointView is the minimal liveness/queue state teardown predicates
// need from one pipe endpoint.
type EndpointView interface {
	EOF() bool
	InputLen() int
	OutputLen() int
}

// ParentView exposes the parent fields §4.6's predicate consults.
type ParentView interface {
	Src() EndpointView
	E2Src() EndpointView
	Initialized() bool
	HasChildren() bool
}

// ChildView exposes the child fields §4.6's predicate consults, including
// the parent's EOF flags when still attached.
type ChildView interface {
	E2Dst() EndpointView
	Dst() EndpointView
	ParentAttached() bool
	ParentSrcEOF() bool
	ParentE2SrcEOF() bool
}

// ParentReady implements the parent ready-to-free predicate of §4.6
// exactly.
func ParentReady(p ParentView) bool {
	src := p.Src()
	e2src := p.E2Src()
	srcClosed := src.EOF()
	e2srcClosed := e2src.EOF()

	if !srcClosed && !e2srcClosed {
		return false
	}
	if srcClosed && src.InputLen() > 0 && !e2srcClosed {
		return false
	}
	if e2srcClosed && e2src.InputLen() > 0 && !srcClosed {
		return false
	}
	if (srcClosed || e2srcClosed) && !p.Initialized() {
		return true
	}
	if srcClosed && e2srcClosed {
		return true
	}
	if srcClosed && e2src.OutputLen() == 0 {
		return true
	}
	if e2srcClosed && src.OutputLen() == 0 {
		return true
	}
	if p.Initialized() && !p.HasChildren() {
		return true
	}
	return false
}

// ChildReady implements the child ready-to-free predicate of §4.6,
// analogous over e2dst/dst and also ready when the parent is gone or
// already tearing down both its sides.
func ChildReady(c ChildView) bool {
	if !c.ParentAttached() {
		return true
	}
	if c.ParentSrcEOF() && c.ParentE2SrcEOF() {
		return true
	}

	e2dst := c.E2Dst()
	dst := c.Dst()
	e2dstClosed := e2dst.EOF()
	dstClosed := dst.EOF()

	if !e2dstClosed && !dstClosed {
		return false
	}
	if e2dstClosed && e2dst.InputLen() > 0 && !dstClosed {
		return false
	}
	if dstClosed && dst.InputLen() > 0 && !e2dstClosed {
		return false
	}
	if e2dstClosed && dstClosed {
		return true
	}
	if e2dstClosed && dst.OutputLen() == 0 {
		return true
	}
	if dstClosed && e2dst.OutputLen() == 0 {
		return true
	}
	return false
}

// ReleaseAll closes every non-nil closer in order, aggregating any errors
// instead of discarding them (§4.6's release procedure; §9's "error
// aggregation" Design Note).
func ReleaseAll(closers ...io.Closer) error {
	var result *multierror.Error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}
