// Package clienthello parses enough of a TLS ClientHello to extract the
// SNI extension, grounded on the teacher's extractSNI in
// internal/proxy/server.go — the algorithm is unchanged; this version
// distinguishes "not a handshake at all" from "truncated handshake,
// retry" so the peek loop in the connection state machine (§4.3) can tell
// the two apart.
package clienthello

// Result reports the outcome of a ClientHello parse attempt.
type Result struct {
	// Found is true once the buffer contains at least a parseable
	// ClientHello record header (type 0x16, handshake type 0x01).
	Found bool
	// Complete is true once the SNI extension (or its absence) could be
	// determined without running past the end of the buffer.
	Complete bool
	// SNI is the server name, if any was found.
	SNI string
}

// Parse inspects buf for a TLS ClientHello and extracts the SNI extension.
// It never consumes buf — callers peek, never read destructively.
func Parse(buf []byte) Result {
	if len(buf) < 5 {
		return Result{}
	}

	// TLS record header: ContentType(1) + Version(2) + Length(2).
	if buf[0] != 0x16 {
		return Result{}
	}
	recordLen := int(buf[3])<<8 | int(buf[4])
	pos := 5

	if len(buf) < pos+4 {
		return Result{Found: false, Complete: false}
	}

	// Handshake header: HandshakeType(1) + Length(3).
	if buf[pos] != 0x01 {
		return Result{}
	}
	found := Result{Found: true}
	pos += 4

	if len(buf) < pos+34 {
		return incomplete(found)
	}
	pos += 34 // ProtocolVersion(2) + Random(32)

	if len(buf) < pos+1 {
		return incomplete(found)
	}
	sessionIDLen := int(buf[pos])
	pos += 1 + sessionIDLen

	if len(buf) < pos+2 {
		return incomplete(found)
	}
	cipherSuitesLen := int(buf[pos])<<8 | int(buf[pos+1])
	pos += 2 + cipherSuitesLen

	if len(buf) < pos+1 {
		return incomplete(found)
	}
	compressionLen := int(buf[pos])
	pos += 1 + compressionLen

	if len(buf) < pos+2 {
		return incomplete(found)
	}
	extensionsLen := int(buf[pos])<<8 | int(buf[pos+1])
	pos += 2

	endPos := pos + extensionsLen
	// recordLen bounds how much of the ClientHello the record header
	// promised; if the buffer doesn't reach that far yet, it's truncated
	// rather than malformed.
	if _, recordEnd := 0, 5+recordLen; len(buf) < recordEnd && endPos > len(buf) {
		return incomplete(found)
	}
	if endPos > len(buf) {
		endPos = len(buf)
	}

	for pos+4 <= endPos {
		extType := int(buf[pos])<<8 | int(buf[pos+1])
		extLen := int(buf[pos+2])<<8 | int(buf[pos+3])
		pos += 4

		if extType == 0x0000 { // server_name
			if pos+5 > endPos {
				return incomplete(found)
			}
			if buf[pos+2] != 0x00 { // host_name type
				break
			}
			nameLen := int(buf[pos+3])<<8 | int(buf[pos+4])
			if pos+5+nameLen > endPos {
				return incomplete(found)
			}
			found.Complete = true
			found.SNI = string(buf[pos+5 : pos+5+nameLen])
			return found
		}
		pos += extLen
	}

	found.Complete = true
	return found
}

func incomplete(r Result) Result {
	r.Complete = false
	return r
}
