package clienthello

import "testing"

// buildClientHello constructs a minimal well-formed ClientHello record
// carrying an SNI extension for sni (empty to omit the extension).
func buildClientHello(sni string) []byte {
	var ext []byte
	if sni != "" {
		name := []byte(sni)
		serverNameList := append([]byte{0x00, byte(len(name) >> 8), byte(len(name))}, name...)
		serverNameListWithLen := append([]byte{byte(len(serverNameList) >> 8), byte(len(serverNameList))}, serverNameList...)
		ext = append([]byte{0x00, 0x00, byte(len(serverNameListWithLen) >> 8), byte(len(serverNameListWithLen))}, serverNameListWithLen...)
	}

	body := []byte{}
	body = append(body, 0x03, 0x03) // protocol version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session id len
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites (len=2, one suite)
	body = append(body, 0x01, 0x00)             // compression methods
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	handshake := append([]byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)

	record := append([]byte{0x16, 0x03, 0x03, byte(len(handshake) >> 8), byte(len(handshake))}, handshake...)
	return record
}

func TestParse_CompleteWithSNI(t *testing.T) {
	buf := buildClientHello("example.com")
	res := Parse(buf)
	if !res.Found || !res.Complete {
		t.Fatalf("expected found+complete, got %+v", res)
	}
	if res.SNI != "example.com" {
		t.Errorf("expected SNI example.com, got %q", res.SNI)
	}
}

func TestParse_NotAHandshake(t *testing.T) {
	res := Parse([]byte("GET / HTTP/1.1\r\n"))
	if res.Found {
		t.Errorf("expected Found=false for plaintext HTTP, got %+v", res)
	}
}

func TestParse_TruncatedIsIncompleteNotNotFound(t *testing.T) {
	full := buildClientHello("example.com")
	truncated := full[:len(full)-5]
	res := Parse(truncated)
	if !res.Found {
		t.Fatalf("expected Found=true on truncated ClientHello, got %+v", res)
	}
	if res.Complete {
		t.Errorf("expected Complete=false on truncated ClientHello")
	}
}

func TestParse_NoSNIExtension(t *testing.T) {
	buf := buildClientHello("")
	res := Parse(buf)
	if !res.Found || !res.Complete {
		t.Fatalf("expected found+complete, got %+v", res)
	}
	if res.SNI != "" {
		t.Errorf("expected no SNI, got %q", res.SNI)
	}
}

func TestParse_TooShort(t *testing.T) {
	res := Parse([]byte{0x16, 0x03})
	if res.Found {
		t.Errorf("expected Found=false for a too-short buffer")
	}
}
