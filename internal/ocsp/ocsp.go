// Package ocsp recognizes OCSP requests embedded in HTTP GET/POST bodies
// so the connection state machine can deny them per §4.3/§6, grounded on
// the original C source's pxy_ocsp_is_valid_uri / pxy_ocsp_deny.
package ocsp

import (
	"encoding/base64"
	"net/url"
	"strings"

	"golang.org/x/crypto/ocsp"
)

// DenyResponse is the exact byte-for-byte OCSP tryLater response from §6.
func DenyResponse() []byte {
	return []byte(
		"HTTP/1.0 200 OK\r\n" +
			"Content-Type: application/ocsp-response\r\n" +
			"Content-Length: 5\r\n" +
			"Connection: close\r\n" +
			"\r\n" +
			"\x30\x03\x0a\x01\x03")
}

// IsGetURI returns true if uri's final path segment decodes (URL-decode,
// then base64url) to an ASN.1 blob that is an OCSP request: it must begin
// with a SEQUENCE tag (0x30), be longer than 32 bytes, have no query
// string, and parse as a well-formed OCSP request.
func IsGetURI(uri string) bool {
	idx := strings.LastIndexByte(uri, '/')
	if idx < 0 {
		return false
	}
	seg := uri[idx+1:]
	if seg == "" {
		return false
	}
	if seg[0] != 'M' && seg[0] != '%' {
		return false
	}
	if strings.ContainsRune(uri, '?') {
		return false
	}
	if len(seg) < 32 {
		return false
	}

	decodedURL, err := url.QueryUnescape(seg)
	if err != nil {
		return false
	}

	der, err := base64.StdEncoding.DecodeString(decodedURL)
	if err != nil {
		// OCSP GET URIs use unpadded/URL-safe variants in the wild;
		// try the more permissive decoder before giving up.
		der, err = base64.RawURLEncoding.DecodeString(decodedURL)
		if err != nil {
			return false
		}
	}

	return isOCSPRequest(der)
}

// IsPostContentType returns true if the Content-Type header value names an
// OCSP request body.
func IsPostContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/ocsp-request")
}

func isOCSPRequest(der []byte) bool {
	if len(der) <= 32 {
		return false
	}
	if der[0] != 0x30 {
		return false
	}
	_, err := ocsp.ParseRequest(der)
	return err == nil
}
