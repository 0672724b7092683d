package certcache

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func writePEMKey(t *testing.T, path string, key *ecdsa.PrivateKey) {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	blk := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(blk), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
}

func writePEMCert(t *testing.T, path string, der []byte) {
	t.Helper()
	blk := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(blk), 0o644); err != nil {
		t.Fatalf("failed to write cert: %v", err)
	}
}

// newTestCA mints a self-signed CA and returns its on-disk cert/key paths.
func newTestCA(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key := genKey(t)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create CA cert: %v", err)
	}
	certPath = filepath.Join(dir, "ca.crt")
	keyPath = filepath.Join(dir, "ca.key")
	writePEMCert(t, certPath, der)
	writePEMKey(t, keyPath, key)
	return certPath, keyPath
}

// newPeerLeaf mints a self-signed "real" leaf as seen from the destination
// server, standing in for the origin cert the proxy observes.
func newPeerLeaf(t *testing.T, names ...string) *x509.Certificate {
	t.Helper()
	key := genKey(t)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: names[0]},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     names,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create peer leaf: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse peer leaf: %v", err)
	}
	return leaf
}

func TestSelect_ForgesAndCachesByPeerFingerprint(t *testing.T) {
	dir := t.TempDir()
	caCert, caKey := newTestCA(t, dir)

	store, err := NewStore(caCert, caKey, "", "", "", false, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	peer := newPeerLeaf(t, "example.com", "www.example.com")
	rec1, err := store.Select(peer, "example.com")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if !rec1.Generated {
		t.Error("expected a forged record to be marked Generated")
	}
	if rec1.Leaf.Subject.CommonName != "example.com" {
		t.Errorf("expected forged CN to copy peer subject, got %q", rec1.Leaf.Subject.CommonName)
	}

	rec2, err := store.Select(peer, "example.com")
	if err != nil {
		t.Fatalf("second Select failed: %v", err)
	}
	if rec1.Leaf.SerialNumber.Cmp(rec2.Leaf.SerialNumber) != 0 {
		t.Error("expected the second Select to return the cached forged record, not mint a new one")
	}
}

func TestSelect_PrefersTargetDirOverForging(t *testing.T) {
	dir := t.TempDir()
	targetDir := t.TempDir()
	caCert, caKey := newTestCA(t, dir)

	preKey := genKey(t)
	preTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "pinned.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"pinned.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, preTemplate, preTemplate, &preKey.PublicKey, preKey)
	if err != nil {
		t.Fatalf("failed to create pinned cert: %v", err)
	}
	writePEMCert(t, filepath.Join(targetDir, "pinned.example.com.crt"), der)
	writePEMKey(t, filepath.Join(targetDir, "pinned.example.com.key"), preKey)

	store, err := NewStore(caCert, caKey, "", targetDir, "", false, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	peer := newPeerLeaf(t, "pinned.example.com")
	rec, err := store.Select(peer, "pinned.example.com")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if rec.Generated {
		t.Error("expected the pinned target-dir cert to be used, not a forged one")
	}
	if !rec.Immutable {
		t.Error("expected a target-dir record to be marked Immutable")
	}
}

func TestSelect_FallsBackToWildcardInTargetDir(t *testing.T) {
	dir := t.TempDir()
	targetDir := t.TempDir()
	caCert, caKey := newTestCA(t, dir)

	preKey := genKey(t)
	preTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(4),
		Subject:      pkix.Name{CommonName: "*.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"*.example.com"},
	}
	der, err := x509.CreateCertificate(rand.Reader, preTemplate, preTemplate, &preKey.PublicKey, preKey)
	if err != nil {
		t.Fatalf("failed to create wildcard cert: %v", err)
	}
	writePEMCert(t, filepath.Join(targetDir, "*.example.com.crt"), der)
	writePEMKey(t, filepath.Join(targetDir, "*.example.com.key"), preKey)

	store, err := NewStore(caCert, caKey, "", targetDir, "", false, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	peer := newPeerLeaf(t, "sub.example.com")
	rec, err := store.Select(peer, "sub.example.com")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if rec.Generated {
		t.Error("expected wildcard target-dir match, not a forged cert")
	}
}

func TestServernameMismatch_AddsSANAndReplacesForgedEntry(t *testing.T) {
	dir := t.TempDir()
	caCert, caKey := newTestCA(t, dir)

	store, err := NewStore(caCert, caKey, "", "", "", false, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	peer := newPeerLeaf(t, "example.com")
	if _, err := store.Select(peer, "example.com"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	rec, err := store.ServernameMismatch(peer, "other.example.com")
	if err != nil {
		t.Fatalf("ServernameMismatch failed: %v", err)
	}
	found := false
	for _, name := range rec.Leaf.DNSNames {
		if name == "other.example.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected re-forged leaf to carry the mismatched SNI as an extra SAN, got %v", rec.Leaf.DNSNames)
	}

	again, err := store.Select(peer, "example.com")
	if err != nil {
		t.Fatalf("Select after mismatch failed: %v", err)
	}
	if again.Leaf.SerialNumber.Cmp(rec.Leaf.SerialNumber) != 0 {
		t.Error("expected Select to now return the re-forged record for this peer identity")
	}
}

func TestPersist_WritesOnceAndSkipsIdenticalRewrite(t *testing.T) {
	caDir := t.TempDir()
	genDir := t.TempDir()
	caCert, caKey := newTestCA(t, caDir)

	store, err := NewStore(caCert, caKey, "", "", genDir, false, 0)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	peer := newPeerLeaf(t, "persist.example.com")
	if _, err := store.Select(peer, "persist.example.com"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	fpr := Fingerprint(peer)
	matches, err := filepath.Glob(filepath.Join(genDir, fpr+"-*.crt"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one persisted forged cert, got %d", len(matches))
	}

	info1, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	// A second Select hits the forged cache and should not call persist's
	// write path again for the same content.
	if _, err := store.Select(peer, "persist.example.com"); err != nil {
		t.Fatalf("second Select failed: %v", err)
	}
	info2, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("second stat failed: %v", err)
	}
	if info1.ModTime() != info2.ModTime() {
		t.Error("expected persisted file to be untouched by a cache-hit Select")
	}
}

func TestFingerprint_IsStableForSameCertAndDiffersAcrossCerts(t *testing.T) {
	leafA := newPeerLeaf(t, "a.example.com")
	leafB := newPeerLeaf(t, "b.example.com")

	if Fingerprint(leafA) != Fingerprint(leafA) {
		t.Error("expected Fingerprint to be stable for the same certificate")
	}
	if Fingerprint(leafA) == Fingerprint(leafB) {
		t.Error("expected distinct certificates to have distinct fingerprints")
	}
}

func TestSessionGetPut_RoundTripsAndMissesUnknownKey(t *testing.T) {
	store, err := NewStore("", "", "", "", "", false, 2)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	keyA := SessionKey{PeerAddr: "10.0.0.1:443", SNI: "a.example.com"}
	store.SessionPut(keyA, &tls.ClientSessionState{})

	if _, ok := store.SessionGet(keyA); !ok {
		t.Fatal("expected a session to be found after SessionPut")
	}
	if _, ok := store.SessionGet(SessionKey{PeerAddr: "nope", SNI: "nope"}); ok {
		t.Error("expected no session for an unknown key")
	}
}

func TestSessionPut_EvictsOldestBeyondCap(t *testing.T) {
	store, err := NewStore("", "", "", "", "", false, 2)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	keyA := SessionKey{PeerAddr: "a", SNI: "a"}
	keyB := SessionKey{PeerAddr: "b", SNI: "b"}
	keyC := SessionKey{PeerAddr: "c", SNI: "c"}

	store.SessionPut(keyA, &tls.ClientSessionState{})
	store.SessionPut(keyB, &tls.ClientSessionState{})
	store.SessionPut(keyC, &tls.ClientSessionState{})

	if _, ok := store.SessionGet(keyA); ok {
		t.Error("expected the oldest entry to be evicted once the cap was exceeded")
	}
	if _, ok := store.SessionGet(keyB); !ok {
		t.Error("expected the second entry to survive eviction")
	}
	if _, ok := store.SessionGet(keyC); !ok {
		t.Error("expected the newest entry to survive eviction")
	}
}

func TestSessionGet_TouchingEntryProtectsItFromEviction(t *testing.T) {
	store, err := NewStore("", "", "", "", "", false, 2)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	keyA := SessionKey{PeerAddr: "a", SNI: "a"}
	keyB := SessionKey{PeerAddr: "b", SNI: "b"}
	keyC := SessionKey{PeerAddr: "c", SNI: "c"}

	store.SessionPut(keyA, &tls.ClientSessionState{})
	store.SessionPut(keyB, &tls.ClientSessionState{})
	store.SessionGet(keyA) // touch A so B becomes the least-recently-used
	store.SessionPut(keyC, &tls.ClientSessionState{})

	if _, ok := store.SessionGet(keyB); ok {
		t.Error("expected B to be evicted after A was touched more recently")
	}
	if _, ok := store.SessionGet(keyA); !ok {
		t.Error("expected A to survive eviction after being touched")
	}
}
