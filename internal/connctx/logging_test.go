package connctx

import (
	"testing"

	"sslproxy/internal/config"
	"sslproxy/internal/httpfilter"
)

func newTestConnCtx(spec *config.ListenerSpec) *ConnCtx {
	return &ConnCtx{meta: &Meta{listener: &ListenerCtx{Spec: spec}}}
}

func TestConnectKind_TCPByDefault(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoTCP})
	if got := connectKind(c); got != "tcp" {
		t.Errorf("expected %q, got %q", "tcp", got)
	}
}

func TestConnectKind_SSLWithoutHTTP(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoSSL})
	if got := connectKind(c); got != "ssl" {
		t.Errorf("expected %q, got %q", "ssl", got)
	}
}

func TestConnectKind_HTTPSWhenRequestParsedOverTLS(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoSSL})
	c.reqFilter.Method = "GET"
	if got := connectKind(c); got != "https" {
		t.Errorf("expected %q, got %q", "https", got)
	}
}

func TestConnectKind_HTTPWhenRequestParsedOverPlainTCP(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoTCP})
	c.reqFilter.Method = "GET"
	if got := connectKind(c); got != "http" {
		t.Errorf("expected %q, got %q", "http", got)
	}
}

func TestConnectKind_UpgradeWhenAutoSSLFoundClientHello(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoAutoSSL})
	c.clienthelloFound = true
	if got := connectKind(c); got != "upgrade" {
		t.Errorf("expected %q, got %q", "upgrade", got)
	}
}

func TestConnectKind_PassthroughTakesPriorityOverEverything(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoSSL})
	c.passthrough = true
	c.reqFilter.Method = "GET"
	if got := connectKind(c); got != "passthrough" {
		t.Errorf("expected %q, got %q", "passthrough", got)
	}
}

func TestDashIfEmpty(t *testing.T) {
	if got := dashIfEmpty(""); got != "-" {
		t.Errorf("expected %q for empty input, got %q", "-", got)
	}
	if got := dashIfEmpty("value"); got != "value" {
		t.Errorf("expected non-empty input passed through, got %q", got)
	}
}

func TestSniPeekLimits_DefaultsWhenEnvUnset(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoAutoSSL})
	c.meta.listener.Config = &config.Config{}
	retries, delay := c.sniPeekLimits()
	if retries != maxSNIPeekRetries {
		t.Errorf("expected default retries %d, got %d", maxSNIPeekRetries, retries)
	}
	if delay != sniPeekDelay {
		t.Errorf("expected default delay %v, got %v", sniPeekDelay, delay)
	}
}

func TestSniPeekLimits_OverriddenByEnvConfig(t *testing.T) {
	c := newTestConnCtx(&config.ListenerSpec{Protocol: config.ProtoAutoSSL})
	c.meta.listener.Config = &config.Config{Env: &config.EnvConfig{SNIPeekRetries: 5, SNIPeekDelayMS: 25}}
	retries, delay := c.sniPeekLimits()
	if retries != 5 {
		t.Errorf("expected overridden retries 5, got %d", retries)
	}
	if delay != 25_000_000 {
		t.Errorf("expected overridden delay 25ms, got %v", delay)
	}
}

func TestReqState_ZeroValueHasEmptyMethod(t *testing.T) {
	var st httpfilter.ReqState
	if st.Method != "" {
		t.Error("expected zero-value ReqState to have an empty Method")
	}
}
