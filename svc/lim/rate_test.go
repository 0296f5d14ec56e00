package lim

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetRealIPNoProxies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:54321"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	if got := GetRealIP(r, nil); got != "203.0.113.7" {
		t.Errorf("GetRealIP() = %q, want remote addr without port", got)
	}
}

func TestGetRealIPTrustedProxyChain(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.2, 10.0.0.1")

	got := GetRealIP(r, []string{"10.0.0.0/8"})
	if got != "198.51.100.4" {
		t.Errorf("GetRealIP() = %q, want first untrusted hop 198.51.100.4", got)
	}
}

func TestGetRealIPUntrustedRemoteIgnoresXFF(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.9:1000"
	r.Header.Set("X-Forwarded-For", "203.0.113.1")

	if got := GetRealIP(r, []string{"10.0.0.1"}); got != "198.51.100.9" {
		t.Errorf("GetRealIP() = %q, spoofed XFF from untrusted remote must be ignored", got)
	}
}

func TestGetRealIPSkipsMalformedEntries(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.4, not-an-ip, 10.0.0.1")

	if got := GetRealIP(r, []string{"10.0.0.0/8"}); got != "198.51.100.4" {
		t.Errorf("GetRealIP() = %q, want 198.51.100.4", got)
	}
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New() should panic on malformed trusted proxy")
		}
	}()
	New(60, 10, 30, nil, []string{"not-a-cidr/99"})
}

func TestLocalLimiterBurst(t *testing.T) {
	l := New(60, 3, 30, nil, nil)
	defer l.Stop()

	r := httptest.NewRequest(http.MethodPost, "/clip", nil)
	r.RemoteAddr = "203.0.113.5:9999"

	allowed := 0
	for i := 0; i < 10; i++ {
		if res := l.CheckLimit(r, "create_clip"); res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("burst of 3 should allow exactly 3 immediate requests, allowed %d", allowed)
	}
}

func TestLocalLimiterPerIP(t *testing.T) {
	l := New(60, 1, 30, nil, nil)
	defer l.Stop()

	a := httptest.NewRequest(http.MethodPost, "/clip", nil)
	a.RemoteAddr = "203.0.113.5:1"
	b := httptest.NewRequest(http.MethodPost, "/clip", nil)
	b.RemoteAddr = "203.0.113.6:1"

	if !l.CheckLimit(a, "create_clip").Allowed {
		t.Fatal("first request from a should pass")
	}
	if l.CheckLimit(a, "create_clip").Allowed {
		t.Fatal("second request from a should be limited")
	}
	if !l.CheckLimit(b, "create_clip").Allowed {
		t.Fatal("b must not share a's bucket")
	}
}

func TestAdaptiveModeHalvesLimit(t *testing.T) {
	l := New(60, 10, 30, nil, nil)
	defer l.Stop()

	for i := 0; i < 100; i++ {
		l.RecordRequest()
	}
	for i := 0; i < 20; i++ {
		l.RecordError()
	}
	l.rollErrorWindow()

	if !l.isAdaptiveMode() {
		t.Fatal("20% error rate should trigger adaptive mode")
	}

	r := httptest.NewRequest(http.MethodPost, "/clip", nil)
	r.RemoteAddr = "203.0.113.5:1"
	res := l.CheckLimit(r, "create_clip")
	if res.Limit != 15 {
		t.Errorf("adaptive limit = %d, want half of 30", res.Limit)
	}
}

func TestRollErrorWindowIgnoresLowVolume(t *testing.T) {
	l := New(60, 10, 30, nil, nil)
	defer l.Stop()

	l.RecordRequest()
	l.RecordError()
	l.rollErrorWindow()

	if l.isAdaptiveMode() {
		t.Fatal("a single failed request must not trigger adaptive mode")
	}
}
