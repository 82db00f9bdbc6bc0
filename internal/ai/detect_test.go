package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// noNetworkDetector fails the test if any probe goes out.
func noNetworkDetector(t *testing.T) *Detector {
	t.Helper()
	d := NewDetector(nil, time.Second)
	d.Client = &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected network call to %s", r.URL)
		return nil, fmt.Errorf("no network")
	})}
	return d
}

func TestDetect_KeyPrefixNeverProbes(t *testing.T) {
	d := noNetworkDetector(t)
	cases := []struct {
		key    string
		vendor string
	}{
		{"sk-ant-abc123", VendorAnthropic},
		{"AIzaSyExample", VendorGoogle},
		{"sk-abc123", VendorOpenAI},
	}
	for _, tc := range cases {
		det, err := d.Detect(context.Background(), tc.key, "")
		if err != nil {
			t.Fatalf("detect %s: %v", tc.key, err)
		}
		if det.Vendor != tc.vendor || det.Method != "key_prefix" {
			t.Fatalf("key %s: got %+v, want vendor %s via key_prefix", tc.key, det, tc.vendor)
		}
	}
}

func TestDetect_BaseURLHostWinsOverKeyPrefix(t *testing.T) {
	d := noNetworkDetector(t)
	// the key says openai, the host says anthropic; the host is authoritative
	det, err := d.Detect(context.Background(), "sk-abc", "https://api.anthropic.com/v1")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if det.Vendor != VendorAnthropic || det.Method != "base_url" {
		t.Fatalf("got %+v, want anthropic via base_url", det)
	}
}

// anthropicOnlyServer answers the anthropic probe with its models schema and
// every other probe with an unclassifiable body.
func anthropicOnlyServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") != "" {
			fmt.Fprint(w, `{"data":[{"type":"model","id":"claude-x"}]}`)
			return
		}
		http.Error(w, "not here", http.StatusNotFound)
	}))
}

func TestDetect_ProbeIdentifiesAndCaches(t *testing.T) {
	srv := anthropicOnlyServer()
	defer srv.Close()

	d := NewDetector(nil, time.Second)
	det, err := d.Detect(context.Background(), "opaque-key", srv.URL)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if det.Vendor != VendorAnthropic || det.Method != "probe" {
		t.Fatalf("got %+v, want anthropic via probe", det)
	}

	// second detection must come from the cache, not another probe round
	srv.Close()
	det, err = d.Detect(context.Background(), "opaque-key", srv.URL)
	if err != nil {
		t.Fatalf("cached detect: %v", err)
	}
	if det.Vendor != VendorAnthropic || det.Method != "cache" {
		t.Fatalf("got %+v, want anthropic via cache", det)
	}

	// invalidation forgets the endpoint pair
	d.Invalidate(context.Background(), srv.URL, "opaque-key")
	if _, ok := d.Cache.Get(context.Background(), CacheKey(srv.URL, "opaque-key")); ok {
		t.Fatalf("expected cache entry removed")
	}
}

func TestDetect_AmbiguousProbeReturnsCandidatesUncached(t *testing.T) {
	// a body that satisfies both the openai and anthropic success schemas
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[{"object":"model","type":"model","id":"x"}]}`)
	}))
	defer srv.Close()

	d := NewDetector(nil, time.Second)
	det, err := d.Detect(context.Background(), "opaque-key", srv.URL)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if det.Vendor != "" {
		t.Fatalf("ambiguous probe must not pick a vendor, got %q", det.Vendor)
	}
	if len(det.Candidates) != 2 || det.Candidates[0] != VendorAnthropic || det.Candidates[1] != VendorOpenAI {
		t.Fatalf("unexpected candidates: %v", det.Candidates)
	}
	if _, ok := d.Cache.Get(context.Background(), CacheKey(srv.URL, "opaque-key")); ok {
		t.Fatalf("ambiguous result must not be cached")
	}
}

func TestDetect_AllProbesFail(t *testing.T) {
	apiKey := "opaque-secret-key"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// echo the credential back so redaction is observable
		http.Error(w, "rejected key "+apiKey, http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDetector(nil, time.Second)
	_, err := d.Detect(context.Background(), apiKey, srv.URL)
	de, ok := err.(*DetectionError)
	if !ok {
		t.Fatalf("expected DetectionError, got %v", err)
	}
	if de.Retryable {
		t.Fatalf("non-timeout failures must not be retryable")
	}
	if len(de.Attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(de.Attempts))
	}
	for _, a := range de.Attempts {
		if strings.Contains(a.Body, apiKey) {
			t.Fatalf("attempt body leaks the api key: %q", a.Body)
		}
		if !strings.Contains(a.Body, "[redacted]") {
			t.Fatalf("expected redaction marker in body: %q", a.Body)
		}
	}
}

func TestDetect_RetriesExactlyOnceAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vendor := "openai"
		switch {
		case r.Header.Get("anthropic-version") != "":
			vendor = "anthropic"
		case r.Header.Get("x-goog-api-key") != "":
			vendor = "google"
		}
		mu.Lock()
		calls[vendor]++
		n := calls[vendor]
		mu.Unlock()

		if vendor == "anthropic" && n == 1 {
			time.Sleep(400 * time.Millisecond) // first anthropic probe times out
			return
		}
		if vendor == "anthropic" {
			fmt.Fprint(w, `{"data":[{"type":"model","id":"claude-x"}]}`)
			return
		}
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDetector(nil, 100*time.Millisecond)
	det, err := d.Detect(context.Background(), "opaque-key", srv.URL)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if det.Vendor != VendorAnthropic || det.Method != "probe" {
		t.Fatalf("got %+v, want anthropic via probe after retry", det)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls["anthropic"] != 2 {
		t.Fatalf("expected exactly one retry for anthropic, got %d calls", calls["anthropic"])
	}
	if calls["openai"] != 1 || calls["google"] != 1 {
		t.Fatalf("non-timeout probes must not retry: %v", calls)
	}
}

func TestCacheKey_DiffersPerCredential(t *testing.T) {
	a := CacheKey("https://x", "key1")
	b := CacheKey("https://x", "key2")
	c := CacheKey("https://y", "key1")
	if a == b || a == c {
		t.Fatalf("cache keys must differ per endpoint pair")
	}
}
