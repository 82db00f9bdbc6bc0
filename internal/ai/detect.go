package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// DetectionCache stores probe-derived vendor identifications keyed by a
// hash of (baseURL, apiKey). Heuristic results are never cached.
type DetectionCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, vendor string)
	Delete(ctx context.Context, key string)
}

// MemoryCache is the in-process DetectionCache. Production wiring uses the
// redis-backed implementation in internal/store/redisstore.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{m: make(map[string]string)} }

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MemoryCache) Set(_ context.Context, key, vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = vendor
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

type Detection struct {
	Vendor string `json:"vendor,omitempty"`
	// Method is how the vendor was identified: base_url, key_prefix,
	// cache or probe.
	Method string `json:"method"`
	// Candidates holds every matching vendor when the probes could not
	// narrow the answer to one; the caller disambiguates.
	Candidates []string `json:"candidates,omitempty"`
}

type ProbeAttempt struct {
	Vendor  string `json:"vendor"`
	Status  int    `json:"status"`
	Body    string `json:"body"` // truncated, credential-redacted
	Err     string `json:"error,omitempty"`
	Timeout bool   `json:"timeout"`
}

// DetectionError reports a probe round that identified no vendor.
// Retryable is true only when every attempt failed by timeout.
type DetectionError struct {
	Attempts  []ProbeAttempt
	Retryable bool
}

func (e *DetectionError) Error() string {
	tried := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		tried = append(tried, a.Vendor)
	}
	return fmt.Sprintf("provider detection failed (tried %s)", strings.Join(tried, ", "))
}

var vendorHosts = map[string]string{
	"api.openai.com":                    VendorOpenAI,
	"api.anthropic.com":                 VendorAnthropic,
	"generativelanguage.googleapis.com": VendorGoogle,
}

type Detector struct {
	Cache        DetectionCache
	ProbeTimeout time.Duration
	Client       *http.Client
}

func NewDetector(cache DetectionCache, probeTimeout time.Duration) *Detector {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Detector{Cache: cache, ProbeTimeout: probeTimeout, Client: &http.Client{}}
}

// CacheKey hashes the endpoint pair; any credential or baseURL change
// lands on a different key, so stale entries can never be read back.
func CacheKey(baseURL, apiKey string) string {
	sum := sha256.Sum256([]byte(baseURL + "\x00" + apiKey))
	return "detect:" + hex.EncodeToString(sum[:])
}

// Invalidate drops the cached probe result for an endpoint pair.
func (d *Detector) Invalidate(ctx context.Context, baseURL, apiKey string) {
	d.Cache.Delete(ctx, CacheKey(baseURL, apiKey))
}

// Detect identifies the vendor behind (apiKey, baseURL). Strategy order:
// base-URL hostname, key prefix, cached probe result, then one parallel
// probe round against every known vendor.
func (d *Detector) Detect(ctx context.Context, apiKey, baseURL string) (*Detection, error) {
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			if v, ok := vendorHosts[strings.ToLower(u.Hostname())]; ok {
				return &Detection{Vendor: v, Method: "base_url"}, nil
			}
		}
	}

	switch {
	case strings.HasPrefix(apiKey, "sk-ant-"):
		return &Detection{Vendor: VendorAnthropic, Method: "key_prefix"}, nil
	case strings.HasPrefix(apiKey, "AIza"):
		return &Detection{Vendor: VendorGoogle, Method: "key_prefix"}, nil
	case strings.HasPrefix(apiKey, "sk-"):
		return &Detection{Vendor: VendorOpenAI, Method: "key_prefix"}, nil
	}

	key := CacheKey(baseURL, apiKey)
	if v, ok := d.Cache.Get(ctx, key); ok {
		return &Detection{Vendor: v, Method: "cache"}, nil
	}

	det, err := d.probeAll(ctx, apiKey, baseURL)
	if err != nil {
		return nil, err
	}
	if det.Vendor != "" {
		d.Cache.Set(ctx, key, det.Vendor)
	}
	return det, nil
}

func (d *Detector) probeAll(ctx context.Context, apiKey, baseURL string) (*Detection, error) {
	vendors := []string{VendorOpenAI, VendorAnthropic, VendorGoogle}

	type result struct {
		vendor  string
		matched bool
		attempt ProbeAttempt
	}
	results := make(chan result, len(vendors))

	for _, v := range vendors {
		go func(vendor string) {
			matched, attempt := d.probeOnce(ctx, vendor, apiKey, baseURL)
			// exactly one retry, and only after a timeout
			if !matched && attempt.Timeout {
				matched, attempt = d.probeOnce(ctx, vendor, apiKey, baseURL)
			}
			results <- result{vendor: vendor, matched: matched, attempt: attempt}
		}(v)
	}

	var matches []string
	attempts := make([]ProbeAttempt, 0, len(vendors))
	allTimeout := true
	for range vendors {
		r := <-results
		attempts = append(attempts, r.attempt)
		if r.matched {
			matches = append(matches, r.vendor)
		}
		if !r.attempt.Timeout {
			allTimeout = false
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Vendor < attempts[j].Vendor })
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return nil, &DetectionError{Attempts: attempts, Retryable: allTimeout}
	case 1:
		return &Detection{Vendor: matches[0], Method: "probe"}, nil
	default:
		return &Detection{Method: "probe", Candidates: matches}, nil
	}
}

// probeOnce issues one low-cost list-models request and classifies the
// response body by schema shape. A success-schema match is authoritative;
// a structured vendor error also counts, since it proves who answered.
func (d *Detector) probeOnce(ctx context.Context, vendor, apiKey, baseURL string) (bool, ProbeAttempt) {
	attempt := ProbeAttempt{Vendor: vendor}

	pctx, cancel := context.WithTimeout(ctx, d.ProbeTimeout)
	defer cancel()

	req, err := d.probeRequest(pctx, vendor, apiKey, baseURL)
	if err != nil {
		attempt.Err = err.Error()
		return false, attempt
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		terr := errFromTransport(vendor, err)
		attempt.Err = terr.Error()
		attempt.Timeout = IsTimeout(terr)
		return false, attempt
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	attempt.Status = resp.StatusCode
	attempt.Body = redact(truncate(string(body), 256), apiKey)

	return classify(vendor, body), attempt
}

func (d *Detector) probeRequest(ctx context.Context, vendor, apiKey, baseURL string) (*http.Request, error) {
	var u string
	switch vendor {
	case VendorOpenAI:
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		u = strings.TrimRight(baseURL, "/") + "/models"
	case VendorAnthropic:
		if baseURL == "" {
			baseURL = "https://api.anthropic.com/v1"
		}
		u = strings.TrimRight(baseURL, "/") + "/models"
	case VendorGoogle:
		if baseURL == "" {
			baseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		u = strings.TrimRight(baseURL, "/") + "/models"
	default:
		return nil, fmt.Errorf("unknown vendor: %s", vendor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	switch vendor {
	case VendorOpenAI:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	case VendorAnthropic:
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	case VendorGoogle:
		req.Header.Set("x-goog-api-key", apiKey)
	}
	return req, nil
}

// classify decides whether body matches vendor's success or error schema.
func classify(vendor string, body []byte) bool {
	switch vendor {
	case VendorOpenAI:
		var v struct {
			Object string `json:"object"`
			Type   string `json:"type"`
			Data   []struct {
				Object string `json:"object"`
			} `json:"data"`
			Error *struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &v) != nil {
			return false
		}
		if v.Object == "list" && len(v.Data) > 0 && v.Data[0].Object == "model" {
			return true
		}
		// anthropic errors carry a top-level type:"error"; exclude them
		return v.Type == "" && v.Error != nil && v.Error.Message != "" && v.Error.Type != ""
	case VendorAnthropic:
		var v struct {
			Data []struct {
				Type string `json:"type"`
			} `json:"data"`
			Type  string `json:"type"`
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &v) != nil {
			return false
		}
		if len(v.Data) > 0 && v.Data[0].Type == "model" {
			return true
		}
		return v.Type == "error" && v.Error != nil && v.Error.Type != ""
	case VendorGoogle:
		var v struct {
			Models []struct {
				Name string `json:"name"`
			} `json:"models"`
			Error *struct {
				Code    int    `json:"code"`
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &v) != nil {
			return false
		}
		if len(v.Models) > 0 && v.Models[0].Name != "" {
			return true
		}
		return v.Error != nil && v.Error.Status != ""
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func redact(s, apiKey string) string {
	if apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, apiKey, "[redacted]")
}
