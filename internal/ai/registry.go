package ai

import (
	"fmt"
	"strings"
	"sync"
)

// Endpoint is the resolved connection info for one configured provider.
type Endpoint struct {
	Vendor  string
	APIKey  string
	BaseURL string
	Headers map[string]string
}

type ProviderFactory func(ep Endpoint) Provider

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

// NewDefaultRegistry registers the three built-in vendor adapters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(VendorOpenAI, func(ep Endpoint) Provider {
		return NewOpenAIProvider(ep.BaseURL, ep.APIKey, ep.Headers)
	})
	r.Register(VendorAnthropic, func(ep Endpoint) Provider {
		return NewAnthropicProvider(ep.BaseURL, ep.APIKey, ep.Headers)
	})
	r.Register(VendorGoogle, func(ep Endpoint) Provider {
		return NewGoogleProvider(ep.BaseURL, ep.APIKey, ep.Headers)
	})
	return r
}

func (r *Registry) Register(vendor string, f ProviderFactory) {
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[vendor] = f
}

func (r *Registry) Get(ep Endpoint) (Provider, error) {
	vendor := strings.ToLower(strings.TrimSpace(ep.Vendor))
	r.mu.RLock()
	f, ok := r.factories[vendor]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai vendor: %s", ep.Vendor)
	}
	return f(ep), nil
}

func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for v := range r.factories {
		out = append(out, v)
	}
	return out
}
