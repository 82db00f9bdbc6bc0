package chat

import (
	"context"
	"sync"
)

// StreamRegistry maps in-flight assistant message ids to their
// cancellation tokens. It is owned by a Service instance, never shared as
// a singleton, so independent services (and tests) cannot cross-cancel.
type StreamRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{cancels: make(map[string]context.CancelFunc)}
}

func (r *StreamRegistry) Register(messageID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[messageID] = cancel
}

// Remove drops the token without firing it. Called on every stream exit
// path so Stop can never act on a stale token.
func (r *StreamRegistry) Remove(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, messageID)
}

// Cancel fires and removes the token if one is registered. Reports whether
// a stream was actually cancelled; a miss is not an error.
func (r *StreamRegistry) Cancel(messageID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[messageID]
	if ok {
		delete(r.cancels, messageID)
	}
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
