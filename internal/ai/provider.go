package ai

import (
	"context"
	"strings"
)

const (
	VendorOpenAI    = "openai"
	VendorAnthropic = "anthropic"
	VendorGoogle    = "google"
)

type Message struct {
	Role        string
	Content     string
	Attachments []Attachment
}

// Attachment is an inline image. B64 holds base64 payload and may arrive
// with a data-URL prefix; adapters strip it before transmission.
type Attachment struct {
	Name     string
	MimeType string
	B64      string
}

// b64Payload strips a "data:<mime>;base64," prefix if present.
func (a Attachment) b64Payload() string {
	if strings.HasPrefix(a.B64, "data:") {
		if i := strings.Index(a.B64, "base64,"); i >= 0 {
			return a.B64[i+len("base64,"):]
		}
	}
	return a.B64
}

type ChatRequest struct {
	Model    string
	Messages []Message
}

type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// Provider normalizes one vendor's wire protocol behind a single delta
// sequence contract: StreamChat returns immediately with two channels,
// both closed when the stream ends. A natural vendor finish closes them
// without error; a failure puts exactly one typed error on errs;
// cancelling ctx aborts the underlying transport read.
type Provider interface {
	StreamChat(ctx context.Context, req ChatRequest) (<-chan string, <-chan error)
	ListModels(ctx context.Context) ([]Model, error)
}

// splitSystem separates system messages from the turn list for vendors
// that carry the system prompt out of band.
func splitSystem(msgs []Message) (system string, rest []Message) {
	var sys []string
	for _, m := range msgs {
		if m.Role == "system" {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}
