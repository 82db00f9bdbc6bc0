package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseHandler writes each line followed by a blank separator, flushing per
// line the way the real vendor endpoints do.
func sseHandler(lines ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			f.Flush()
		}
	}
}

func drain(chunks <-chan string, errs <-chan error) (string, error) {
	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
	}
	select {
	case err := <-errs:
		return b.String(), err
	case <-time.After(5 * time.Second):
		return b.String(), fmt.Errorf("stream did not terminate")
	}
}

func TestOpenAIStream_ConcatenatesDeltas(t *testing.T) {
	var gotAuth string
	var gotReq openAIChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		sseHandler(
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: [DONE]`,
		)(w, r)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "sk-test", nil)
	chunks, errs := p.StreamChat(context.Background(), ChatRequest{
		Model:    "gpt-test",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	got, err := drain(chunks, errs)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if !gotReq.Stream || gotReq.Model != "gpt-test" {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
}

func TestOpenAIStream_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`: comment line`,
		`data: [DONE]`,
	))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "k", nil)
	got, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected ok, got %q", got)
	}
}

func TestOpenAIStream_ErrorEnvelopeEndsStream(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"server exploded","type":"server_error"}}`,
	))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "k", nil)
	got, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	if got != "partial" {
		t.Fatalf("expected partial before error, got %q", got)
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "server exploded" {
		t.Fatalf("expected provider error with envelope message, got %v", err)
	}
}

func TestOpenAIStream_AuthStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "k", nil)
	_, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ErrAuth || pe.Retryable {
		t.Fatalf("expected non-retryable auth error, got %v", err)
	}
}

func TestOpenAIStream_RateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL, "k", nil)
	_, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Kind != ErrRateLimit || !pe.Retryable {
		t.Fatalf("expected retryable rate-limit error, got %v", err)
	}
	if pe.RetryAfter != 7*time.Second {
		t.Fatalf("expected RetryAfter=7s, got %v", pe.RetryAfter)
	}
}

func TestAnthropicStream_TypedEvents(t *testing.T) {
	var gotReq anthropicChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-ant-test" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers: %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		sseHandler(
			`event: message_start`,
			`data: {"type":"message_start"}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
			`data: {"type":"message_stop"}`,
		)(w, r)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "sk-ant-test", nil)
	got, err := drain(p.StreamChat(context.Background(), ChatRequest{
		Model: "claude-test",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}

	// system prompt rides out of band, never as a message turn
	if gotReq.System != "be brief" {
		t.Fatalf("expected top-level system field, got %q", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Fatalf("unexpected message turns: %+v", gotReq.Messages)
	}
}

func TestAnthropicStream_ErrorEvent(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`data: {"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
	))
	defer srv.Close()

	p := NewAnthropicProvider(srv.URL, "k", nil)
	_, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "overloaded" {
		t.Fatalf("expected provider error from error event, got %v", err)
	}
}

func TestGoogleStream_RoleRemapAndDeltas(t *testing.T) {
	var gotPath string
	var gotReq googleChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		sseHandler(
			`data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`,
		)(w, r)
	}))
	defer srv.Close()

	p := NewGoogleProvider(srv.URL, "AIza-test", nil)
	got, err := drain(p.StreamChat(context.Background(), ChatRequest{
		Model: "gemini-test",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "again"},
		},
	}))
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}

	if !strings.Contains(gotPath, "models/gemini-test:streamGenerateContent") ||
		!strings.Contains(gotPath, "alt=sse") {
		t.Fatalf("unexpected request path: %s", gotPath)
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("expected systemInstruction, got %+v", gotReq.SystemInstruction)
	}
	roles := make([]string, 0, len(gotReq.Contents))
	for _, c := range gotReq.Contents {
		roles = append(roles, c.Role)
	}
	want := []string{"user", "model", "user"}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}
}

func TestGoogleStream_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(sseHandler(
		`data: {"error":{"code":500,"message":"internal","status":"INTERNAL"}}`,
	))
	defer srv.Close()

	p := NewGoogleProvider(srv.URL, "k", nil)
	_, err := drain(p.StreamChat(context.Background(), ChatRequest{Model: "m"}))
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "internal" {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestStreamChat_CancelSurfacesContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		f.Flush()
		<-release // hold the stream open until the test cancels
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOpenAIProvider(srv.URL, "k", nil)
	chunks, errs := p.StreamChat(ctx, ChatRequest{Model: "m"})

	if first := <-chunks; first != "x" {
		t.Fatalf("expected first delta, got %q", first)
	}
	cancel()

	_, err := drain(chunks, errs)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestListModels_GoogleStripsPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"models/gemini-pro","displayName":"Gemini Pro"}]}`)
	}))
	defer srv.Close()

	p := NewGoogleProvider(srv.URL, "k", nil)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gemini-pro" || models[0].Name != "Gemini Pro" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestRegistry_UnknownVendor(t *testing.T) {
	r := NewDefaultRegistry()
	if _, err := r.Get(Endpoint{Vendor: "nonesuch"}); err == nil {
		t.Fatalf("expected error for unknown vendor")
	}
	if _, err := r.Get(Endpoint{Vendor: " OpenAI "}); err != nil {
		t.Fatalf("vendor lookup should be case-insensitive: %v", err)
	}
}
