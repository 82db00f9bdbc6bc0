package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// AnthropicProvider speaks the messages dialect: typed SSE event blocks
// (message_start / content_block_delta / message_stop, plus explicit error
// events), system prompt carried out of band in a top-level field.
type AnthropicProvider struct {
	BaseURL string
	APIKey  string
	Version string
	Headers map[string]string
	Client  *http.Client
}

func NewAnthropicProvider(baseURL, apiKey string, headers map[string]string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Version: "2023-06-01",
		Headers: headers,
		Client:  &http.Client{},
	}
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicMsg struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicChatReq struct {
	Model     string         `json:"model"`
	System    string         `json:"system,omitempty"`
	Messages  []anthropicMsg `json:"messages"`
	MaxTokens int            `json:"max_tokens"`
	Stream    bool           `json:"stream"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AnthropicProvider) buildRequest(creq ChatRequest) anthropicChatReq {
	system, rest := splitSystem(creq.Messages)
	msgs := make([]anthropicMsg, 0, len(rest))
	for _, m := range rest {
		blocks := make([]anthropicBlock, 0, 1+len(m.Attachments))
		for _, a := range m.Attachments {
			blocks = append(blocks, anthropicBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: a.MimeType,
					Data:      a.b64Payload(),
				},
			})
		}
		blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
		msgs = append(msgs, anthropicMsg{Role: m.Role, Content: blocks})
	}
	return anthropicChatReq{
		Model:     creq.Model,
		System:    system,
		Messages:  msgs,
		MaxTokens: 4096,
		Stream:    true,
	}
}

func (p *AnthropicProvider) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.APIKey)
	req.Header.Set("anthropic-version", p.Version)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, errFromTransport(VendorAnthropic, err)
	}
	return resp, nil
}

func (p *AnthropicProvider) StreamChat(ctx context.Context, creq ChatRequest) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		b, err := json.Marshal(p.buildRequest(creq))
		if err != nil {
			errs <- err
			return
		}

		resp, err := p.do(ctx, http.MethodPost, p.BaseURL+"/messages", b)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			errs <- errFromStatus(VendorAnthropic, resp.StatusCode,
				strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			// only data lines carry payload; "event:" lines and blank
			// separators are framing
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "message_stop":
				return
			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				errs <- streamError(VendorAnthropic, msg)
				return
			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
					continue
				}
				select {
				case chunks <- ev.Delta.Text:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			default:
				// ping, message_start, content_block_start/stop, message_delta
			}
		}
		if err := sc.Err(); err != nil {
			errs <- errFromTransport(VendorAnthropic, err)
		}
	}()

	return chunks, errs
}

type anthropicModelsResp struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := p.do(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, errFromStatus(VendorAnthropic, resp.StatusCode,
			strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
	}

	var decoded anthropicModelsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	out := make([]Model, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		out = append(out, Model{ID: m.ID, Name: m.DisplayName})
	}
	return out, nil
}
