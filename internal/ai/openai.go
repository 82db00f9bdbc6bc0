package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider speaks the chat-completions dialect: SSE "data:" lines
// each carrying a JSON delta chunk, terminated by a [DONE] sentinel.
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	Client  *http.Client
}

func NewOpenAIProvider(baseURL, apiKey string, headers map[string]string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Headers: headers,
		Client:  &http.Client{}, // streaming; ctx bounds the request
	}
}

type openAIPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAIMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatReq struct {
	Model    string      `json:"model"`
	Messages []openAIMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type openAIStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) buildMessages(msgs []Message) []openAIMsg {
	out := make([]openAIMsg, 0, len(msgs))
	for _, m := range msgs {
		// system messages pass through as ordinary turns
		if len(m.Attachments) == 0 {
			out = append(out, openAIMsg{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openAIPart{{Type: "text", Text: m.Content}}
		for _, a := range m.Attachments {
			u := fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.b64Payload())
			part := openAIPart{Type: "image_url"}
			part.ImageURL = &struct {
				URL string `json:"url"`
			}{URL: u}
			parts = append(parts, part)
		}
		out = append(out, openAIMsg{Role: m.Role, Content: parts})
	}
	return out
}

func (p *OpenAIProvider) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, errFromTransport(VendorOpenAI, err)
	}
	return resp, nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, creq ChatRequest) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		b, err := json.Marshal(openAIChatReq{
			Model:    creq.Model,
			Messages: p.buildMessages(creq.Messages),
			Stream:   true,
		})
		if err != nil {
			errs <- err
			return
		}

		resp, err := p.do(ctx, http.MethodPost, p.BaseURL+"/chat/completions", b)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			errs <- errFromStatus(VendorOpenAI, resp.StatusCode,
				strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openAIStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				// malformed chunk; skip and keep reading
				continue
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- streamError(VendorOpenAI, decoded.Error.Message)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			if delta := decoded.Choices[0].Delta.Content; delta != "" {
				select {
				case chunks <- delta:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
		if err := sc.Err(); err != nil {
			errs <- errFromTransport(VendorOpenAI, err)
		}
	}()

	return chunks, errs
}

type openAIModelsResp struct {
	Data []struct {
		ID      string `json:"id"`
		Created int64  `json:"created"`
	} `json:"data"`
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := p.do(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, errFromStatus(VendorOpenAI, resp.StatusCode,
			strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
	}

	var decoded openAIModelsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	out := make([]Model, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		out = append(out, Model{ID: m.ID, Created: m.Created})
	}
	return out, nil
}
