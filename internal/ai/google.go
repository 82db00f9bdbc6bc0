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

// GoogleProvider speaks the generative-language dialect: chunked JSON
// delivered over SSE via the alt=sse query parameter. Roles are remapped
// (assistant -> model) and system prompts ride in systemInstruction.
type GoogleProvider struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	Client  *http.Client
}

func NewGoogleProvider(baseURL, apiKey string, headers map[string]string) *GoogleProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Headers: headers,
		Client:  &http.Client{},
	}
}

type googleInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inline_data,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googleChatReq struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"system_instruction,omitempty"`
}

type googleStreamResp struct {
	Candidates []struct {
		Content struct {
			Parts []googlePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (p *GoogleProvider) buildRequest(creq ChatRequest) googleChatReq {
	system, rest := splitSystem(creq.Messages)
	req := googleChatReq{}
	if system != "" {
		req.SystemInstruction = &googleContent{Parts: []googlePart{{Text: system}}}
	}
	for _, m := range rest {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		parts := []googlePart{{Text: m.Content}}
		for _, a := range m.Attachments {
			parts = append(parts, googlePart{
				InlineData: &googleInlineData{MimeType: a.MimeType, Data: a.b64Payload()},
			})
		}
		req.Contents = append(req.Contents, googleContent{Role: role, Parts: parts})
	}
	return req
}

func (p *GoogleProvider) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.APIKey)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, errFromTransport(VendorGoogle, err)
	}
	return resp, nil
}

func (p *GoogleProvider) StreamChat(ctx context.Context, creq ChatRequest) (<-chan string, <-chan error) {
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

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.BaseURL, creq.Model)
		resp, err := p.do(ctx, http.MethodPost, url, b)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			errs <- errFromStatus(VendorGoogle, resp.StatusCode,
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
			var decoded googleStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				continue
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- streamError(VendorGoogle, decoded.Error.Message)
				return
			}
			for _, cand := range decoded.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case chunks <- part.Text:
					case <-ctx.Done():
						errs <- ctx.Err()
						return
					}
				}
			}
			// the stream ends by EOF after the last chunk; finishReason
			// only annotates the final candidate
		}
		if err := sc.Err(); err != nil {
			errs <- errFromTransport(VendorGoogle, err)
		}
	}()

	return chunks, errs
}

type googleModelsResp struct {
	Models []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

func (p *GoogleProvider) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := p.do(ctx, http.MethodGet, p.BaseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, errFromStatus(VendorGoogle, resp.StatusCode,
			strings.TrimSpace(string(body)), resp.Header.Get("Retry-After"))
	}

	var decoded googleModelsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	out := make([]Model, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		out = append(out, Model{ID: strings.TrimPrefix(m.Name, "models/"), Name: m.DisplayName})
	}
	return out, nil
}
