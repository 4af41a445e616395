package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llava:latest"
	}
	return &OllamaProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// raw base64, no data URI prefix
	Images []string `json:"images,omitempty"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, req Request) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	reqBody := ollamaChatReq{
		Model:    p.Model,
		Stream:   false,
		Messages: toOllamaMessages(req.Messages),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(fmt.Errorf("ollama: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		kind := kindForStatus(resp.StatusCode)
		if strings.Contains(strings.ToLower(msg), "context length") {
			kind = KindContextLength
		}
		return "", &Error{Kind: kind, Err: fmt.Errorf("ollama: %s", msg)}
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	if decoded.Message.Content == "" {
		return "", &Error{Kind: KindUnknown, Err: ErrEmptyResponse}
	}
	return decoded.Message.Content, nil
}

func toOllamaMessages(messages []Message) []ollamaMsg {
	out := make([]ollamaMsg, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMsg{Role: string(m.Role)}
		switch c := m.Content.(type) {
		case TextContent:
			msg.Content = c.Text
		case MultiPartContent:
			var texts []string
			for _, part := range c.Parts {
				switch part.Type {
				case PartImage:
					if data := stripDataURI(part.ImageURL); data != "" {
						msg.Images = append(msg.Images, data)
					}
				default:
					if part.Text != "" {
						texts = append(texts, part.Text)
					}
				}
			}
			msg.Content = strings.Join(texts, "\n")
		}
		out = append(out, msg)
	}
	return out
}

// stripDataURI returns the base64 payload of a data URI.
func stripDataURI(uri string) string {
	if !strings.HasPrefix(uri, "data:") {
		return ""
	}
	_, data, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return ""
	}
	return data
}
