package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"

	"fin-chat-go/internal/config"
)

// openAIClient talks to an OpenAI-compatible /chat/completions endpoint
// (DeepSeek, vLLM, OpenAI) over SSE.
type openAIClient struct {
	cfg    config.LLMConfig
	gen    GenerationParams
	client *http.Client
}

// NewOpenAIClient creates a Client for OpenAI-compatible chat completion APIs.
func NewOpenAIClient(cfg config.LLMConfig) Client {
	return &openAIClient{
		cfg:    cfg,
		gen:    generationFromConfig(cfg.Generation),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// chatMessage 表示一条角色消息，Content 为字符串或多段内容数组。
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIClient) CreateContext(_ context.Context, history []Turn, opts ContextOptions) (ChatContext, error) {
	msgs := make([]chatMessage, 0, len(history)+1)
	if opts.SystemInstruction != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: opts.SystemInstruction})
	}
	for _, t := range history {
		role := "user"
		if t.Role == RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Text})
	}
	return &openAIContext{client: c, model: opts.Model, messages: msgs}, nil
}

// openAIContext keeps the turn history on the client side; the endpoint is stateless.
type openAIContext struct {
	client *openAIClient
	model  string

	mu       sync.Mutex
	messages []chatMessage
}

func (oc *openAIContext) SendStreaming(ctx context.Context, parts []Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		userMsg := chatMessage{Role: "user", Content: toContent(parts)}

		oc.mu.Lock()
		msgs := append(append([]chatMessage(nil), oc.messages...), userMsg)
		oc.mu.Unlock()

		var answer strings.Builder
		err := oc.client.stream(ctx, oc.model, msgs, func(delta string) bool {
			answer.WriteString(delta)
			return yield(delta, nil)
		})
		if err != nil {
			yield("", err)
			return
		}

		oc.mu.Lock()
		oc.messages = append(oc.messages, userMsg, chatMessage{Role: "assistant", Content: answer.String()})
		oc.mu.Unlock()
	}
}

// toContent 纯文本时发送字符串，带附件时发送多段内容数组。
func toContent(parts []Part) any {
	hasBlob := false
	for _, p := range parts {
		if p.InlineBlob != nil {
			hasBlob = true
			break
		}
	}
	if !hasBlob {
		var sb strings.Builder
		for i, p := range parts {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	out := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		if p.InlineBlob != nil {
			url := fmt.Sprintf("data:%s;base64,%s", p.InlineBlob.MIMEType, p.InlineBlob.Base64Data)
			out = append(out, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
			continue
		}
		out = append(out, contentPart{Type: "text", Text: p.Text})
	}
	return out
}

// stream 调用聊天接口并逐个回调流式分块；onDelta 返回 false 时停止读取。
func (c *openAIClient) stream(ctx context.Context, model string, messages []chatMessage, onDelta func(string) bool) error {
	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: c.gen.Temperature,
		TopP:        c.gen.TopP,
		MaxTokens:   c.gen.MaxTokens,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			if !onDelta(chunk.Choices[0].Delta.Content) {
				return nil
			}
		}
	}
	return nil
}

// StatusError is returned when the chat API answers with a non-200 status.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat api returned non-200 status: %s, body: %s", e.Status, e.Body)
}
