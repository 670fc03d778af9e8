// Package llm provides chat clients for Large Language Models.
package llm

import (
	"context"
	"fmt"
	"iter"

	"fin-chat-go/internal/config"
)

// Role of a prior turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior message used to seed a chat context.
type Turn struct {
	Role Role
	Text string
}

// Blob is inline binary content, base64 encoded.
type Blob struct {
	MIMEType   string
	Base64Data string
}

// Part is one element of an outgoing turn: either text or an inline blob.
type Part struct {
	Text       string
	InlineBlob *Blob
}

// TextPart builds a text Part.
func TextPart(text string) Part { return Part{Text: text} }

// BlobPart builds an inline blob Part.
func BlobPart(mimeType, base64Data string) Part {
	return Part{InlineBlob: &Blob{MIMEType: mimeType, Base64Data: base64Data}}
}

// ContextOptions configures a new chat context.
type ContextOptions struct {
	Model             string
	SystemInstruction string
	// EnableSearch allows the model to perform external lookups.
	EnableSearch bool
}

// Client creates chat contexts bound to the remote model.
type Client interface {
	CreateContext(ctx context.Context, history []Turn, opts ContextOptions) (ChatContext, error)
}

// ChatContext is the remote conversational state. SendStreaming returns a
// lazy, finite sequence of text increments; it cannot be restarted.
type ChatContext interface {
	SendStreaming(ctx context.Context, parts []Part) iter.Seq2[string, error]
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// generationFromConfig 从配置读取非零的生成参数。
func generationFromConfig(cfg config.LLMGenerationConfig) GenerationParams {
	var gp GenerationParams
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		gp.Temperature = &t
	}
	if cfg.TopP != 0 {
		p := cfg.TopP
		gp.TopP = &p
	}
	if cfg.MaxTokens != 0 {
		m := cfg.MaxTokens
		gp.MaxTokens = &m
	}
	return gp
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrModelNotInitialized
	}
	switch cfg.Provider {
	case "", "gemini":
		return NewGeminiClient(ctx, cfg)
	case "openai":
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// unavailableClient fails every context creation with the given error.
type unavailableClient struct {
	err error
}

// Unavailable returns a Client whose every call fails with err. It lets the
// service run without credentials and report the problem per turn.
func Unavailable(err error) Client {
	if err == nil {
		err = ErrModelNotInitialized
	}
	return unavailableClient{err: err}
}

func (c unavailableClient) CreateContext(context.Context, []Turn, ContextOptions) (ChatContext, error) {
	return nil, c.err
}
