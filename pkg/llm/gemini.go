package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"net/http"

	"fin-chat-go/internal/config"

	"google.golang.org/genai"
)

type geminiClient struct {
	client *genai.Client
	gen    GenerationParams
}

// NewGeminiClient creates a Client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrModelNotInitialized
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiClient{client: client, gen: generationFromConfig(cfg.Generation)}, nil
}

func (c *geminiClient) CreateContext(ctx context.Context, history []Turn, opts ContextOptions) (ChatContext, error) {
	contents := historyContents(history)

	gc := &genai.GenerateContentConfig{}
	if opts.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if opts.EnableSearch {
		gc.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	if c.gen.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*c.gen.Temperature))
	}
	if c.gen.TopP != nil {
		gc.TopP = genai.Ptr(float32(*c.gen.TopP))
	}
	if c.gen.MaxTokens != nil {
		gc.MaxOutputTokens = int32(*c.gen.MaxTokens)
	}

	chat, err := c.client.Chats.Create(ctx, opts.Model, gc, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return &geminiContext{chat: chat}, nil
}

type geminiContext struct {
	chat *genai.Chat
}

func (g *geminiContext) SendStreaming(ctx context.Context, parts []Part) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		gparts, err := genaiParts(parts)
		if err != nil {
			yield("", err)
			return
		}

		for resp, err := range g.chat.SendMessageStream(ctx, gparts...) {
			if err != nil {
				yield("", err)
				return
			}
			if err := blockedError(resp); err != nil {
				yield("", err)
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// historyContents maps prior turns onto genai contents.
func historyContents(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

// genaiParts converts outgoing parts. The SDK encodes InlineData itself, so
// blobs are decoded back to raw bytes here.
func genaiParts(parts []Part) ([]genai.Part, error) {
	gparts := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		if p.InlineBlob != nil {
			data, err := base64.StdEncoding.DecodeString(p.InlineBlob.Base64Data)
			if err != nil {
				return nil, fmt.Errorf("invalid inline blob: %w", err)
			}
			gparts = append(gparts, genai.Part{InlineData: &genai.Blob{MIMEType: p.InlineBlob.MIMEType, Data: data}})
			continue
		}
		gparts = append(gparts, genai.Part{Text: p.Text})
	}
	return gparts, nil
}

// blockedError reports prompt or candidate safety blocks as errors.
func blockedError(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return fmt.Errorf("prompt blocked: %s", fb.BlockReason)
	}
	for _, cand := range resp.Candidates {
		if cand != nil && cand.FinishReason == genai.FinishReasonSafety {
			return fmt.Errorf("response blocked: %s", cand.FinishReason)
		}
	}
	return nil
}
