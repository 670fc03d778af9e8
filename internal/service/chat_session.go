// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/pkg/llm"
	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/reply"

	"github.com/google/uuid"
)

var (
	// ErrTurnInProgress 表示当前仍有一条助手消息处于流式状态。
	ErrTurnInProgress = errors.New("a turn is still streaming")
	// ErrAttachmentTooLarge 表示附件超过允许的最大尺寸。
	ErrAttachmentTooLarge = errors.New("attachment exceeds the maximum allowed size")
)

// ChatSession 定义了会话编排的接口：维护实时会话、驱动流式问答并定稿回复。
type ChatSession interface {
	// Send 追加用户消息与一条流式助手消息，并在流结束或失败后定稿。
	// 模型调用失败不会作为 error 返回，而是写入一条 Errored 状态的助手消息。
	Send(ctx context.Context, text string, attachment *model.Attachment) error
	// NewSession 生成新的会话 ID 并丢弃模型上下文，不清空消息。
	NewSession() (string, error)
	ClearMessages() error
	ResumeSession(entry model.HistoryEntry) error
	// SetContextParameters 只影响下一次创建的模型上下文。
	SetContextParameters(p model.ContextParameters)
	// OnUpdate 注册消息变更回调，每次追加或定稿时以消息快照调用。
	OnUpdate(fn func(model.Message))
	Snapshot() model.Conversation
	Messages() []model.Message
	SessionID() string
	IsStreaming() bool
}

// ChatOptions 配置 ChatSession。
type ChatOptions struct {
	Chat       config.ChatConfig
	Rules      string
	Parameters model.ContextParameters
	SessionID  string
	NewID      func() string
	Now        func() time.Time
}

type chatSession struct {
	llmClient llm.Client
	opts      ChatOptions

	mu        sync.Mutex
	sessionID string
	messages  []model.Message
	params    model.ContextParameters
	modelCtx  llm.ChatContext
	streaming bool
	observer  func(model.Message)
}

// NewChatSession 创建一个新的 ChatSession。client 为 nil 时每次发送都会以
// ModelNotInitialized 错误定稿。
func NewChatSession(client llm.Client, opts ChatOptions) ChatSession {
	if client == nil {
		client = llm.Unavailable(llm.ErrModelNotInitialized)
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Chat.MaxAttachmentBytes <= 0 {
		opts.Chat.MaxAttachmentBytes = config.DefaultMaxAttachmentBytes
	}
	if opts.Chat.AttachmentPrompt == "" {
		opts.Chat.AttachmentPrompt = "Please analyze the attached file."
	}
	if opts.Chat.EmptyPrompt == "" {
		opts.Chat.EmptyPrompt = "Hello"
	}
	s := &chatSession{
		llmClient: client,
		opts:      opts,
		sessionID: opts.SessionID,
		params:    opts.Parameters,
	}
	if s.sessionID == "" {
		s.sessionID = s.newSessionID()
	}
	return s
}

func (s *chatSession) newSessionID() string {
	return fmt.Sprintf("client-session-%d", s.opts.Now().UnixNano())
}

func (s *chatSession) Send(ctx context.Context, text string, attachment *model.Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" && attachment == nil {
		return nil
	}
	if attachment != nil && attachment.Size() > s.opts.Chat.MaxAttachmentBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrAttachmentTooLarge,
			attachment.Name, attachment.Size(), s.opts.Chat.MaxAttachmentBytes)
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return ErrTurnInProgress
	}
	prior := priorTurns(s.messages, s.opts.Chat.MaxHistoryTurns)

	var appended []model.Message
	if attachment != nil {
		appended = append(appended, s.appendLocked(model.Message{
			Sender:     model.SenderUser,
			Text:       fmt.Sprintf("Attached file: %s", attachment.Name),
			State:      model.StateFinalized,
			Attachment: &model.AttachmentInfo{Name: attachment.Name, MIMEType: attachment.MIMEType},
		}))
	}
	if text != "" {
		appended = append(appended, s.appendLocked(model.Message{
			Sender: model.SenderUser,
			Text:   text,
			State:  model.StateFinalized,
		}))
	}
	assistant := s.appendLocked(model.Message{Sender: model.SenderAssistant, State: model.StateCreated})
	idx := len(s.messages) - 1
	s.messages[idx].State = model.StateStreaming
	assistant.State = model.StateStreaming
	appended = append(appended, assistant)
	s.streaming = true

	params := s.params
	stored := s.modelCtx
	sessionID := s.sessionID
	s.mu.Unlock()

	for _, m := range appended {
		s.notify(m)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("会话 %s 流式处理发生 panic: %v", sessionID, r)
			s.finalizeError(idx, fmt.Errorf("unexpected failure: %v", r))
		}
	}()

	modelKey := params.ModelKey
	if modelKey == "" {
		modelKey = s.opts.Chat.DefaultModel
	}
	override := attachment != nil && s.opts.Chat.FullCapabilityModel != "" && modelKey != s.opts.Chat.FullCapabilityModel

	chatCtx := stored
	if override || chatCtx == nil {
		key := modelKey
		if override {
			key = s.opts.Chat.FullCapabilityModel
			log.Infow("附件请求切换为全功能模型", "sessionId", sessionID, "from", modelKey, "to", key)
		}
		created, err := s.llmClient.CreateContext(ctx, prior, llm.ContextOptions{
			Model:             s.opts.Chat.ModelName(key),
			SystemInstruction: buildSystemInstruction(params, s.opts.Rules),
			EnableSearch:      params.DeepResearch,
		})
		if err != nil {
			s.finalizeError(idx, err)
			return nil
		}
		chatCtx = created
		s.mu.Lock()
		if override {
			// 一次性上下文不保存；下一次发送将以包含本轮的历史重新创建上下文。
			s.modelCtx = nil
		} else {
			s.modelCtx = created
		}
		s.mu.Unlock()
	}

	parts := s.buildParts(text, attachment)

	log.Infow("开始流式请求", "sessionId", sessionID, "messageId", assistant.ID, "attachment", attachment != nil)
	for delta, err := range chatCtx.SendStreaming(ctx, parts) {
		if err != nil {
			s.finalizeError(idx, err)
			return nil
		}
		s.appendDelta(idx, delta)
	}

	s.finalize(idx)
	return nil
}

func (s *chatSession) buildParts(text string, attachment *model.Attachment) []llm.Part {
	if attachment == nil {
		if text == "" {
			text = s.opts.Chat.EmptyPrompt
		}
		return []llm.Part{llm.TextPart(text)}
	}
	if text == "" {
		text = s.opts.Chat.AttachmentPrompt
	}
	return []llm.Part{
		llm.TextPart(text),
		llm.BlobPart(attachment.MIMEType, base64.StdEncoding.EncodeToString(attachment.Data)),
	}
}

// appendLocked 为消息分配 ID 与时间戳并追加，调用方需持有锁。
func (s *chatSession) appendLocked(m model.Message) model.Message {
	m.ID = s.opts.NewID()
	m.Timestamp = s.opts.Now()
	s.messages = append(s.messages, m)
	return m.Clone()
}

func (s *chatSession) appendDelta(idx int, delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	s.messages[idx].Text += delta
	snapshot := s.messages[idx].Clone()
	s.mu.Unlock()
	s.notify(snapshot)
}

func (s *chatSession) finalize(idx int) {
	s.mu.Lock()
	msg := &s.messages[idx]
	if msg.State.IsTerminal() {
		s.mu.Unlock()
		return
	}
	result := reply.Extract(msg.Text)
	msg.Text = result.DisplayText
	msg.Visualization = result.Visualization
	msg.State = model.StateFinalized
	s.streaming = false
	snapshot := msg.Clone()
	s.mu.Unlock()

	log.Infow("回复已定稿", "messageId", snapshot.ID, "length", len(snapshot.Text), "visualization", snapshot.Visualization != "")
	s.notify(snapshot)
}

func (s *chatSession) finalizeError(idx int, err error) {
	s.mu.Lock()
	msg := &s.messages[idx]
	if msg.State.IsTerminal() {
		s.mu.Unlock()
		return
	}
	msg.Text = llm.UserMessage(err)
	msg.Visualization = ""
	msg.State = model.StateErrored
	s.streaming = false
	snapshot := msg.Clone()
	s.mu.Unlock()

	log.Warnw("回复以错误结束", "messageId", snapshot.ID, "kind", llm.Classify(err).String(), "error", err)
	s.notify(snapshot)
}

func (s *chatSession) notify(m model.Message) {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (s *chatSession) NewSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return "", ErrTurnInProgress
	}
	s.sessionID = s.newSessionID()
	s.modelCtx = nil
	return s.sessionID, nil
}

func (s *chatSession) ClearMessages() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return ErrTurnInProgress
	}
	s.messages = nil
	s.modelCtx = nil
	return nil
}

func (s *chatSession) ResumeSession(entry model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return ErrTurnInProgress
	}
	s.messages = finalizedCopy(entry.Messages)
	s.sessionID = entry.ID
	s.params = entry.Parameters
	s.modelCtx = nil
	return nil
}

func (s *chatSession) SetContextParameters(p model.ContextParameters) {
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
}

func (s *chatSession) OnUpdate(fn func(model.Message)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

func (s *chatSession) Snapshot() model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Conversation{
		SessionID:  s.sessionID,
		Messages:   model.CloneMessages(s.messages),
		Parameters: s.params,
	}
}

func (s *chatSession) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.messages)
}

func (s *chatSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *chatSession) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// priorTurns 把已定稿的消息转换为模型上下文的历史：跳过错误消息、附件消息
// 与空文本，去掉开头的模型轮次，并按 maxTurns 保留最近的若干条。
func priorTurns(msgs []model.Message, maxTurns int) []llm.Turn {
	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.State != model.StateFinalized || m.Attachment != nil {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if m.Sender == model.SenderAssistant {
			role = llm.RoleModel
		}
		turns = append(turns, llm.Turn{Role: role, Text: text})
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	for len(turns) > 0 && turns[0].Role == llm.RoleModel {
		turns = turns[1:]
	}
	return turns
}

// finalizedCopy 深拷贝消息，并把所有未定稿的消息强制标记为已定稿。
func finalizedCopy(msgs []model.Message) []model.Message {
	out := model.CloneMessages(msgs)
	for i := range out {
		if !out[i].State.IsTerminal() {
			out[i].State = model.StateFinalized
		}
	}
	return out
}
