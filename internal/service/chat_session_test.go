package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/pkg/llm"
	"fin-chat-go/pkg/reply"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChatConfig = config.ChatConfig{
	Models: []config.ModelConfig{
		{Key: "flash", Name: "flash-model"},
		{Key: "pro", Name: "pro-model"},
	},
	DefaultModel:        "flash",
	FullCapabilityModel: "pro",
	MaxAttachmentBytes:  config.DefaultMaxAttachmentBytes,
	AttachmentPrompt:    "Please analyze the attached file.",
	EmptyPrompt:         "Hello",
}

func newTestSession(client llm.Client, params model.ContextParameters) ChatSession {
	return NewChatSession(client, ChatOptions{
		Chat:       testChatConfig,
		Parameters: params,
		SessionID:  "client-session-1",
		NewID:      sequentialIDs(),
		Now:        steppingClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
	})
}

func TestSendAppendsUserAndAssistant(t *testing.T) {
	f := &fakeLLM{chunks: []string{"Hello", " world"}}
	s := newTestSession(f, model.ContextParameters{ModelKey: "flash"})

	require.NoError(t, s.Send(context.Background(), "  hi there  ", nil))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hi there", msgs[0].Text)
	assert.Equal(t, model.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, model.StateFinalized, msgs[1].State)
	assert.Equal(t, "Hello world", msgs[1].Text)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.False(t, s.IsStreaming())

	calls := f.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "flash-model", calls[0].opts.Model)
	assert.Empty(t, calls[0].history)
	assert.Equal(t, [][]llm.Part{{llm.TextPart("hi there")}}, f.sentParts())
}

func TestSendEmptyIsNoop(t *testing.T) {
	f := &fakeLLM{}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "   ", nil))
	assert.Empty(t, s.Messages())
	assert.Empty(t, f.createCalls())
}

func TestSendAppliesIncrementsInOrder(t *testing.T) {
	f := &fakeLLM{chunks: []string{"a", "b", "c"}}
	s := newTestSession(f, model.ContextParameters{})

	var (
		mu       sync.Mutex
		partials []string
		states   []model.MessageState
	)
	s.OnUpdate(func(m model.Message) {
		if m.Sender != model.SenderAssistant {
			return
		}
		mu.Lock()
		partials = append(partials, m.Text)
		states = append(states, m.State)
		mu.Unlock()
	})

	require.NoError(t, s.Send(context.Background(), "go", nil))

	assert.Equal(t, []string{"", "a", "ab", "abc", "abc"}, partials)
	assert.Equal(t, []model.MessageState{
		model.StateStreaming, model.StateStreaming, model.StateStreaming, model.StateStreaming, model.StateFinalized,
	}, states)

	single := &fakeLLM{chunks: []string{"abc"}}
	s2 := newTestSession(single, model.ContextParameters{})
	require.NoError(t, s2.Send(context.Background(), "go", nil))
	assert.Equal(t, s.Messages()[1].Text, s2.Messages()[1].Text)
}

func TestSendExtractsVisualization(t *testing.T) {
	f := &fakeLLM{chunks: []string{"```json\n{\"text\":\"Here\",", "\"visual\":\"<x/>\"}\n```"}}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "chart my spending", nil))

	last := s.Messages()[1]
	assert.Equal(t, "Here", last.Text)
	assert.Equal(t, "<x/>", last.Visualization)
	assert.Equal(t, model.StateFinalized, last.State)
}

func TestSendPlainReplyHasNoVisualization(t *testing.T) {
	f := &fakeLLM{chunks: []string{"No chart {today}"}}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "hi", nil))

	last := s.Messages()[1]
	assert.Equal(t, "No chart {today}", last.Text)
	assert.Empty(t, last.Visualization)
}

func TestSendInvalidCredentialBecomesErroredMessage(t *testing.T) {
	f := &fakeLLM{streamErr: errors.New("API key not valid. Please pass a valid API key.")}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "hello", nil))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError())
	assert.False(t, msgs[1].IsStreaming())
	assert.Equal(t, llm.UserMessage(f.streamErr), msgs[1].Text)
	assert.Contains(t, msgs[1].Text, "API key")
	assert.False(t, s.IsStreaming())

	// 错误后会话仍可继续使用
	f.mu.Lock()
	f.streamErr = nil
	f.chunks = []string{"ok"}
	f.mu.Unlock()
	require.NoError(t, s.Send(context.Background(), "retry", nil))
	msgs = s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "ok", msgs[3].Text)
	assert.Equal(t, model.StateFinalized, msgs[3].State)
}

func TestSendWithoutClientFinalizesWithNotInitialized(t *testing.T) {
	s := newTestSession(nil, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "hello", nil))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError())
	assert.Equal(t, llm.UserMessage(llm.ErrModelNotInitialized), msgs[1].Text)
}

func TestSendRejectsOversizedAttachment(t *testing.T) {
	f := &fakeLLM{chunks: []string{"x"}}
	s := newTestSession(f, model.ContextParameters{})

	att := &model.Attachment{Name: "big.pdf", MIMEType: "application/pdf", SizeBytes: 26 * 1024 * 1024}
	err := s.Send(context.Background(), "read this", att)

	assert.ErrorIs(t, err, ErrAttachmentTooLarge)
	assert.Empty(t, s.Messages())
	assert.Empty(t, f.createCalls())
	assert.Empty(t, f.sentParts())
}

func TestSendAttachmentUsesFullCapabilityModelOnce(t *testing.T) {
	f := &fakeLLM{chunks: []string{"It is a receipt."}}
	s := newTestSession(f, model.ContextParameters{ModelKey: "flash"})

	data := []byte("%PDF-1.4")
	att := &model.Attachment{Name: "receipt.pdf", MIMEType: "application/pdf", SizeBytes: int64(len(data)), Data: data}
	require.NoError(t, s.Send(context.Background(), "", att))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "receipt.pdf", msgs[0].Attachment.Name)
	assert.Equal(t, "application/pdf", msgs[0].Attachment.MIMEType)

	calls := f.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "pro-model", calls[0].opts.Model)

	sent := f.sentParts()
	require.Len(t, sent, 1)
	require.Len(t, sent[0], 2)
	assert.Equal(t, "Please analyze the attached file.", sent[0][0].Text)
	require.NotNil(t, sent[0][1].InlineBlob)
	assert.Equal(t, "application/pdf", sent[0][1].InlineBlob.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), sent[0][1].InlineBlob.Base64Data)

	// 下一次发送回到用户选择的模型，并以不含附件消息的历史重新创建上下文
	f.mu.Lock()
	f.chunks = []string{"Sure."}
	f.mu.Unlock()
	require.NoError(t, s.Send(context.Background(), "thanks", nil))

	calls = f.createCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "flash-model", calls[1].opts.Model)
	assert.Empty(t, calls[1].history)
}

func TestSendAttachmentKeepsFullCapabilityModelContext(t *testing.T) {
	f := &fakeLLM{chunks: []string{"ok"}}
	s := newTestSession(f, model.ContextParameters{ModelKey: "pro"})

	att := &model.Attachment{Name: "a.png", MIMEType: "image/png", Data: []byte{1, 2, 3}}
	require.NoError(t, s.Send(context.Background(), "what is this", att))
	require.NoError(t, s.Send(context.Background(), "and now?", nil))

	calls := f.createCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "pro-model", calls[0].opts.Model)
}

func TestModelContextIsReusedAcrossTurns(t *testing.T) {
	f := &fakeLLM{chunks: []string{"ok"}}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "one", nil))
	require.NoError(t, s.Send(context.Background(), "two", nil))

	assert.Len(t, f.createCalls(), 1)
	assert.Len(t, f.sentParts(), 2)
	assert.Len(t, s.Messages(), 4)
}

func TestNewSessionDropsModelContext(t *testing.T) {
	f := &fakeLLM{chunks: []string{"ok"}}
	s := newTestSession(f, model.ContextParameters{})

	require.NoError(t, s.Send(context.Background(), "one", nil))
	before := s.SessionID()

	id, err := s.NewSession()
	require.NoError(t, err)
	assert.NotEqual(t, before, id)
	assert.Regexp(t, `^client-session-\d+$`, id)
	assert.Len(t, s.Messages(), 2, "new session keeps messages until the caller clears them")

	require.NoError(t, s.ClearMessages())
	require.NoError(t, s.Send(context.Background(), "two", nil))
	calls := f.createCalls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[1].history)
}

func TestResumeThenSendSeedsFreshContext(t *testing.T) {
	f := &fakeLLM{chunks: []string{"ok"}}
	s := newTestSession(f, model.ContextParameters{BankID: "acme", ModelKey: "flash"})

	require.NoError(t, s.Send(context.Background(), "before resume", nil))

	entry := model.HistoryEntry{
		ID:    "client-session-42",
		Title: "old",
		Messages: []model.Message{
			{ID: "h1", Sender: model.SenderUser, Text: "What is my budget?", State: model.StateFinalized},
			{ID: "h2", Sender: model.SenderAssistant, Text: "About 2000.", State: model.StateStreaming},
			{ID: "h3", Sender: model.SenderAssistant, Text: "boom", State: model.StateErrored},
		},
		Parameters: model.ContextParameters{BankID: "northwind", BankName: "Northwind Savings", ModelKey: "pro", DeepResearch: true},
	}
	require.NoError(t, s.ResumeSession(entry))

	assert.Equal(t, "client-session-42", s.SessionID())
	for _, m := range s.Messages() {
		assert.False(t, m.IsStreaming())
	}

	require.NoError(t, s.Send(context.Background(), "and savings?", nil))

	calls := f.createCalls()
	require.Len(t, calls, 2)
	resumed := calls[1]
	assert.Equal(t, "pro-model", resumed.opts.Model)
	assert.True(t, resumed.opts.EnableSearch)
	assert.Contains(t, resumed.opts.SystemInstruction, "Northwind Savings")
	assert.Contains(t, resumed.opts.SystemInstruction, deepResearchDirective)
	assert.Equal(t, []llm.Turn{
		{Role: llm.RoleUser, Text: "What is my budget?"},
		{Role: llm.RoleModel, Text: "About 2000."},
	}, resumed.history)

	// 原会话的快照不受影响
	entry.Messages[0].Text = "mutated"
	assert.Equal(t, "What is my budget?", s.Messages()[0].Text)
}

func TestOperationsRejectedWhileStreaming(t *testing.T) {
	f := &fakeLLM{chunks: []string{"a", "b"}, gate: make(chan struct{})}
	s := newTestSession(f, model.ContextParameters{})

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first", nil) }()

	require.Eventually(t, s.IsStreaming, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, s.Send(context.Background(), "second", nil), ErrTurnInProgress)
	_, err := s.NewSession()
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.ErrorIs(t, s.ResumeSession(model.HistoryEntry{ID: "x"}), ErrTurnInProgress)
	assert.ErrorIs(t, s.ClearMessages(), ErrTurnInProgress)

	f.gate <- struct{}{}
	f.gate <- struct{}{}
	require.NoError(t, <-done)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ab", msgs[1].Text)
	assert.Equal(t, model.StateFinalized, msgs[1].State)
}

func TestSnapshotIsACopy(t *testing.T) {
	f := &fakeLLM{chunks: []string{"ok"}}
	s := newTestSession(f, model.ContextParameters{})
	require.NoError(t, s.Send(context.Background(), "hi", nil))

	snap := s.Snapshot()
	snap.Messages[0].Text = "changed"
	assert.Equal(t, "hi", s.Messages()[0].Text)
	assert.Equal(t, "client-session-1", snap.SessionID)
}

func TestPriorTurnsFiltering(t *testing.T) {
	msgs := []model.Message{
		{Sender: model.SenderAssistant, Text: "welcome", State: model.StateFinalized},
		{Sender: model.SenderUser, Text: "Attached file: a.pdf", State: model.StateFinalized, Attachment: &model.AttachmentInfo{Name: "a.pdf"}},
		{Sender: model.SenderUser, Text: "  question  ", State: model.StateFinalized},
		{Sender: model.SenderAssistant, Text: "failure", State: model.StateErrored},
		{Sender: model.SenderUser, Text: "again", State: model.StateFinalized},
		{Sender: model.SenderAssistant, Text: "answer", State: model.StateFinalized},
		{Sender: model.SenderUser, Text: "   ", State: model.StateFinalized},
	}
	assert.Equal(t, []llm.Turn{
		{Role: llm.RoleUser, Text: "question"},
		{Role: llm.RoleUser, Text: "again"},
		{Role: llm.RoleModel, Text: "answer"},
	}, priorTurns(msgs, 0))

	assert.Equal(t, []llm.Turn{
		{Role: llm.RoleUser, Text: "again"},
		{Role: llm.RoleModel, Text: "answer"},
	}, priorTurns(msgs, 2))
}

func TestBuildSystemInstruction(t *testing.T) {
	p := model.ContextParameters{
		BankName:          "Acme Bank",
		BankID:            "acme",
		UserName:          "Dana",
		RiskTolerance:     "conservative",
		InvestmentHorizon: "long-term",
	}
	sys := buildSystemInstruction(p, "Answer in English.")
	assert.Contains(t, sys, "Acme Bank")
	assert.Contains(t, sys, "Dana")
	assert.Contains(t, sys, "conservative")
	assert.Contains(t, sys, "long-term")
	assert.Contains(t, sys, `"visual"`)
	assert.Contains(t, sys, "Answer in English.")
	assert.NotContains(t, sys, deepResearchDirective)

	p.DeepResearch = true
	assert.Contains(t, buildSystemInstruction(p, ""), deepResearchDirective)
}

func TestDefaultCaptionFlowsThrough(t *testing.T) {
	f := &fakeLLM{chunks: []string{`{"visual":"<svg/>"}`}}
	s := newTestSession(f, model.ContextParameters{})
	require.NoError(t, s.Send(context.Background(), "chart", nil))
	assert.Equal(t, reply.DefaultCaption, s.Messages()[1].Text)
}
