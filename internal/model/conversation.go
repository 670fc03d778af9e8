// Package model 包含了应用的数据模型定义。
package model

import (
	"fmt"
	"time"
)

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// MessageState 是一条消息的生命周期状态。
// 助手消息的迁移路径为 Created -> Streaming -> Finalized | Errored。
type MessageState int

const (
	StateCreated MessageState = iota
	StateStreaming
	StateFinalized
	StateErrored
)

var stateNames = [...]string{"created", "streaming", "finalized", "errored"}

func (s MessageState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("MessageState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText 实现 encoding.TextMarshaler，状态以小写字符串持久化。
func (s MessageState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (s *MessageState) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = MessageState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown message state %q", string(b))
}

// IsTerminal 表示消息已经定稿（成功或失败），之后不再修改。
func (s MessageState) IsTerminal() bool {
	return s == StateFinalized || s == StateErrored
}

// AttachmentInfo 是用户消息上携带的附件元信息。
type AttachmentInfo struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
}

// Message 代表会话中的一条消息。
type Message struct {
	ID            string          `json:"id"`
	Text          string          `json:"text"`
	Sender        Sender          `json:"sender"`
	Timestamp     time.Time       `json:"timestamp"`
	State         MessageState    `json:"state"`
	Attachment    *AttachmentInfo `json:"attachmentInfo,omitempty"`
	Visualization string          `json:"visualizationFragment,omitempty"`
}

// IsStreaming 表示消息仍在接收流式增量。
func (m Message) IsStreaming() bool { return m.State == StateStreaming }

// IsError 表示消息经由错误路径定稿。
func (m Message) IsError() bool { return m.State == StateErrored }

// Clone 返回消息的深拷贝。
func (m Message) Clone() Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}

// CloneMessages 深拷贝消息列表，保证快照与实时会话互不影响。
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ContextParameters 是创建模型上下文时写入系统指令的会话参数。
type ContextParameters struct {
	BankID            string `json:"bankId,omitempty"`
	BankName          string `json:"bankName,omitempty"`
	UserName          string `json:"userName,omitempty"`
	RiskTolerance     string `json:"riskTolerance,omitempty"`
	InvestmentHorizon string `json:"investmentHorizon,omitempty"`
	DeepResearch      bool   `json:"deepResearch"`
	ModelKey          string `json:"modelKey,omitempty"`
}

// Conversation 是实时会话的值快照。
type Conversation struct {
	SessionID  string            `json:"sessionId"`
	Messages   []Message         `json:"messages"`
	Parameters ContextParameters `json:"parameters"`
}

// HistoryEntry 是持久化的历史会话。
type HistoryEntry struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Date       time.Time         `json:"date"`
	Messages   []Message         `json:"messages"`
	Parameters ContextParameters `json:"parameters"`
}

// Attachment 是已经解析好的附件：名称、MIME 类型与内容。
type Attachment struct {
	Name      string
	MIMEType  string
	SizeBytes int64
	Data      []byte
}

// Size 返回声明大小与实际内容长度中的较大者。
func (a *Attachment) Size() int64 {
	if n := int64(len(a.Data)); n > a.SizeBytes {
		return n
	}
	return a.SizeBytes
}
