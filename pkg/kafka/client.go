// Package kafka 提供了会话事件的发布功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fin-chat-go/internal/config"
	"fin-chat-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// 事件类型。
const (
	EventSessionSaved   = "session_saved"
	EventSessionDeleted = "session_deleted"
	EventHistoryCleared = "history_cleared"
)

// SessionEvent 描述一次历史会话的变更。
type SessionEvent struct {
	Type         string    `json:"type"`
	DeviceID     string    `json:"device_id"`
	SessionID    string    `json:"session_id,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher 发布会话事件。
type Publisher interface {
	Publish(ctx context.Context, event SessionEvent) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewPublisher 根据配置创建事件发布者；未配置 brokers 时返回空实现。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if cfg.Brokers == "" {
		log.Info("未配置 Kafka brokers，会话事件不会被发布")
		return NopPublisher{}
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		Async:    true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &kafkaPublisher{writer: w}
}

// Publish 以设备 ID 作为消息 key，保证同一设备的事件有序。
func (p *kafkaPublisher) Publish(ctx context.Context, event SessionEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.DeviceID), Value: b}); err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, SessionEvent) error { return nil }
func (NopPublisher) Close() error                                { return nil }
