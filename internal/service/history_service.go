package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/internal/repository"
	"fin-chat-go/pkg/kafka"
	"fin-chat-go/pkg/log"
)

const titleMaxRunes = 35

// HistoryService 定义了历史会话的保存、读取与删除操作。
type HistoryService interface {
	// Save 把会话快照写入历史，同 ID 的旧记录被覆盖并移到最前。
	Save(ctx context.Context, deviceID string, conv model.Conversation) error
	// Load 返回历史列表（最新在前）；不存在或已损坏时返回空列表。
	Load(ctx context.Context, deviceID string) []model.HistoryEntry
	Find(ctx context.Context, deviceID, id string) (model.HistoryEntry, bool)
	Delete(ctx context.Context, deviceID, id string) error
	Clear(ctx context.Context, deviceID string) error
}

type historyService struct {
	// mu 串行化读-改-写，同一进程内的并发保存不会互相覆盖。
	mu         sync.Mutex
	store      repository.Store
	publisher  kafka.Publisher
	maxEntries int
	now        func() time.Time
}

// NewHistoryService 创建一个新的 HistoryService。publisher 可为 nil。
func NewHistoryService(store repository.Store, publisher kafka.Publisher, cfg config.HistoryConfig) HistoryService {
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = config.DefaultMaxHistoryEntries
	}
	return &historyService{
		store:      store,
		publisher:  publisher,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *historyService) Save(ctx context.Context, deviceID string, conv model.Conversation) error {
	if conv.SessionID == "" || len(conv.Messages) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := model.HistoryEntry{
		ID:         conv.SessionID,
		Title:      historyTitle(conv.Messages, now),
		Date:       now,
		Messages:   finalizedCopy(conv.Messages),
		Parameters: conv.Parameters,
	}

	existing := s.Load(ctx, deviceID)
	entries := make([]model.HistoryEntry, 0, len(existing)+1)
	entries = append(entries, entry)
	for _, e := range existing {
		if e.ID != entry.ID {
			entries = append(entries, e)
		}
	}
	if len(entries) > s.maxEntries {
		entries = entries[:s.maxEntries]
	}

	if err := s.write(ctx, deviceID, entries); err != nil {
		return err
	}
	log.Infow("会话已保存到历史", "deviceId", deviceID, "sessionId", entry.ID, "messages", len(entry.Messages))
	s.publish(ctx, kafka.SessionEvent{
		Type:         kafka.EventSessionSaved,
		DeviceID:     deviceID,
		SessionID:    entry.ID,
		MessageCount: len(entry.Messages),
	})
	return nil
}

func (s *historyService) Load(ctx context.Context, deviceID string) []model.HistoryEntry {
	raw, ok, err := s.store.Get(ctx, repository.DeviceKey(deviceID, repository.KeyChatHistory))
	if err != nil {
		log.Errorf("读取历史会话失败: device=%s, err=%v", deviceID, err)
		return []model.HistoryEntry{}
	}
	if !ok || raw == "" {
		return []model.HistoryEntry{}
	}
	var entries []model.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Warnf("历史会话数据已损坏，按空历史处理: device=%s, err=%v", deviceID, err)
		return []model.HistoryEntry{}
	}
	return entries
}

func (s *historyService) Find(ctx context.Context, deviceID, id string) (model.HistoryEntry, bool) {
	for _, e := range s.Load(ctx, deviceID) {
		if e.ID == id {
			return e, true
		}
	}
	return model.HistoryEntry{}, false
}

func (s *historyService) Delete(ctx context.Context, deviceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.Load(ctx, deviceID)
	entries := make([]model.HistoryEntry, 0, len(existing))
	for _, e := range existing {
		if e.ID != id {
			entries = append(entries, e)
		}
	}
	if err := s.write(ctx, deviceID, entries); err != nil {
		return err
	}
	s.publish(ctx, kafka.SessionEvent{Type: kafka.EventSessionDeleted, DeviceID: deviceID, SessionID: id})
	return nil
}

func (s *historyService) Clear(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, repository.DeviceKey(deviceID, repository.KeyChatHistory)); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	s.publish(ctx, kafka.SessionEvent{Type: kafka.EventHistoryCleared, DeviceID: deviceID})
	return nil
}

func (s *historyService) write(ctx context.Context, deviceID string, entries []model.HistoryEntry) error {
	b, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal chat history: %w", err)
	}
	if err := s.store.Set(ctx, repository.DeviceKey(deviceID, repository.KeyChatHistory), string(b)); err != nil {
		return fmt.Errorf("failed to write chat history: %w", err)
	}
	return nil
}

// publish 事件发布失败只记录日志。
func (s *historyService) publish(ctx context.Context, event kafka.SessionEvent) {
	event.OccurredAt = s.now()
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Warnf("发布会话事件失败: type=%s, err=%v", event.Type, err)
	}
}

// historyTitle 取第一条用户消息的前 35 个字符作为标题。
func historyTitle(msgs []model.Message, now time.Time) string {
	for _, m := range msgs {
		if m.Sender != model.SenderUser {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > titleMaxRunes {
			runes := []rune(text)
			return string(runes[:titleMaxRunes]) + "..."
		}
		return text
	}
	return "Chat " + now.Format("2006-01-02 15:04")
}
