// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/internal/service"
	"fin-chat-go/pkg/llm"
	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/storage"
	"fin-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// 客户端帧类型
const (
	frameSend       = "send"
	frameNewSession = "new_session"
	frameResume     = "resume"
	frameSave       = "save"
)

// 服务端帧类型
const (
	frameMessage    = "message"
	frameCompletion = "completion"
	frameSession    = "session"
	frameError      = "error"
)

// saveTimeout 限制断开连接后写入历史的时间。
const saveTimeout = 5 * time.Second

type clientFrame struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	AttachmentID string `json:"attachmentId"`
	SessionID    string `json:"sessionId"`
}

// ChatHandler 负责处理 WebSocket 聊天连接。每个连接对应一个实时会话。
type ChatHandler struct {
	llmClient       llm.Client
	settingsService service.SettingsService
	historyService  service.HistoryService
	attachments     storage.AttachmentStore
	jwtManager      *token.JWTManager
	chatCfg         config.ChatConfig
	rules           string
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(
	llmClient llm.Client,
	settingsService service.SettingsService,
	historyService service.HistoryService,
	attachments storage.AttachmentStore,
	jwtManager *token.JWTManager,
	cfg config.Config,
) *ChatHandler {
	return &ChatHandler{
		llmClient:       llmClient,
		settingsService: settingsService,
		historyService:  historyService,
		attachments:     attachments,
		jwtManager:      jwtManager,
		chatCfg:         cfg.Chat,
		rules:           cfg.LLM.Prompt.Rules,
	}
}

// wsConn 串行化对同一连接的写入：流式回调与读循环会并发写。
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) writeJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("序列化 WebSocket 帧失败: %v", err)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 失败: %v", err)
	}
}

func (w *wsConn) sendError(message string) {
	w.writeJSON(gin.H{"type": frameError, "message": message})
}

func (w *wsConn) sendSession(sessionID string) {
	w.writeJSON(gin.H{"type": frameSession, "sessionId": sessionID})
}

// connState 是单个连接上的会话状态。
type connState struct {
	h        *ChatHandler
	deviceID string
	session  service.ChatSession
	out      *wsConn
	ctx      context.Context
	turns    sync.WaitGroup

	// busy 在读循环中置位、在后台轮次结束后清除，保证后续帧看到进行中的轮次。
	mu   sync.Mutex
	busy bool
	// persisted 表示当前会话已写入过历史；此后在历史中找不到即视为已被删除。
	persisted bool
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "无效的 token")
		return
	}
	deviceID := claims.DeviceID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := h.settingsService.Get(ctx, deviceID)
	st := &connState{
		h:        h,
		deviceID: deviceID,
		out:      &wsConn{conn: conn},
		ctx:      ctx,
		session: service.NewChatSession(h.llmClient, service.ChatOptions{
			Chat:       h.chatCfg,
			Rules:      h.rules,
			Parameters: h.settingsService.ContextParameters(settings),
		}),
	}
	st.session.OnUpdate(func(m model.Message) {
		st.out.writeJSON(gin.H{"type": frameMessage, "message": m})
	})

	log.Infof("WebSocket 连接已建立，设备: %s, 会话: %s", deviceID, st.session.SessionID())
	st.out.sendSession(st.session.SessionID())

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Infof("WebSocket 连接断开: device=%s, err=%v", deviceID, err)
			break
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			st.out.sendError("无效的消息格式")
			continue
		}
		log.Debugf("收到 WebSocket 帧: device=%s, type=%s", deviceID, frame.Type)
		st.dispatch(frame)
	}

	// 断开时中止进行中的流，等待其定稿后保存会话
	cancel()
	st.turns.Wait()
	st.save()
}

func (st *connState) dispatch(frame clientFrame) {
	switch frame.Type {
	case frameSend:
		st.send(frame)
	case frameNewSession:
		if st.isBusy() {
			st.out.sendError(service.ErrTurnInProgress.Error())
			return
		}
		st.save()
		if err := st.session.ClearMessages(); err != nil {
			st.out.sendError(err.Error())
			return
		}
		id, err := st.session.NewSession()
		if err != nil {
			st.out.sendError(err.Error())
			return
		}
		st.persisted = false
		st.refreshParameters()
		st.out.sendSession(id)
	case frameResume:
		st.resume(frame.SessionID)
	case frameSave:
		st.save()
	default:
		st.out.sendError(fmt.Sprintf("未知的消息类型: %s", frame.Type))
	}
}

func (st *connState) isBusy() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.busy
}

func (st *connState) setBusy(b bool) {
	st.mu.Lock()
	st.busy = b
	st.mu.Unlock()
}

// send 在后台运行一轮问答，读循环保持可用以接收后续帧。
// 会话参数不在这里刷新：它们在会话开始或恢复时确定。
func (st *connState) send(frame clientFrame) {
	if st.isBusy() {
		st.out.sendError(service.ErrTurnInProgress.Error())
		return
	}

	var attachment *model.Attachment
	if frame.AttachmentID != "" {
		a, err := st.h.attachments.Fetch(st.ctx, st.deviceID, frame.AttachmentID, st.h.chatCfg.MaxAttachmentBytes)
		if err != nil {
			st.out.sendError(attachmentErrorMessage(err, st.h.chatCfg.MaxAttachmentBytes))
			return
		}
		attachment = a
	}

	st.setBusy(true)
	st.turns.Add(1)
	go func() {
		defer st.turns.Done()
		err := st.session.Send(st.ctx, frame.Text, attachment)
		// 先清除 busy 再写 completion，客户端收到 completion 后即可发送下一帧
		st.setBusy(false)
		if err != nil {
			st.out.sendError(err.Error())
			return
		}
		st.out.writeJSON(gin.H{
			"type":      frameCompletion,
			"status":    "finished",
			"sessionId": st.session.SessionID(),
			"timestamp": time.Now().UnixMilli(),
		})
	}()
}

func (st *connState) resume(sessionID string) {
	if st.isBusy() {
		st.out.sendError(service.ErrTurnInProgress.Error())
		return
	}
	entry, found := st.h.historyService.Find(st.ctx, st.deviceID, sessionID)
	if !found {
		st.out.sendError("历史会话不存在")
		return
	}
	st.save()
	if err := st.session.ResumeSession(entry); err != nil {
		st.out.sendError(err.Error())
		return
	}
	st.persisted = true
	st.out.sendSession(entry.ID)
	for _, m := range st.session.Messages() {
		st.out.writeJSON(gin.H{"type": frameMessage, "message": m})
	}
}

// refreshParameters 读取最新设置，仅在开始新会话时调用，作用于下一次创建的模型上下文。
func (st *connState) refreshParameters() {
	settings := st.h.settingsService.Get(st.ctx, st.deviceID)
	st.session.SetContextParameters(st.h.settingsService.ContextParameters(settings))
}

// save 把实时会话写入历史。已写入过但随后被删除的会话不再写回。
func (st *connState) save() {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	snap := st.session.Snapshot()
	if len(snap.Messages) == 0 {
		return
	}
	if st.persisted {
		if _, found := st.h.historyService.Find(ctx, st.deviceID, snap.SessionID); !found {
			log.Infof("会话已从历史中删除，跳过保存: device=%s, session=%s", st.deviceID, snap.SessionID)
			return
		}
	}
	if err := st.h.historyService.Save(ctx, st.deviceID, snap); err != nil {
		log.Errorf("保存历史会话失败: device=%s, err=%v", st.deviceID, err)
		return
	}
	st.persisted = true
}

func attachmentErrorMessage(err error, maxBytes int64) string {
	switch {
	case errors.Is(err, storage.ErrAttachmentTooLarge), errors.Is(err, service.ErrAttachmentTooLarge):
		return fmt.Sprintf("File is too large. Maximum size is %d MB.", maxBytes/(1024*1024))
	case errors.Is(err, storage.ErrAttachmentNotFound):
		return "附件不存在"
	case errors.Is(err, storage.ErrStorageDisabled):
		return "附件上传未启用"
	default:
		log.Errorf("读取附件失败: %v", err)
		return "读取附件失败"
	}
}
