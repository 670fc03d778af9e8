package handler

import (
	"net/http"

	"fin-chat-go/internal/middleware"
	"fin-chat-go/internal/service"
	"fin-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// HistoryHandler 处理历史会话相关的 API 请求。
type HistoryHandler struct {
	historyService service.HistoryService
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(historyService service.HistoryService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService}
}

// List 返回设备的历史会话，最新的在前。
func (h *HistoryHandler) List(c *gin.Context) {
	ok(c, "success", h.historyService.Load(c.Request.Context(), middleware.DeviceID(c)))
}

// Delete 删除一条历史会话。
func (h *HistoryHandler) Delete(c *gin.Context) {
	deviceID := middleware.DeviceID(c)
	id := c.Param("id")
	if _, found := h.historyService.Find(c.Request.Context(), deviceID, id); !found {
		fail(c, http.StatusNotFound, "历史会话不存在")
		return
	}
	if err := h.historyService.Delete(c.Request.Context(), deviceID, id); err != nil {
		log.Errorf("删除历史会话失败: device=%s, id=%s, err=%v", deviceID, id, err)
		fail(c, http.StatusInternalServerError, "Failed to delete conversation history")
		return
	}
	ok(c, "success", nil)
}

// Clear 清空设备的全部历史会话。
func (h *HistoryHandler) Clear(c *gin.Context) {
	deviceID := middleware.DeviceID(c)
	if err := h.historyService.Clear(c.Request.Context(), deviceID); err != nil {
		log.Errorf("清空历史会话失败: device=%s, err=%v", deviceID, err)
		fail(c, http.StatusInternalServerError, "Failed to clear conversation history")
		return
	}
	ok(c, "success", nil)
}
