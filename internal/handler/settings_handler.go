package handler

import (
	"net/http"

	"fin-chat-go/internal/middleware"
	"fin-chat-go/internal/model"
	"fin-chat-go/internal/service"
	"fin-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SettingsHandler 处理偏好设置的读取与更新。
type SettingsHandler struct {
	settingsService service.SettingsService
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(settingsService service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// Get 返回当前设备的设置，未设置的字段为默认值。
func (h *SettingsHandler) Get(c *gin.Context) {
	ok(c, "success", h.settingsService.Get(c.Request.Context(), middleware.DeviceID(c)))
}

// Update 按字段更新设置，请求体中缺省的字段保持不变。
func (h *SettingsHandler) Update(c *gin.Context) {
	var patch model.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载")
		return
	}

	st, err := h.settingsService.Update(c.Request.Context(), middleware.DeviceID(c), patch)
	if err != nil {
		log.Errorf("更新设置失败: %v", err)
		fail(c, http.StatusInternalServerError, "保存设置失败")
		return
	}
	ok(c, "success", st)
}
