package handler

import (
	"net/http"
	"regexp"

	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// DeviceHandler 负责设备注册与令牌签发。
type DeviceHandler struct {
	jwtManager *token.JWTManager
}

// NewDeviceHandler 创建一个新的 DeviceHandler 实例。
func NewDeviceHandler(jwtManager *token.JWTManager) *DeviceHandler {
	return &DeviceHandler{jwtManager: jwtManager}
}

// RegisterDeviceRequest 是设备注册的请求体。DeviceID 为空时由服务端生成。
type RegisterDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// Register 为设备签发令牌。已有设备 ID 的客户端重新注册即可续期。
func (h *DeviceHandler) Register(c *gin.Context) {
	var req RegisterDeviceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warnf("Register: Invalid request payload, error: %v", err)
			fail(c, http.StatusBadRequest, "无效的请求负载")
			return
		}
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	} else if !deviceIDPattern.MatchString(deviceID) {
		fail(c, http.StatusBadRequest, "无效的设备 ID")
		return
	}

	tok, err := h.jwtManager.GenerateToken(deviceID)
	if err != nil {
		log.Errorf("Register: failed to sign token for device %s: %v", deviceID, err)
		fail(c, http.StatusInternalServerError, "签发令牌失败")
		return
	}

	log.Infof("设备 '%s' 注册成功", deviceID)
	ok(c, "Device registered successfully", gin.H{
		"deviceId": deviceID,
		"token":    tok,
	})
}
