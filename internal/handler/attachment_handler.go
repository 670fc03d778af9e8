package handler

import (
	"errors"
	"fmt"
	"net/http"

	"fin-chat-go/internal/middleware"
	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/storage"

	"github.com/gin-gonic/gin"
)

// AttachmentHandler 处理附件上传。上传后返回句柄，发送消息时通过句柄引用附件。
type AttachmentHandler struct {
	attachments storage.AttachmentStore
	maxBytes    int64
}

// NewAttachmentHandler 创建一个新的 AttachmentHandler 实例。
func NewAttachmentHandler(attachments storage.AttachmentStore, maxBytes int64) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments, maxBytes: maxBytes}
}

// Upload 接收 multipart 表单中的 file 字段。
func (h *AttachmentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "缺少文件")
		return
	}
	if fileHeader.Size > h.maxBytes {
		fail(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is too large. Maximum size is %d MB.", h.maxBytes/(1024*1024)))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: failed to open multipart file", err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	handle, err := h.attachments.Put(c.Request.Context(), middleware.DeviceID(c), fileHeader.Filename, mimeType, file, fileHeader.Size)
	if err != nil {
		if errors.Is(err, storage.ErrStorageDisabled) {
			fail(c, http.StatusServiceUnavailable, "附件上传未启用")
			return
		}
		log.Errorf("Upload: failed to store attachment: %v", err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
		return
	}

	ok(c, "success", gin.H{
		"attachmentId": handle,
		"name":         fileHeader.Filename,
		"mimeType":     mimeType,
		"size":         fileHeader.Size,
	})
}
