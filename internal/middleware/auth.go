// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// ContextDeviceKey 是设备 ID 在 gin.Context 中的键。
const ContextDeviceKey = "deviceId"

// AuthMiddleware 校验 Authorization 头中的设备令牌，并将设备 ID 存入上下文。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}

		// Token 以 "Bearer <token>" 的形式提供
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("设备令牌校验失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		c.Set(ContextDeviceKey, claims.DeviceID)
		c.Set("claims", claims)
		c.Next()
	}
}

// DeviceID 返回 AuthMiddleware 写入的设备 ID。
func DeviceID(c *gin.Context) string {
	return c.GetString(ContextDeviceKey)
}
