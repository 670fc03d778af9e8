// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
)

// 按设备持久化的逻辑键。
const (
	KeyAppTheme            = "appTheme"
	KeySelectedAIModel     = "selectedAiModelKey"
	KeyEnableDeepResearch  = "enableDeepResearch"
	KeySelectedBankID      = "selectedBankId"
	KeyUserProfile         = "userProfile"
	KeyAnalysisPreferences = "analysisPreferences"
	KeyChatHistory         = "chatHistory"
)

// Store 是字符串键值的持久化存储。值在调用方序列化为 JSON 字符串。
// 不同键之间的写入相互独立，不做跨键协调。
type Store interface {
	// Get 返回键对应的值；键不存在时 ok 为 false 且 err 为 nil。
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// DeviceKey 生成设备命名空间下的存储键。
func DeviceKey(deviceID, name string) string {
	return fmt.Sprintf("device:%s:%s", deviceID, name)
}
