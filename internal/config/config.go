// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	History  HistoryConfig  `mapstructure:"history"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
	Banks    []BankConfig   `mapstructure:"banks"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// StoreConfig 选择持久化存储的实现：redis | mysql | memory。
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储设备令牌相关的配置。
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// MinIOConfig 存储附件对象存储的配置。Endpoint 为空时附件上传被禁用。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig 存储会话事件发布的配置。Brokers 为空时不发布事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"` // gemini | openai
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示中的附加规则（可选）。
type LLMPromptConfig struct {
	Rules string `mapstructure:"rules"`
}

// ModelConfig 描述一个可供用户选择的模型。
type ModelConfig struct {
	Key  string `mapstructure:"key"`
	Name string `mapstructure:"name"`
}

// ChatConfig 存储会话编排相关的配置。
type ChatConfig struct {
	Models              []ModelConfig `mapstructure:"models"`
	DefaultModel        string        `mapstructure:"default_model"`
	FullCapabilityModel string        `mapstructure:"full_capability_model"`
	MaxAttachmentBytes  int64         `mapstructure:"max_attachment_bytes"`
	MaxHistoryTurns     int           `mapstructure:"max_history_turns"`
	AttachmentPrompt    string        `mapstructure:"attachment_prompt"`
	EmptyPrompt         string        `mapstructure:"empty_prompt"`
}

// HistoryConfig 存储历史会话保留策略。
type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
}

// DefaultsConfig 是设备首次使用时的默认偏好。
type DefaultsConfig struct {
	AppTheme          string `mapstructure:"app_theme"`
	BankID            string `mapstructure:"bank_id"`
	RiskTolerance     string `mapstructure:"risk_tolerance"`
	InvestmentHorizon string `mapstructure:"investment_horizon"`
}

// BankConfig 描述一个可选的银行/机构上下文。
type BankConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "8081")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("store.driver", "redis")
	viper.SetDefault("jwt.token_expire_hours", 24*30)
	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.timeout", 2*time.Minute)
	viper.SetDefault("chat.default_model", "flash")
	viper.SetDefault("chat.full_capability_model", "pro")
	viper.SetDefault("chat.max_attachment_bytes", DefaultMaxAttachmentBytes)
	viper.SetDefault("chat.attachment_prompt", "Please analyze the attached file.")
	viper.SetDefault("chat.empty_prompt", "Hello")
	viper.SetDefault("history.max_entries", DefaultMaxHistoryEntries)
	viper.SetDefault("defaults.app_theme", "system")
	viper.SetDefault("defaults.risk_tolerance", "moderate")
	viper.SetDefault("defaults.investment_horizon", "medium-term")
}

const (
	// DefaultMaxAttachmentBytes 附件大小上限 25 MB。
	DefaultMaxAttachmentBytes int64 = 25 * 1024 * 1024
	// DefaultMaxHistoryEntries 最多保留的历史会话数。
	DefaultMaxHistoryEntries = 20
)

// ModelName 根据模型 key 返回实际的模型名称；未知 key 原样返回。
func (c ChatConfig) ModelName(key string) string {
	for _, m := range c.Models {
		if m.Key == key {
			return m.Name
		}
	}
	return key
}

// BankName 根据 ID 查找银行名称。
func (c Config) BankName(id string) string {
	for _, b := range c.Banks {
		if b.ID == id {
			return b.Name
		}
	}
	return ""
}
