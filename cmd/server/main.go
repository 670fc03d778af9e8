// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/handler"
	"fin-chat-go/internal/middleware"
	"fin-chat-go/internal/repository"
	"fin-chat-go/internal/service"
	"fin-chat-go/pkg/database"
	"fin-chat-go/pkg/kafka"
	"fin-chat-go/pkg/llm"
	"fin-chat-go/pkg/log"
	"fin-chat-go/pkg/storage"
	"fin-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化持久化存储、对象存储与事件发布
	store := initStore(cfg)
	attachments := storage.InitMinIO(cfg.MinIO)
	publisher := kafka.NewPublisher(cfg.Kafka)
	defer publisher.Close()

	// 4. 初始化模型客户端；缺少凭证时服务照常启动，每轮问答以错误消息定稿
	llmClient, err := llm.NewClient(context.Background(), cfg.LLM)
	if err != nil {
		log.Warnf("模型客户端初始化失败，问答将返回错误: %v", err)
		llmClient = llm.Unavailable(err)
	}

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	settingsService := service.NewSettingsService(store, cfg)
	historyService := service.NewHistoryService(store, publisher, cfg.History)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.MaxMultipartMemory = cfg.Chat.MaxAttachmentBytes

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/devices/register", handler.NewDeviceHandler(jwtManager).Register)

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager))
		{
			settingsHandler := handler.NewSettingsHandler(settingsService)
			authed.GET("/settings", settingsHandler.Get)
			authed.PUT("/settings", settingsHandler.Update)

			historyHandler := handler.NewHistoryHandler(historyService)
			authed.GET("/history", historyHandler.List)
			authed.DELETE("/history/:id", historyHandler.Delete)
			authed.DELETE("/history", historyHandler.Clear)

			authed.POST("/attachments", handler.NewAttachmentHandler(attachments, cfg.Chat.MaxAttachmentBytes).Upload)
		}
	}
	r.GET("/chat/:token", handler.NewChatHandler(llmClient, settingsService, historyService, attachments, jwtManager, cfg).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown 不会等待已劫持的 WebSocket 连接，进行中的会话在连接断开时自行保存
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// initStore 按 store.driver 选择键值存储实现。
func initStore(cfg config.Config) repository.Store {
	switch cfg.Store.Driver {
	case "redis":
		return repository.NewRedisStore(database.InitRedis(cfg.Database.Redis))
	case "mysql":
		store, err := repository.NewMySQLStore(database.InitMySQL(cfg.Database.MySQL.DSN))
		if err != nil {
			log.Fatal("初始化 MySQL 存储失败", err)
		}
		return store
	case "memory":
		log.Warnf("使用内存存储，进程退出后设置与历史将丢失")
		return repository.NewMemoryStore()
	default:
		log.Fatalf("未知的 store.driver: %s", cfg.Store.Driver)
		return nil
	}
}
