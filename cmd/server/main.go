package main

import (
	"log"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/database"
	"github.com/blues/pts/internal/indexer"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/router"
	"github.com/blues/pts/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	if err := logger.InitFromConfig(cfg.Log); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化账本客户端
	chainClient, err := chain.NewClient(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client: %v", err)
	}
	defer chainClient.Close()

	// 事件索引器
	idx := indexer.New(db, chainClient, cfg.Task)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(db, chainClient, idx, cfg)

	// 启动定时任务
	manager, err := scheduler.NewManager(db, idx, cfg)
	if err != nil {
		logger.Fatal("Failed to create task manager: %v", err)
	}
	manager.Start()
	defer manager.Stop()

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
