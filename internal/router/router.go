package router

import (
	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/handler"
	"github.com/blues/pts/internal/indexer"
	"github.com/blues/pts/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, chainClient *chain.Client, idx *indexer.Indexer, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "pharma-trace-service",
			"chain":   chainClient.GetHealthStatus(),
		})
	})

	traceLogic := logic.NewTraceLogic(db, chainClient, cfg.Inventory)
	companyLogic := logic.NewCompanyLogic(db)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		// 批次相关路由
		batchHandler := handler.NewBatchHandler(traceLogic)
		batches := v1.Group("/batches")
		{
			batches.POST("", batchHandler.IssueBatch)
			batches.GET("", batchHandler.GetBatches)
			batches.GET("/:id", batchHandler.GetBatch)
			batches.GET("/:id/shipments", batchHandler.GetBatchShipments)
			batches.GET("/:id/history", batchHandler.GetBatchHistory)
		}
		v1.GET("/verify", batchHandler.VerifyDrug)

		// 出货单相关路由
		shipmentHandler := handler.NewShipmentHandler(traceLogic, logic.NewShipmentLogic(db))
		shipments := v1.Group("/shipments")
		{
			shipments.POST("", shipmentHandler.CreateShipment)
			shipments.GET("", shipmentHandler.GetShipments)
			shipments.GET("/:id", shipmentHandler.GetShipment)
			shipments.POST("/:id/receive", shipmentHandler.ReceiveShipment)
			shipments.PUT("/:id/status", shipmentHandler.UpdateShipmentStatus)
		}

		// 企业与库存相关路由
		companyHandler := handler.NewCompanyHandler(companyLogic)
		inventoryHandler := handler.NewInventoryHandler(traceLogic,
			logic.NewDistributorInventoryLogic(db, cfg.Inventory),
			logic.NewPharmacyInventoryLogic(db, cfg.Inventory),
			companyLogic)
		companies := v1.Group("/companies")
		{
			companies.POST("", companyHandler.RegisterCompany)
			companies.GET("", companyHandler.GetCompanies)
			companies.GET("/:id", companyHandler.GetCompany)
			companies.GET("/:id/inventories", inventoryHandler.GetInventories)
			companies.GET("/:id/inventories/:batchId", inventoryHandler.GetInventory)
			companies.POST("/:id/sales", inventoryHandler.RecordSale)
			companies.POST("/:id/reservations", inventoryHandler.ReserveStock)
			companies.DELETE("/:id/reservations", inventoryHandler.ReleaseStock)
		}

		// 索引器运维路由
		indexerHandler := handler.NewIndexerHandler(idx, logic.NewEventLogic(db))
		indexerGroup := v1.Group("/indexer")
		{
			indexerGroup.GET("/status", indexerHandler.GetStatus)
			indexerGroup.POST("/backfill", indexerHandler.Backfill)
		}
		v1.GET("/events", indexerHandler.GetEvents)
		v1.GET("/events/statistics", indexerHandler.GetStatistics)
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Caller-Address")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
