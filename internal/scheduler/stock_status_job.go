package scheduler

import (
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StockStatusJob 库存状态刷新任务。临期和过期是时间的函数，即使没有
// 任何出入库也要周期性重算
type StockStatusJob struct {
	distInv  *logic.DistributorInventoryLogic
	pharmInv *logic.PharmacyInventoryLogic
	config   *config.Config
}

// NewStockStatusJob 创建库存状态刷新任务
func NewStockStatusJob(db *gorm.DB, cfg *config.Config) *StockStatusJob {
	return &StockStatusJob{
		distInv:  logic.NewDistributorInventoryLogic(db, cfg.Inventory),
		pharmInv: logic.NewPharmacyInventoryLogic(db, cfg.Inventory),
		config:   cfg,
	}
}

// GetName 获取任务名称
func (j *StockStatusJob) GetName() string {
	return "stock_status_refresher"
}

// GetSchedule 获取调度配置
func (j *StockStatusJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.StockInterval) * time.Second)
}

// Execute 重算全部库存行的状态
func (j *StockStatusJob) Execute() {
	distUpdated, err := j.distInv.RefreshStatuses()
	if err != nil {
		logger.Error("Failed to refresh distributor inventory statuses: %v", err)
	}

	pharmUpdated, err := j.pharmInv.RefreshStatuses()
	if err != nil {
		logger.Error("Failed to refresh pharmacy inventory statuses: %v", err)
	}

	if distUpdated+pharmUpdated > 0 {
		logger.Info("Stock status refresh updated %d distributor and %d pharmacy rows",
			distUpdated, pharmUpdated)
	}
}
