package scheduler

import (
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// ReconcileJob 镜像补账任务，回放未处理事件补齐本地镜像
type ReconcileJob struct {
	reconciler *logic.ReconcileLogic
	config     *config.Config
}

// NewReconcileJob 创建补账任务
func NewReconcileJob(db *gorm.DB, cfg *config.Config) *ReconcileJob {
	return &ReconcileJob{
		reconciler: logic.NewReconcileLogic(db, cfg.Inventory),
		config:     cfg,
	}
}

// GetName 获取任务名称
func (j *ReconcileJob) GetName() string {
	return "mirror_reconciler"
}

// GetSchedule 获取调度配置
func (j *ReconcileJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.ReconcileInterval) * time.Second)
}

// Execute 处理一轮未处理事件
func (j *ReconcileJob) Execute() {
	if _, err := j.reconciler.Run(); err != nil {
		logger.Error("Mirror reconcile run failed: %v", err)
	}
}
