package scheduler

import (
	"context"
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/indexer"
	"github.com/blues/pts/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// IndexJob 事件索引任务，周期性推进安全窗口内的事件扫描
type IndexJob struct {
	indexer *indexer.Indexer
	config  *config.Config
}

// NewIndexJob 创建事件索引任务
func NewIndexJob(idx *indexer.Indexer, cfg *config.Config) *IndexJob {
	return &IndexJob{
		indexer: idx,
		config:  cfg,
	}
}

// GetName 获取任务名称
func (j *IndexJob) GetName() string {
	return "event_indexer"
}

// GetSchedule 获取调度配置
func (j *IndexJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.IndexInterval) * time.Second)
}

// Execute 执行一轮扫描
func (j *IndexJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(j.config.Task.IndexInterval)*time.Second)
	defer cancel()

	inserted, err := j.indexer.Tick(ctx)
	if err != nil {
		logger.Error("Event index tick failed: %v", err)
		return
	}
	if inserted > 0 {
		logger.Info("Event index tick stored %d new events", inserted)
	}
}
