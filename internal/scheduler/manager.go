package scheduler

import (
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/indexer"
	"github.com/blues/pts/internal/logger"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Job 后台任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 后台任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	db        *gorm.DB
	indexer   *indexer.Indexer
	config    *config.Config
}

// NewManager 创建任务管理器
func NewManager(db *gorm.DB, idx *indexer.Indexer, cfg *config.Config) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Manager{
		scheduler: s,
		db:        db,
		indexer:   idx,
		config:    cfg,
	}, nil
}

// Start 注册全部任务并启动调度器
func (m *Manager) Start() {
	m.registerJob(NewIndexJob(m.indexer, m.config))
	m.registerJob(NewReconcileJob(m.db, m.config))
	m.registerJob(NewStockStatusJob(m.db, m.config))

	m.scheduler.Start()
	logger.Info("Task manager started")
}

// registerJob 注册单个任务。单例模式防止慢任务自我重叠
func (m *Manager) registerJob(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
		return
	}
	logger.Info("Task manager stopped")
}
