package logic

import (
	"errors"
	"fmt"

	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventLogic 链上事件业务逻辑
type EventLogic struct {
	db *gorm.DB
}

// NewEventLogic 创建事件业务逻辑
func NewEventLogic(db *gorm.DB) *EventLogic {
	return &EventLogic{db: db}
}

// CreateEvent 创建事件记录。依赖 (tx_hash, log_index) 唯一键去重，
// 重复事件静默忽略，返回是否实际插入
func (e *EventLogic) CreateEvent(event *model.EventModel) (bool, error) {
	if err := e.validateEvent(event); err != nil {
		return false, err
	}

	result := e.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "log_index"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("创建事件记录失败: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// GetLastIndexedBlock 获取已索引的最大区块号。索引水位线始终从已落库的
// 事件推导，崩溃后重新扫描由唯一键保证幂等
func (e *EventLogic) GetLastIndexedBlock() (int64, error) {
	var maxBlock int64
	err := e.db.Model(&model.EventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxBlock).Error
	if err != nil {
		return 0, fmt.Errorf("获取最后索引区块号失败: %w", err)
	}
	return maxBlock, nil
}

// CheckEventExists 检查事件是否已存在
func (e *EventLogic) CheckEventExists(txHash string, logIndex int64) (bool, error) {
	var count int64
	err := e.db.Model(&model.EventModel{}).
		Where("tx_hash = ? AND log_index = ?", txHash, logIndex).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("检查事件是否存在失败: %w", err)
	}
	return count > 0, nil
}

// GetUnprocessedEvents 按区块和日志顺序获取未处理的事件
func (e *EventLogic) GetUnprocessedEvents(limit int) ([]model.EventModel, error) {
	var events []model.EventModel
	if err := e.db.Where("processed = ?", false).
		Order("block_num ASC, log_index ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("获取未处理事件失败: %w", err)
	}
	return events, nil
}

// MarkProcessed 标记事件已处理
func (e *EventLogic) MarkProcessed(tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = e.db
	}
	if err := tx.Model(&model.EventModel{}).Where("id = ?", id).Update("processed", true).Error; err != nil {
		return fmt.Errorf("更新事件处理状态失败: %w", err)
	}
	return nil
}

// GetEvents 获取事件列表
func (e *EventLogic) GetEvents(batchId int64, eventType string, page, pageSize int) ([]model.EventModel, int64, error) {
	var events []model.EventModel
	var total int64

	// 构建查询条件
	query := e.db.Model(&model.EventModel{})
	if batchId > 0 {
		query = query.Where("batch_id = ?", batchId)
	}
	if eventType != "" {
		query = query.Where("event_type = ?", eventType)
	}

	// 获取总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取事件总数失败: %w", err)
	}

	// 分页查询
	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).
		Order("block_num DESC, log_index DESC").
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("获取事件列表失败: %w", err)
	}

	return events, total, nil
}

// GetStatistics 获取事件统计信息
func (e *EventLogic) GetStatistics() (map[string]interface{}, error) {
	var total, processed int64

	if err := e.db.Model(&model.EventModel{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("获取总事件数失败: %w", err)
	}
	if err := e.db.Model(&model.EventModel{}).Where("processed = ?", true).Count(&processed).Error; err != nil {
		return nil, fmt.Errorf("获取已处理事件数失败: %w", err)
	}

	return map[string]interface{}{
		"total_events":     total,
		"processed_events": processed,
		"pending_events":   total - processed,
	}, nil
}

// validateEvent 验证事件数据
func (e *EventLogic) validateEvent(event *model.EventModel) error {
	if event.ContractAddress == "" {
		return errors.New("合约地址不能为空")
	}
	if event.EventType == "" {
		return errors.New("事件类型不能为空")
	}
	if event.TxHash == "" {
		return errors.New("交易哈希不能为空")
	}
	if event.BlockNum == 0 {
		return errors.New("区块号不能为空")
	}
	return nil
}
