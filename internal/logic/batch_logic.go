package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
)

// batchTransitions 批次状态机。delivered 代表最近一次确认的签收，
// 后续再出货时允许回到 in_transit；sold 为终态
var batchTransitions = map[model.BatchStatus][]model.BatchStatus{
	model.BatchStatusManufactured: {model.BatchStatusInTransit},
	model.BatchStatusInTransit:    {model.BatchStatusInTransit, model.BatchStatusDelivered},
	model.BatchStatusDelivered:    {model.BatchStatusInTransit, model.BatchStatusSold},
	model.BatchStatusSold:         {},
}

// BatchLogic 批次业务逻辑
type BatchLogic struct {
	db *gorm.DB
}

// NewBatchLogic 创建批次业务逻辑
func NewBatchLogic(db *gorm.DB) *BatchLogic {
	return &BatchLogic{db: db}
}

// CreateBatch 创建批次镜像记录
func (b *BatchLogic) CreateBatch(tx *gorm.DB, batch *model.BatchModel) error {
	if tx == nil {
		tx = b.db
	}
	if err := b.validateBatch(batch); err != nil {
		return err
	}
	if batch.Status == "" {
		batch.Status = model.BatchStatusManufactured
	}

	if err := tx.Create(batch).Error; err != nil {
		return fmt.Errorf("创建批次记录失败: %w", err)
	}
	return nil
}

// GetBatch 根据链上批次ID获取批次
func (b *BatchLogic) GetBatch(batchId int64) (*model.BatchModel, error) {
	var batch model.BatchModel
	if err := b.db.Where("batch_id = ?", batchId).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("获取批次失败: %w", err)
	}
	return &batch, nil
}

// GetBatchForUpdate 在事务内加锁获取批次
func (b *BatchLogic) GetBatchForUpdate(tx *gorm.DB, batchId int64) (*model.BatchModel, error) {
	var batch model.BatchModel
	if err := lockForUpdate(tx).Where("batch_id = ?", batchId).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("获取批次失败: %w", err)
	}
	return &batch, nil
}

// GetBatchByQrCode 根据二维码获取批次
func (b *BatchLogic) GetBatchByQrCode(qrCode string) (*model.BatchModel, error) {
	var batch model.BatchModel
	if err := b.db.Where("qr_code = ?", qrCode).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("获取批次失败: %w", err)
	}
	return &batch, nil
}

// GetBatchesByOwner 获取某地址当前持有的批次
func (b *BatchLogic) GetBatchesByOwner(owner string) ([]model.BatchModel, error) {
	var batches []model.BatchModel
	if err := b.db.Where("LOWER(current_owner) = ?", strings.ToLower(owner)).
		Order("batch_id ASC").
		Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("获取批次列表失败: %w", err)
	}
	return batches, nil
}

// GetBatchesByManufacturer 获取某生产商签发的批次
func (b *BatchLogic) GetBatchesByManufacturer(manufacturer string) ([]model.BatchModel, error) {
	var batches []model.BatchModel
	if err := b.db.Where("manufacturer = ? OR LOWER(manufacturer_address) = ?",
		manufacturer, strings.ToLower(manufacturer)).
		Order("batch_id ASC").
		Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("获取批次列表失败: %w", err)
	}
	return batches, nil
}

// GetBatches 分页获取批次列表
func (b *BatchLogic) GetBatches(status string, page, pageSize int) ([]model.BatchModel, int64, error) {
	var batches []model.BatchModel
	var total int64

	query := b.db.Model(&model.BatchModel{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取批次总数失败: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).
		Order("batch_id DESC").
		Find(&batches).Error; err != nil {
		return nil, 0, fmt.Errorf("获取批次列表失败: %w", err)
	}

	return batches, total, nil
}

// Transition 批次状态流转，非法流转返回错误
func (b *BatchLogic) Transition(tx *gorm.DB, batch *model.BatchModel, newStatus model.BatchStatus,
	newOwner string) error {
	if tx == nil {
		tx = b.db
	}

	if !canTransitionBatch(batch.Status, newStatus) {
		return NewInvalidTransitionError(string(batch.Status), string(newStatus))
	}

	updates := map[string]interface{}{"status": newStatus}
	if newOwner != "" {
		updates["current_owner"] = newOwner
	}

	if err := tx.Model(&model.BatchModel{}).
		Where("batch_id = ?", batch.BatchId).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新批次状态失败: %w", err)
	}

	batch.Status = newStatus
	if newOwner != "" {
		batch.CurrentOwner = newOwner
	}
	return nil
}

// forceState 直接写入批次状态与所有者，不做状态机检查，补账按账本
// 修复镜像时使用
func (b *BatchLogic) forceState(tx *gorm.DB, batch *model.BatchModel, newStatus model.BatchStatus,
	newOwner string) error {
	if tx == nil {
		tx = b.db
	}

	updates := map[string]interface{}{"status": newStatus}
	if newOwner != "" {
		updates["current_owner"] = newOwner
	}

	if err := tx.Model(&model.BatchModel{}).
		Where("batch_id = ?", batch.BatchId).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新批次状态失败: %w", err)
	}

	batch.Status = newStatus
	if newOwner != "" {
		batch.CurrentOwner = newOwner
	}
	return nil
}

// canTransitionBatch 检查批次状态流转是否合法
func canTransitionBatch(from, to model.BatchStatus) bool {
	for _, allowed := range batchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// validateBatch 验证批次数据
func (b *BatchLogic) validateBatch(batch *model.BatchModel) error {
	if batch.BatchId <= 0 {
		return errors.New("批次ID不合法")
	}
	if batch.DrugName == "" {
		return errors.New("药品名称不能为空")
	}
	if batch.TotalQuantity <= 0 {
		return errors.New("生产数量必须大于0")
	}
	if batch.CurrentOwner == "" {
		return errors.New("当前所有者不能为空")
	}
	if !batch.ExpiryDate.IsZero() && !batch.ManufactureDate.IsZero() &&
		batch.ExpiryDate.Before(batch.ManufactureDate) {
		return errors.New("过期时间不能早于生产时间")
	}
	return nil
}

// IsExpired 批次是否已过期
func (b *BatchLogic) IsExpired(batch *model.BatchModel) bool {
	return !batch.ExpiryDate.IsZero() && time.Now().After(batch.ExpiryDate)
}
