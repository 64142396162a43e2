package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
)

// PharmacyInventoryLogic 药房库存对账引擎，与经销商引擎结构一致，
// 消耗操作对应药品销售，额外维护销量与首末次销售时间
type PharmacyInventoryLogic struct {
	db  *gorm.DB
	cfg config.InventoryConfig
}

// NewPharmacyInventoryLogic 创建药房库存业务逻辑
func NewPharmacyInventoryLogic(db *gorm.DB, cfg config.InventoryConfig) *PharmacyInventoryLogic {
	return &PharmacyInventoryLogic{db: db, cfg: cfg}
}

// Receive 确认入库。(company, batch) 行不存在时按批次静态信息惰性创建
func (l *PharmacyInventoryLogic) Receive(tx *gorm.DB, companyId int64, batch *model.BatchModel,
	quantity int64, shipmentId *int64) error {
	if tx == nil {
		tx = l.db
	}
	if quantity <= 0 {
		return errors.New("入库数量必须大于0")
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batch.BatchId).
		First(&inv).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询库存记录失败: %w", err)
		}
		// 惰性创建，快照批次静态信息
		inv = model.PharmacyInventoryModel{
			CompanyId:    companyId,
			BatchId:      batch.BatchId,
			DrugName:     batch.DrugName,
			Manufacturer: batch.Manufacturer,
			BatchNumber:  batch.BatchNumber,
			ExpiryDate:   batch.ExpiryDate,
			QrCode:       batch.QrCode,
			Quantity:     0,
		}
		if err := tx.Create(&inv).Error; err != nil {
			return fmt.Errorf("创建库存记录失败: %w", err)
		}
	}

	now := time.Now()
	updates := map[string]interface{}{
		"quantity":          inv.Quantity + quantity,
		"received_quantity": quantity,
		"received_at":       now,
		"status":            deriveInventoryStatus(inv.Quantity+quantity, inv.ExpiryDate, l.cfg, now),
	}
	if shipmentId != nil {
		updates["received_shipment_id"] = *shipmentId
	}

	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新库存数量失败: %w", err)
	}

	logger.Info("Pharmacy %d received %d units of batch %d", companyId, quantity, batch.BatchId)
	return nil
}

// RecordSale 确认销售。超过可用数量时返回库存不足错误，绝不静默截断；
// 成功后累计销量并记录首末次销售时间
func (l *PharmacyInventoryLogic) RecordSale(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}
	if quantity <= 0 {
		return errors.New("销售数量必须大于0")
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInventoryNotFound
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	available := inv.AvailableQuantity()
	if quantity > available {
		return NewInsufficientStockError(available, quantity)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"quantity":      inv.Quantity - quantity,
		"sold_quantity": inv.SoldQuantity + quantity,
		"last_sale_at":  now,
		"status":        deriveInventoryStatus(inv.Quantity-quantity, inv.ExpiryDate, l.cfg, now),
	}
	if inv.FirstSaleAt == nil {
		updates["first_sale_at"] = now
	}

	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新库存数量失败: %w", err)
	}

	logger.Info("Pharmacy %d sold %d units of batch %d", companyId, quantity, batchId)
	return nil
}

// Consume 出库扣减（退货或转运出货等非销售场景），不计入销量
func (l *PharmacyInventoryLogic) Consume(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}
	if quantity <= 0 {
		return errors.New("出库数量必须大于0")
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInventoryNotFound
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	available := inv.AvailableQuantity()
	if quantity > available {
		return NewInsufficientStockError(available, quantity)
	}

	updates := map[string]interface{}{
		"quantity": inv.Quantity - quantity,
		"status":   deriveInventoryStatus(inv.Quantity-quantity, inv.ExpiryDate, l.cfg, time.Now()),
	}
	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新库存数量失败: %w", err)
	}

	logger.Info("Pharmacy %d consumed %d units of batch %d", companyId, quantity, batchId)
	return nil
}

// Restock 出货单取消后回补库存。行不存在时跳过
func (l *PharmacyInventoryLogic) Restock(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	updates := map[string]interface{}{
		"quantity": inv.Quantity + quantity,
		"status":   deriveInventoryStatus(inv.Quantity+quantity, inv.ExpiryDate, l.cfg, time.Now()),
	}
	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("回补库存失败: %w", err)
	}
	return nil
}

// deduct 镜像修复扣减。账本状态为准，不受可用数量约束，下限为0，
// 行不存在时跳过
func (l *PharmacyInventoryLogic) deduct(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	remaining := inv.Quantity - quantity
	if remaining < 0 {
		remaining = 0
	}
	updates := map[string]interface{}{
		"quantity": remaining,
		"status":   deriveInventoryStatus(remaining, inv.ExpiryDate, l.cfg, time.Now()),
	}
	if err := tx.Model(&inv).Updates(updates).Error; err != nil {
		return fmt.Errorf("修复库存数量失败: %w", err)
	}
	return nil
}

// Reserve 预留库存（待支付订单等场景），受可用数量约束
func (l *PharmacyInventoryLogic) Reserve(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}
	if quantity <= 0 {
		return errors.New("预留数量必须大于0")
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInventoryNotFound
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	available := inv.AvailableQuantity()
	if quantity > available {
		return NewInsufficientStockError(available, quantity)
	}

	if err := tx.Model(&inv).Update("reserved_quantity", inv.ReservedQuantity+quantity).Error; err != nil {
		return fmt.Errorf("预留库存失败: %w", err)
	}
	return nil
}

// Release 释放预留，下限为0
func (l *PharmacyInventoryLogic) Release(tx *gorm.DB, companyId, batchId, quantity int64) error {
	if tx == nil {
		tx = l.db
	}

	var inv model.PharmacyInventoryModel
	err := lockForUpdate(tx).
		Where("company_id = ? AND batch_id = ?", companyId, batchId).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询库存记录失败: %w", err)
	}

	released := inv.ReservedQuantity - quantity
	if released < 0 {
		released = 0
	}

	if err := tx.Model(&inv).Update("reserved_quantity", released).Error; err != nil {
		return fmt.Errorf("释放预留失败: %w", err)
	}
	return nil
}

// GetInventory 获取单条库存记录
func (l *PharmacyInventoryLogic) GetInventory(companyId, batchId int64) (*model.PharmacyInventoryModel, error) {
	var inv model.PharmacyInventoryModel
	err := l.db.Where("company_id = ? AND batch_id = ?", companyId, batchId).First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInventoryNotFound
		}
		return nil, fmt.Errorf("查询库存记录失败: %w", err)
	}
	return &inv, nil
}

// GetInventories 获取企业的全部库存
func (l *PharmacyInventoryLogic) GetInventories(companyId int64) ([]model.PharmacyInventoryModel, error) {
	var invs []model.PharmacyInventoryModel
	if err := l.db.Where("company_id = ?", companyId).
		Order("batch_id ASC").
		Find(&invs).Error; err != nil {
		return nil, fmt.Errorf("获取库存列表失败: %w", err)
	}
	return invs, nil
}

// RefreshStatuses 重新计算全部库存行的状态
func (l *PharmacyInventoryLogic) RefreshStatuses() (int, error) {
	var invs []model.PharmacyInventoryModel
	if err := l.db.Find(&invs).Error; err != nil {
		return 0, fmt.Errorf("获取库存列表失败: %w", err)
	}

	now := time.Now()
	updated := 0
	for _, inv := range invs {
		status := deriveInventoryStatus(inv.Quantity, inv.ExpiryDate, l.cfg, now)
		if status == inv.Status {
			continue
		}
		if err := l.db.Model(&inv).Update("status", status).Error; err != nil {
			logger.Error("Failed to update inventory %d status: %v", inv.Id, err)
			continue
		}
		updated++
	}
	return updated, nil
}
