package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
)

// shipmentTransitions 出货单状态机，只允许前进；cancelled 仅可从
// pending/in_transit 进入，delivered 和 cancelled 为终态
var shipmentTransitions = map[model.ShipmentStatus][]model.ShipmentStatus{
	model.ShipmentStatusPending:   {model.ShipmentStatusInTransit, model.ShipmentStatusDelivered, model.ShipmentStatusCancelled},
	model.ShipmentStatusInTransit: {model.ShipmentStatusDelivered, model.ShipmentStatusCancelled},
	model.ShipmentStatusDelivered: {},
	model.ShipmentStatusCancelled: {},
}

// ShipmentLogic 出货单业务逻辑
type ShipmentLogic struct {
	db *gorm.DB
}

// NewShipmentLogic 创建出货单业务逻辑
func NewShipmentLogic(db *gorm.DB) *ShipmentLogic {
	return &ShipmentLogic{db: db}
}

// CreateShipment 创建出货单镜像记录
func (s *ShipmentLogic) CreateShipment(tx *gorm.DB, shipment *model.ShipmentModel) error {
	if tx == nil {
		tx = s.db
	}
	if err := s.validateShipment(shipment); err != nil {
		return err
	}
	if shipment.Status == "" {
		shipment.Status = model.ShipmentStatusPending
	}

	if err := tx.Create(shipment).Error; err != nil {
		return fmt.Errorf("创建出货单记录失败: %w", err)
	}
	return nil
}

// GetShipment 根据链上出货单ID获取出货单
func (s *ShipmentLogic) GetShipment(shipmentId int64) (*model.ShipmentModel, error) {
	var shipment model.ShipmentModel
	if err := s.db.Where("shipment_id = ?", shipmentId).First(&shipment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("获取出货单失败: %w", err)
	}
	return &shipment, nil
}

// GetShipmentForUpdate 在事务内加锁获取出货单
func (s *ShipmentLogic) GetShipmentForUpdate(tx *gorm.DB, shipmentId int64) (*model.ShipmentModel, error) {
	var shipment model.ShipmentModel
	if err := lockForUpdate(tx).Where("shipment_id = ?", shipmentId).First(&shipment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShipmentNotFound
		}
		return nil, fmt.Errorf("获取出货单失败: %w", err)
	}
	return &shipment, nil
}

// GetShipmentsByBatch 获取批次的全部出货单
func (s *ShipmentLogic) GetShipmentsByBatch(batchId int64) ([]model.ShipmentModel, error) {
	var shipments []model.ShipmentModel
	if err := s.db.Where("batch_id = ?", batchId).
		Order("shipment_id ASC").
		Find(&shipments).Error; err != nil {
		return nil, fmt.Errorf("获取出货单列表失败: %w", err)
	}
	return shipments, nil
}

// GetShipmentsByAddress 获取某地址收发的出货单
func (s *ShipmentLogic) GetShipmentsByAddress(address string, status string) ([]model.ShipmentModel, error) {
	var shipments []model.ShipmentModel
	addr := strings.ToLower(address)
	query := s.db.Where("LOWER(from_address) = ? OR LOWER(to_address) = ?", addr, addr)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("shipment_id DESC").Find(&shipments).Error; err != nil {
		return nil, fmt.Errorf("获取出货单列表失败: %w", err)
	}
	return shipments, nil
}

// Transition 出货单状态流转，非法流转返回错误
func (s *ShipmentLogic) Transition(tx *gorm.DB, shipment *model.ShipmentModel,
	newStatus model.ShipmentStatus) error {
	if tx == nil {
		tx = s.db
	}

	if !canTransitionShipment(shipment.Status, newStatus) {
		return NewInvalidTransitionError(string(shipment.Status), string(newStatus))
	}

	updates := map[string]interface{}{"status": newStatus}
	if newStatus == model.ShipmentStatusDelivered {
		now := time.Now()
		updates["delivered_at"] = now
	}

	if err := tx.Model(&model.ShipmentModel{}).
		Where("shipment_id = ?", shipment.ShipmentId).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新出货单状态失败: %w", err)
	}

	shipment.Status = newStatus
	return nil
}

// MarkDelivered 签收出货单并记录签收交易哈希
func (s *ShipmentLogic) MarkDelivered(tx *gorm.DB, shipment *model.ShipmentModel, receiveTxHash string) error {
	if tx == nil {
		tx = s.db
	}

	if !canTransitionShipment(shipment.Status, model.ShipmentStatusDelivered) {
		return NewInvalidTransitionError(string(shipment.Status), string(model.ShipmentStatusDelivered))
	}
	return s.forceDelivered(tx, shipment, receiveTxHash)
}

// forceDelivered 直接写入签收字段，不做状态机检查。本地取消没有链上
// 对应操作，链上签收成功说明取消与账本不符，补账用它把 cancelled 行
// 修复为 delivered
func (s *ShipmentLogic) forceDelivered(tx *gorm.DB, shipment *model.ShipmentModel, receiveTxHash string) error {
	if tx == nil {
		tx = s.db
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          model.ShipmentStatusDelivered,
		"delivered_at":    now,
		"receive_tx_hash": receiveTxHash,
	}

	if err := tx.Model(&model.ShipmentModel{}).
		Where("shipment_id = ?", shipment.ShipmentId).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新出货单状态失败: %w", err)
	}

	shipment.Status = model.ShipmentStatusDelivered
	shipment.ReceiveTxHash = receiveTxHash
	shipment.DeliveredAt = &now
	return nil
}

// canTransitionShipment 检查出货单状态流转是否合法
func canTransitionShipment(from, to model.ShipmentStatus) bool {
	for _, allowed := range shipmentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// validateShipment 验证出货单数据
func (s *ShipmentLogic) validateShipment(shipment *model.ShipmentModel) error {
	if shipment.ShipmentId <= 0 {
		return errors.New("出货单ID不合法")
	}
	if shipment.BatchId <= 0 {
		return errors.New("批次ID不合法")
	}
	if shipment.FromAddress == "" || shipment.ToAddress == "" {
		return errors.New("收发地址不能为空")
	}
	if shipment.Quantity <= 0 {
		return errors.New("出货数量必须大于0")
	}
	return nil
}
