package model

import (
	"time"
)

// ShipmentModel 出货单镜像记录
type ShipmentModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 链上标识
	ShipmentId int64 `json:"shipment_id" gorm:"uniqueIndex;not null"`
	BatchId    int64 `json:"batch_id" gorm:"not null;index"`

	// 收发双方
	FromAddress   string `json:"from_address" gorm:"not null;index"`
	ToAddress     string `json:"to_address" gorm:"not null;index"`
	FromCompanyId *int64 `json:"from_company_id"`
	ToCompanyId   *int64 `json:"to_company_id"`

	// 数量与物流信息
	Quantity    int64  `json:"quantity" gorm:"not null"`
	TrackingRef string `json:"tracking_ref"`

	// 状态
	Status ShipmentStatus `json:"status" gorm:"default:'pending'"`

	// 时间信息
	ShippedAt        *time.Time `json:"shipped_at"`
	ExpectedDelivery *time.Time `json:"expected_delivery"`
	DeliveredAt      *time.Time `json:"delivered_at"`

	// 区块链信息
	CreateTxHash  string `json:"create_tx_hash"`
	ReceiveTxHash string `json:"receive_tx_hash"`
	BlockNum      int64  `json:"block_num"`
}

// ShipmentStatus 出货单状态
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "pending"    // 待发出
	ShipmentStatusInTransit ShipmentStatus = "in_transit" // 运输中
	ShipmentStatusDelivered ShipmentStatus = "delivered"  // 已送达
	ShipmentStatusCancelled ShipmentStatus = "cancelled"  // 已取消
)

// TableName 自定义表名
func (ShipmentModel) TableName() string {
	return "shipment"
}
