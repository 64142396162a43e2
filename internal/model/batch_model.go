package model

import (
	"time"
)

// BatchModel 药品批次镜像记录
type BatchModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 链上标识
	BatchId int64 `json:"batch_id" gorm:"uniqueIndex;not null"`

	// 基本信息
	DrugName            string `json:"drug_name" gorm:"not null" binding:"required"`
	Manufacturer        string `json:"manufacturer" gorm:"not null"`
	ManufacturerAddress string `json:"manufacturer_address" gorm:"not null;index"`
	BatchNumber         string `json:"batch_number" gorm:"not null"`
	StorageCondition    string `json:"storage_condition"`

	// 数量信息：TotalQuantity 为历史生产总量，出入库不修改此字段
	TotalQuantity int64 `json:"total_quantity" gorm:"not null" binding:"required,min=1"`

	// 时间信息
	ManufactureDate time.Time `json:"manufacture_date" gorm:"not null"`
	ExpiryDate      time.Time `json:"expiry_date" gorm:"not null"`

	// 所有权与状态
	CurrentOwner string      `json:"current_owner" gorm:"not null;index"`
	Status       BatchStatus `json:"status" gorm:"default:'manufactured'"`

	// 本地元数据
	QrCode string `json:"qr_code" gorm:"uniqueIndex"`

	// 区块链信息
	TxHash   string `json:"tx_hash"`
	BlockNum int64  `json:"block_num"`
	IsSynced bool   `json:"is_synced" gorm:"default:false"`
}

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchStatusManufactured BatchStatus = "manufactured" // 已生产
	BatchStatusInTransit    BatchStatus = "in_transit"   // 运输中
	BatchStatusDelivered    BatchStatus = "delivered"    // 已送达
	BatchStatusSold         BatchStatus = "sold"         // 已售出
)

// TableName 自定义表名
func (BatchModel) TableName() string {
	return "batch"
}
