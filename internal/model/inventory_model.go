package model

import (
	"time"
)

// InventoryStatus 库存状态
type InventoryStatus string

const (
	InventoryStatusInStock      InventoryStatus = "in_stock"      // 库存正常
	InventoryStatusLowStock     InventoryStatus = "low_stock"     // 低库存
	InventoryStatusExpiringSoon InventoryStatus = "expiring_soon" // 临期
	InventoryStatusExpired      InventoryStatus = "expired"       // 已过期
)

// DistributorInventoryModel 经销商库存记录，按 (company_id, batch_id) 唯一
type DistributorInventoryModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyId int64 `json:"company_id" gorm:"not null;uniqueIndex:idx_dist_inv_company_batch"`
	BatchId   int64 `json:"batch_id" gorm:"not null;uniqueIndex:idx_dist_inv_company_batch"`

	// 批次静态信息快照
	DrugName     string    `json:"drug_name"`
	Manufacturer string    `json:"manufacturer"`
	BatchNumber  string    `json:"batch_number"`
	ExpiryDate   time.Time `json:"expiry_date"`
	QrCode       string    `json:"qr_code"`

	// 数量信息：AvailableQuantity 永远通过 Quantity-ReservedQuantity 计算得出
	Quantity         int64 `json:"quantity" gorm:"not null;default:0"`
	ReservedQuantity int64 `json:"reserved_quantity" gorm:"not null;default:0"`

	// 入库审计信息
	ReceivedQuantity   int64      `json:"received_quantity"`
	ReceivedShipmentId *int64     `json:"received_shipment_id"`
	ReceivedAt         *time.Time `json:"received_at"`

	Status InventoryStatus `json:"status" gorm:"default:'in_stock'"`
}

// AvailableQuantity 可用数量（在手数量减去预留数量）
func (m *DistributorInventoryModel) AvailableQuantity() int64 {
	return m.Quantity - m.ReservedQuantity
}

// TableName 自定义表名
func (DistributorInventoryModel) TableName() string {
	return "distributor_inventory"
}

// PharmacyInventoryModel 药房库存记录，按 (company_id, batch_id) 唯一
type PharmacyInventoryModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CompanyId int64 `json:"company_id" gorm:"not null;uniqueIndex:idx_pharm_inv_company_batch"`
	BatchId   int64 `json:"batch_id" gorm:"not null;uniqueIndex:idx_pharm_inv_company_batch"`

	// 批次静态信息快照
	DrugName     string    `json:"drug_name"`
	Manufacturer string    `json:"manufacturer"`
	BatchNumber  string    `json:"batch_number"`
	ExpiryDate   time.Time `json:"expiry_date"`
	QrCode       string    `json:"qr_code"`

	// 数量信息：AvailableQuantity 永远通过 Quantity-ReservedQuantity 计算得出
	Quantity         int64 `json:"quantity" gorm:"not null;default:0"`
	ReservedQuantity int64 `json:"reserved_quantity" gorm:"not null;default:0"`

	// 销售信息
	SoldQuantity int64      `json:"sold_quantity" gorm:"not null;default:0"`
	FirstSaleAt  *time.Time `json:"first_sale_at"`
	LastSaleAt   *time.Time `json:"last_sale_at"`

	// 入库审计信息
	ReceivedQuantity   int64      `json:"received_quantity"`
	ReceivedShipmentId *int64     `json:"received_shipment_id"`
	ReceivedAt         *time.Time `json:"received_at"`

	Status InventoryStatus `json:"status" gorm:"default:'in_stock'"`
}

// AvailableQuantity 可用数量（在手数量减去预留数量）
func (m *PharmacyInventoryModel) AvailableQuantity() int64 {
	return m.Quantity - m.ReservedQuantity
}

// TableName 自定义表名
func (PharmacyInventoryModel) TableName() string {
	return "pharmacy_inventory"
}
