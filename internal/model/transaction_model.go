package model

import (
	"time"
)

// TransactionModel 本地发起的链上交易审计记录，创建后不再修改
type TransactionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TxHash       string `json:"tx_hash" gorm:"not null;uniqueIndex"`
	BlockNum     int64  `json:"block_num"`
	FromAddress  string `json:"from_address" gorm:"not null"`
	ToAddress    string `json:"to_address" gorm:"not null"`
	FunctionName string `json:"function_name" gorm:"not null"`
	GasUsed      int64  `json:"gas_used"`

	Status TransactionStatus `json:"status" gorm:"default:'pending'"`

	// 关联的业务记录
	BatchId    *int64 `json:"batch_id" gorm:"index"`
	ShipmentId *int64 `json:"shipment_id" gorm:"index"`
}

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"  // 待确认
	TransactionStatusSuccess  TransactionStatus = "success"  // 成功
	TransactionStatusFailed   TransactionStatus = "failed"   // 失败
	TransactionStatusReverted TransactionStatus = "reverted" // 已回滚
)

// TableName 自定义表名
func (TransactionModel) TableName() string {
	return "blockchain_transaction"
}
