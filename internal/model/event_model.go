package model

import (
	"time"
)

// 事件类型，与溯源合约的事件签名一一对应
const (
	EventTypeBatchIssued      = "BatchIssued"
	EventTypeShipmentCreated  = "ShipmentCreated"
	EventTypeShipmentReceived = "ShipmentReceived"
)

// EventModel 链上事件记录，按 (tx_hash, log_index) 去重，只追加不修改
type EventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractAddress string `json:"contract_address" gorm:"not null"`
	EventType       string `json:"event_type" gorm:"not null;index"`
	TxHash          string `json:"tx_hash" gorm:"not null;uniqueIndex:idx_event_tx_log"`
	LogIndex        int64  `json:"log_index" gorm:"uniqueIndex:idx_event_tx_log"`
	BlockNum        int64  `json:"block_num" gorm:"not null;index"`

	// 解析出的业务字段
	BatchId     int64  `json:"batch_id" gorm:"index"`
	ShipmentId  int64  `json:"shipment_id" gorm:"index"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Quantity    int64  `json:"quantity"`

	Data      string `json:"data" gorm:"type:text"`
	Processed bool   `json:"processed" gorm:"default:false;index"`
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "blockchain_event"
}
