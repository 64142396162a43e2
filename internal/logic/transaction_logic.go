package logic

import (
	"errors"
	"fmt"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionLogic 链上交易审计记录业务逻辑
type TransactionLogic struct {
	db *gorm.DB
}

// NewTransactionLogic 创建交易审计业务逻辑
func NewTransactionLogic(db *gorm.DB) *TransactionLogic {
	return &TransactionLogic{db: db}
}

// RecordReceipt 根据回执写入交易审计记录。记录创建后不再修改，
// 重复哈希静默忽略
func (t *TransactionLogic) RecordReceipt(tx *gorm.DB, receipt *chain.Receipt, functionName,
	fromAddress, toAddress string, batchId, shipmentId *int64) error {
	if tx == nil {
		tx = t.db
	}

	status := model.TransactionStatusSuccess
	if !receipt.Success {
		status = model.TransactionStatusReverted
	}

	record := &model.TransactionModel{
		TxHash:       receipt.TxHash,
		BlockNum:     receipt.BlockNum,
		FromAddress:  fromAddress,
		ToAddress:    toAddress,
		FunctionName: functionName,
		GasUsed:      receipt.GasUsed,
		Status:       status,
		BatchId:      batchId,
		ShipmentId:   shipmentId,
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("创建交易审计记录失败: %w", err)
	}

	return nil
}

// GetByHash 根据交易哈希获取审计记录
func (t *TransactionLogic) GetByHash(txHash string) (*model.TransactionModel, error) {
	var record model.TransactionModel
	if err := t.db.Where("tx_hash = ?", txHash).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("交易记录不存在")
		}
		return nil, fmt.Errorf("获取交易记录失败: %w", err)
	}
	return &record, nil
}

// GetTransactionHistory 获取批次相关的全部交易记录
func (t *TransactionLogic) GetTransactionHistory(batchId int64) ([]model.TransactionModel, error) {
	var records []model.TransactionModel
	if err := t.db.Where("batch_id = ?", batchId).
		Order("block_num ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("获取交易历史失败: %w", err)
	}
	return records, nil
}
