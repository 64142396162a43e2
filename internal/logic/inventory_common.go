package logic

import (
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate 对查询加行级锁，序列化同一 (company, batch) 行上的
// 并发预留/扣减。sqlite 不支持 FOR UPDATE，但其写入本身是单写者串行的
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// deriveInventoryStatus 根据阈值推导库存状态
func deriveInventoryStatus(quantity int64, expiryDate time.Time, cfg config.InventoryConfig, now time.Time) model.InventoryStatus {
	if !expiryDate.IsZero() {
		if now.After(expiryDate) {
			return model.InventoryStatusExpired
		}
		if now.Add(time.Duration(cfg.ExpiringSoonDays) * 24 * time.Hour).After(expiryDate) {
			return model.InventoryStatusExpiringSoon
		}
	}
	if quantity < cfg.LowStockThreshold {
		return model.InventoryStatusLowStock
	}
	return model.InventoryStatusInStock
}
