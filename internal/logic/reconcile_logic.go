package logic

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/model"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	reconcileBatchLimit = 200
	reconcilePoolSize   = 8
)

// ReconcileLogic 镜像补账。消费索引器落库的未处理事件，把链上状态
// 回放到本地镜像：同步路径已经写过的记录直接跳过，缺失的记录补齐。
// 补账以行是否存在作为幂等判据，重复回放不会产生二次副作用
type ReconcileLogic struct {
	db         *gorm.DB
	eventLogic *EventLogic
	batchLogic *BatchLogic
	shipLogic  *ShipmentLogic
	distInv    *DistributorInventoryLogic
	pharmInv   *PharmacyInventoryLogic
	companies  *CompanyLogic
}

// NewReconcileLogic 创建补账逻辑
func NewReconcileLogic(db *gorm.DB, invCfg config.InventoryConfig) *ReconcileLogic {
	return &ReconcileLogic{
		db:         db,
		eventLogic: NewEventLogic(db),
		batchLogic: NewBatchLogic(db),
		shipLogic:  NewShipmentLogic(db),
		distInv:    NewDistributorInventoryLogic(db, invCfg),
		pharmInv:   NewPharmacyInventoryLogic(db, invCfg),
		companies:  NewCompanyLogic(db),
	}
}

// Run 处理一轮未处理事件。同一批次的事件按区块顺序串行回放，
// 不同批次之间用协程池并行
func (r *ReconcileLogic) Run() (int, error) {
	events, err := r.eventLogic.GetUnprocessedEvents(reconcileBatchLimit)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	// 按批次分组，保持组内事件的区块顺序
	groups := make(map[int64][]model.EventModel)
	var order []int64
	for _, event := range events {
		if _, ok := groups[event.BatchId]; !ok {
			order = append(order, event.BatchId)
		}
		groups[event.BatchId] = append(groups[event.BatchId], event)
	}

	pool, err := ants.NewPool(reconcilePoolSize)
	if err != nil {
		return 0, fmt.Errorf("创建补账协程池失败: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for _, batchId := range order {
		group := groups[batchId]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			for _, event := range group {
				if err := r.applyEvent(&event); err != nil {
					logger.Error("Failed to reconcile event %s#%d: %v", event.TxHash, event.LogIndex, err)
					// 组内后续事件依赖前序状态，本轮放弃该组
					return
				}
				mu.Lock()
				processed++
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Error("Failed to submit reconcile group for batch %d: %v", batchId, submitErr)
		}
	}
	wg.Wait()

	if processed > 0 {
		logger.Info("Reconciled %d events", processed)
	}
	return processed, nil
}

// applyEvent 在单个事务内回放一条事件并标记已处理
func (r *ReconcileLogic) applyEvent(event *model.EventModel) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var err error
		switch event.EventType {
		case model.EventTypeBatchIssued:
			err = r.applyBatchIssued(tx, event)
		case model.EventTypeShipmentCreated:
			err = r.applyShipmentCreated(tx, event)
		case model.EventTypeShipmentReceived:
			err = r.applyShipmentReceived(tx, event)
		default:
			logger.Warn("Unknown event type %s in event %d, skipping", event.EventType, event.Id)
		}
		if err != nil {
			return err
		}
		return r.eventLogic.MarkProcessed(tx, event.Id)
	})
}

// applyBatchIssued 补齐缺失的批次镜像。同步路径写过的批次直接跳过；
// 事件里没有药品元数据，补出来的是骨架记录，IsSynced 置否待补全
func (r *ReconcileLogic) applyBatchIssued(tx *gorm.DB, event *model.EventModel) error {
	_, err := r.batchLogic.GetBatchForUpdate(tx, event.BatchId)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrBatchNotFound) {
		return err
	}

	batch := &model.BatchModel{
		BatchId:             event.BatchId,
		Manufacturer:        event.FromAddress,
		ManufacturerAddress: event.FromAddress,
		TotalQuantity:       event.Quantity,
		CurrentOwner:        event.FromAddress,
		Status:              model.BatchStatusManufactured,
		TxHash:              event.TxHash,
		BlockNum:            event.BlockNum,
		IsSynced:            false,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}},
		DoNothing: true,
	}).Create(batch).Error; err != nil {
		return fmt.Errorf("补建批次记录失败: %w", err)
	}

	logger.Info("Backfilled batch %d from event %s#%d", event.BatchId, event.TxHash, event.LogIndex)
	return nil
}

// applyShipmentCreated 补齐缺失的出货单镜像并回放其副作用。
// 出货单行已存在说明同步路径已反映该事件，直接跳过
func (r *ReconcileLogic) applyShipmentCreated(tx *gorm.DB, event *model.EventModel) error {
	_, err := r.shipLogic.GetShipmentForUpdate(tx, event.ShipmentId)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrShipmentNotFound) {
		return err
	}

	batch, err := r.batchLogic.GetBatchForUpdate(tx, event.BatchId)
	if err != nil {
		return err
	}

	shippedAt := event.CreatedAt
	shipment := &model.ShipmentModel{
		ShipmentId:   event.ShipmentId,
		BatchId:      event.BatchId,
		FromAddress:  event.FromAddress,
		ToAddress:    event.ToAddress,
		Quantity:     event.Quantity,
		Status:       model.ShipmentStatusPending,
		ShippedAt:    &shippedAt,
		CreateTxHash: event.TxHash,
		BlockNum:     event.BlockNum,
	}
	if company, err := r.companies.getByAddress(tx, event.FromAddress); err == nil {
		shipment.FromCompanyId = &company.Id
	}
	if company, err := r.companies.getByAddress(tx, event.ToAddress); err == nil {
		shipment.ToCompanyId = &company.Id
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shipment_id"}},
		DoNothing: true,
	}).Create(shipment).Error; err != nil {
		return fmt.Errorf("补建出货单记录失败: %w", err)
	}

	if batch.Status != model.BatchStatusInTransit {
		if err := r.batchLogic.Transition(tx, batch, model.BatchStatusInTransit, ""); err != nil {
			return err
		}
	}

	// 发货方有库存记录时补扣
	if company, err := r.companies.getByAddress(tx, event.FromAddress); err == nil {
		var consumeErr error
		switch company.Role {
		case model.CompanyRoleDistributor:
			consumeErr = r.distInv.Consume(tx, company.Id, event.BatchId, event.Quantity)
		case model.CompanyRolePharmacy:
			consumeErr = r.pharmInv.Consume(tx, company.Id, event.BatchId, event.Quantity)
		}
		if consumeErr != nil && !errors.Is(consumeErr, ErrInventoryNotFound) {
			return consumeErr
		}
	}

	logger.Info("Backfilled shipment %d from event %s#%d", event.ShipmentId, event.TxHash, event.LogIndex)
	return nil
}

// applyShipmentReceived 回放签收：出货单已是 delivered 说明同步路径
// 已处理，否则补齐签收状态、批次所有权和收货方库存。本地取消没有链上
// 对应操作，cancelled 行遇到链上签收时以账本为准：撤销取消时的发货方
// 回补并强制流转到 delivered
func (r *ReconcileLogic) applyShipmentReceived(tx *gorm.DB, event *model.EventModel) error {
	shipment, err := r.shipLogic.GetShipmentForUpdate(tx, event.ShipmentId)
	if err != nil {
		return err
	}
	if shipment.Status == model.ShipmentStatusDelivered {
		return nil
	}

	batch, err := r.batchLogic.GetBatchForUpdate(tx, shipment.BatchId)
	if err != nil {
		return err
	}

	if shipment.Status == model.ShipmentStatusCancelled {
		logger.Warn("Shipment %d cancelled locally but received on ledger, repairing mirror", shipment.ShipmentId)
		if err := r.revertCancelCompensation(tx, shipment); err != nil {
			return err
		}
		if err := r.shipLogic.forceDelivered(tx, shipment, event.TxHash); err != nil {
			return err
		}
		if err := r.batchLogic.forceState(tx, batch, model.BatchStatusDelivered, shipment.ToAddress); err != nil {
			return err
		}
	} else {
		if err := r.shipLogic.MarkDelivered(tx, shipment, event.TxHash); err != nil {
			return err
		}
		if err := r.batchLogic.Transition(tx, batch, model.BatchStatusDelivered, shipment.ToAddress); err != nil {
			return err
		}
	}

	if company, err := r.companies.getByAddress(tx, shipment.ToAddress); err == nil {
		switch company.Role {
		case model.CompanyRoleDistributor:
			if err := r.distInv.Receive(tx, company.Id, batch, shipment.Quantity, &shipment.ShipmentId); err != nil {
				return err
			}
		case model.CompanyRolePharmacy:
			if err := r.pharmInv.Receive(tx, company.Id, batch, shipment.Quantity, &shipment.ShipmentId); err != nil {
				return err
			}
		}
	} else if errors.Is(err, ErrCompanyNotFound) {
		logger.Warn("Recipient address %s not linked to a company, inventory not backfilled", shipment.ToAddress)
	} else {
		return err
	}

	logger.Info("Backfilled receipt of shipment %d from event %s#%d", event.ShipmentId, event.TxHash, event.LogIndex)
	return nil
}

// revertCancelCompensation 撤销本地取消时的发货方回补：货实际已经
// 送达，回补的数量重新扣掉
func (r *ReconcileLogic) revertCancelCompensation(tx *gorm.DB, shipment *model.ShipmentModel) error {
	company, err := r.companies.getByAddress(tx, shipment.FromAddress)
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			return nil
		}
		return err
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		return r.distInv.deduct(tx, company.Id, shipment.BatchId, shipment.Quantity)
	case model.CompanyRolePharmacy:
		return r.pharmInv.deduct(tx, company.Id, shipment.BatchId, shipment.Quantity)
	}
	return nil
}
