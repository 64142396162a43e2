package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger 溯源合约账本接口，由 chain.Client 实现
type Ledger interface {
	CallerAddress() string
	SendBatchIssue(ctx context.Context, drugName, manufacturer, batchNumber string,
		quantity int64, manufactureTime, expiryTime time.Time, qrCode string) (*chain.Receipt, error)
	SendCreateShipment(ctx context.Context, batchId int64, toAddress string,
		quantity int64, trackingRef string) (*chain.Receipt, error)
	SendReceiveShipment(ctx context.Context, shipmentId int64) (*chain.Receipt, error)
	VerifyOwnership(ctx context.Context, batchId int64, address string) (bool, error)
}

// TraceLogic 溯源门面。写路径统一为两阶段：先同步调用账本等待回执，
// 失败则本地不落任何状态；成功后在单个本地事务内写镜像与审计记录。
// 本地事务失败时由事件索引器的补账路径兜底
type TraceLogic struct {
	db           *gorm.DB
	ledger       Ledger
	batchLogic   *BatchLogic
	shipLogic    *ShipmentLogic
	distInv      *DistributorInventoryLogic
	pharmInv     *PharmacyInventoryLogic
	companyLogic *CompanyLogic
	txLogic      *TransactionLogic
}

// NewTraceLogic 创建溯源门面
func NewTraceLogic(db *gorm.DB, ledger Ledger, invCfg config.InventoryConfig) *TraceLogic {
	return &TraceLogic{
		db:           db,
		ledger:       ledger,
		batchLogic:   NewBatchLogic(db),
		shipLogic:    NewShipmentLogic(db),
		distInv:      NewDistributorInventoryLogic(db, invCfg),
		pharmInv:     NewPharmacyInventoryLogic(db, invCfg),
		companyLogic: NewCompanyLogic(db),
		txLogic:      NewTransactionLogic(db),
	}
}

// IssueBatchRequest 签发批次请求
type IssueBatchRequest struct {
	CallerAddress    string    `json:"caller_address"`
	DrugName         string    `json:"drug_name" binding:"required"`
	Manufacturer     string    `json:"manufacturer" binding:"required"`
	BatchNumber      string    `json:"batch_number" binding:"required"`
	Quantity         int64     `json:"quantity" binding:"required,min=1"`
	ManufactureDate  time.Time `json:"manufacture_date"`
	ExpiryDate       time.Time `json:"expiry_date"`
	StorageCondition string    `json:"storage_condition"`
	QrCode           string    `json:"qr_code"`
}

// CreateShipmentRequest 创建出货单请求
type CreateShipmentRequest struct {
	CallerAddress    string     `json:"caller_address"`
	BatchId          int64      `json:"batch_id" binding:"required"`
	ToAddress        string     `json:"to_address" binding:"required"`
	Quantity         int64      `json:"quantity" binding:"required,min=1"`
	TrackingRef      string     `json:"tracking_ref"`
	ExpectedDelivery *time.Time `json:"expected_delivery"`
}

// VerifyResult 药品验真结果
type VerifyResult struct {
	Genuine bool              `json:"genuine"`
	Reason  string            `json:"reason,omitempty"`
	Batch   *model.BatchModel `json:"batch,omitempty"`
}

// IssueBatch 签发批次：上链确认后创建批次镜像记录
func (t *TraceLogic) IssueBatch(ctx context.Context, req *IssueBatchRequest) (*model.BatchModel, error) {
	caller := req.CallerAddress
	if caller == "" {
		caller = t.ledger.CallerAddress()
	}
	if req.QrCode == "" {
		req.QrCode = uuid.NewString()
	}

	// 阶段一：上链并等待回执，失败不落本地状态
	receipt, err := t.ledger.SendBatchIssue(ctx, req.DrugName, req.Manufacturer, req.BatchNumber,
		req.Quantity, req.ManufactureDate, req.ExpiryDate, req.QrCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	batchId := findEventId(receipt, model.EventTypeBatchIssued, false)
	if batchId == 0 {
		return nil, fmt.Errorf("回执中未找到批次签发事件 (tx %s)", receipt.TxHash)
	}

	batch := &model.BatchModel{
		BatchId:             batchId,
		DrugName:            req.DrugName,
		Manufacturer:        req.Manufacturer,
		ManufacturerAddress: caller,
		BatchNumber:         req.BatchNumber,
		StorageCondition:    req.StorageCondition,
		TotalQuantity:       req.Quantity,
		ManufactureDate:     req.ManufactureDate,
		ExpiryDate:          req.ExpiryDate,
		CurrentOwner:        caller,
		Status:              model.BatchStatusManufactured,
		QrCode:              req.QrCode,
		TxHash:              receipt.TxHash,
		BlockNum:            receipt.BlockNum,
		IsSynced:            true,
	}

	// 阶段二：单个本地事务写镜像与审计
	err = t.db.Transaction(func(tx *gorm.DB) error {
		if err := t.batchLogic.CreateBatch(tx, batch); err != nil {
			return err
		}
		return t.txLogic.RecordReceipt(tx, receipt, "issueBatch", caller, caller,
			&batch.BatchId, nil)
	})
	if err != nil {
		// 链上已确认而本地写入失败，交由索引器补账
		logger.Error("Failed to mirror issued batch %d locally, indexer will backfill: %v", batchId, err)
		return nil, err
	}

	logger.Info("Issued batch %d (%s), tx %s", batchId, req.DrugName, receipt.TxHash)
	return batch, nil
}

// CreateShipment 创建出货单：校验所有权与可用数量，上链确认后在
// 单个本地事务内创建出货单、流转批次状态并扣减发货方库存
func (t *TraceLogic) CreateShipment(ctx context.Context, req *CreateShipmentRequest) (*model.ShipmentModel, error) {
	batch, err := t.batchLogic.GetBatch(req.BatchId)
	if err != nil {
		return nil, err
	}

	caller := req.CallerAddress
	if !strings.EqualFold(batch.CurrentOwner, caller) {
		return nil, fmt.Errorf("%w: 只有当前所有者可以发起出货", ErrUnauthorized)
	}

	// 预检可用数量。有库存记录时以库存为准；没有库存记录说明持有关系
	// 只存在于账本上（例如镜像建立前已持有），此时按批次总量校验
	if err := t.checkSenderAvailability(caller, batch, req.Quantity); err != nil {
		return nil, err
	}

	// 阶段一：上链并等待回执
	receipt, err := t.ledger.SendCreateShipment(ctx, req.BatchId, req.ToAddress, req.Quantity, req.TrackingRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	shipmentId := findEventId(receipt, model.EventTypeShipmentCreated, true)
	if shipmentId == 0 {
		return nil, fmt.Errorf("回执中未找到出货单创建事件 (tx %s)", receipt.TxHash)
	}

	now := time.Now()
	shipment := &model.ShipmentModel{
		ShipmentId:       shipmentId,
		BatchId:          req.BatchId,
		FromAddress:      caller,
		ToAddress:        req.ToAddress,
		Quantity:         req.Quantity,
		TrackingRef:      req.TrackingRef,
		Status:           model.ShipmentStatusPending,
		ShippedAt:        &now,
		ExpectedDelivery: req.ExpectedDelivery,
		CreateTxHash:     receipt.TxHash,
		BlockNum:         receipt.BlockNum,
	}
	t.fillShipmentCompanies(shipment)

	// 阶段二：单个本地事务
	err = t.db.Transaction(func(tx *gorm.DB) error {
		if err := t.shipLogic.CreateShipment(tx, shipment); err != nil {
			return err
		}
		if err := t.batchLogic.Transition(tx, batch, model.BatchStatusInTransit, ""); err != nil {
			return err
		}
		if err := t.txLogic.RecordReceipt(tx, receipt, "createShipment", caller,
			req.ToAddress, &batch.BatchId, &shipment.ShipmentId); err != nil {
			return err
		}
		// 发货方存在库存记录时同步扣减
		return t.consumeSenderInventory(tx, caller, batch.BatchId, req.Quantity)
	})
	if err != nil {
		logger.Error("Failed to mirror shipment %d locally, indexer will backfill: %v", shipmentId, err)
		return nil, err
	}

	logger.Info("Created shipment %d for batch %d (qty %d), tx %s",
		shipmentId, req.BatchId, req.Quantity, receipt.TxHash)
	return shipment, nil
}

// ReceiveShipment 签收出货单：校验收货方身份，上链确认后在单个本地
// 事务内流转出货单与批次状态并为收货方入库
func (t *TraceLogic) ReceiveShipment(ctx context.Context, callerAddress string, shipmentId int64) (*model.ShipmentModel, error) {
	shipment, err := t.shipLogic.GetShipment(shipmentId)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(shipment.ToAddress, callerAddress) {
		return nil, fmt.Errorf("%w: 只有收货方可以签收出货单", ErrUnauthorized)
	}
	if !canTransitionShipment(shipment.Status, model.ShipmentStatusDelivered) {
		return nil, NewInvalidTransitionError(string(shipment.Status), string(model.ShipmentStatusDelivered))
	}

	batch, err := t.batchLogic.GetBatch(shipment.BatchId)
	if err != nil {
		return nil, err
	}

	// 阶段一：上链并等待回执
	receipt, err := t.ledger.SendReceiveShipment(ctx, shipmentId)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	// 阶段二：单个本地事务
	err = t.db.Transaction(func(tx *gorm.DB) error {
		if err := t.shipLogic.MarkDelivered(tx, shipment, receipt.TxHash); err != nil {
			return err
		}
		if err := t.batchLogic.Transition(tx, batch, model.BatchStatusDelivered, shipment.ToAddress); err != nil {
			return err
		}
		if err := t.txLogic.RecordReceipt(tx, receipt, "receiveShipment", shipment.FromAddress,
			callerAddress, &batch.BatchId, &shipment.ShipmentId); err != nil {
			return err
		}
		return t.receiveRecipientInventory(tx, shipment, batch)
	})
	if err != nil {
		logger.Error("Failed to mirror shipment %d receipt locally, indexer will backfill: %v", shipmentId, err)
		return nil, err
	}

	logger.Info("Shipment %d received by %s, tx %s", shipmentId, callerAddress, receipt.TxHash)
	return shipment, nil
}

// UpdateShipmentStatus 更新出货单状态（发货中/取消）。签收必须走
// ReceiveShipment，此入口不允许流转到 delivered
func (t *TraceLogic) UpdateShipmentStatus(callerAddress string, shipmentId int64,
	newStatus model.ShipmentStatus) (*model.ShipmentModel, error) {
	if newStatus == model.ShipmentStatusDelivered {
		return nil, errors.New("签收请使用出货单签收接口")
	}

	shipment, err := t.shipLogic.GetShipment(shipmentId)
	if err != nil {
		return nil, err
	}

	isSender := strings.EqualFold(shipment.FromAddress, callerAddress)
	isReceiver := strings.EqualFold(shipment.ToAddress, callerAddress)
	if !isSender && !isReceiver {
		return nil, fmt.Errorf("%w: 只有收发双方可以更新出货单状态", ErrUnauthorized)
	}

	err = t.db.Transaction(func(tx *gorm.DB) error {
		if err := t.shipLogic.Transition(tx, shipment, newStatus); err != nil {
			return err
		}
		if newStatus != model.ShipmentStatusCancelled {
			return nil
		}
		return t.cancelShipmentEffects(tx, shipment)
	})
	if err != nil {
		return nil, err
	}

	return shipment, nil
}

// cancelShipmentEffects 取消出货单的本地副作用：回补发货方库存并
// 恢复批次状态
func (t *TraceLogic) cancelShipmentEffects(tx *gorm.DB, shipment *model.ShipmentModel) error {
	batch, err := t.batchLogic.GetBatchForUpdate(tx, shipment.BatchId)
	if err != nil {
		return err
	}

	// 回补发货方库存。出货时只扣减数量、没有动预留，取消的补偿也
	// 只回补数量，不能触碰其他流程（如待支付订单）持有的预留
	if company, err := t.companyLogic.getByAddress(tx, shipment.FromAddress); err == nil {
		switch company.Role {
		case model.CompanyRoleDistributor:
			if err := t.distInv.Restock(tx, company.Id, batch.BatchId, shipment.Quantity); err != nil {
				return err
			}
		case model.CompanyRolePharmacy:
			if err := t.pharmInv.Restock(tx, company.Id, batch.BatchId, shipment.Quantity); err != nil {
				return err
			}
		}
	}

	// 恢复批次状态：货物仍在发货方手中
	if batch.Status == model.BatchStatusInTransit {
		restored := model.BatchStatusDelivered
		if strings.EqualFold(batch.CurrentOwner, batch.ManufacturerAddress) {
			restored = model.BatchStatusManufactured
		}
		if err := tx.Model(&model.BatchModel{}).
			Where("batch_id = ?", batch.BatchId).
			Update("status", restored).Error; err != nil {
			return fmt.Errorf("恢复批次状态失败: %w", err)
		}
	}
	return nil
}

// RecordSale 记录药房销售。销售只发生在本地，不产生链上交易；
// 批次在当前所有者售出时进入终态 sold
func (t *TraceLogic) RecordSale(companyId, batchId, quantity int64) error {
	company, err := t.companyLogic.GetCompany(companyId)
	if err != nil {
		return err
	}
	if company.Role != model.CompanyRolePharmacy {
		return fmt.Errorf("%w: 只有药房可以记录销售", ErrUnauthorized)
	}

	batch, err := t.batchLogic.GetBatch(batchId)
	if err != nil {
		return err
	}

	return t.db.Transaction(func(tx *gorm.DB) error {
		err := t.pharmInv.RecordSale(tx, companyId, batchId, quantity)
		if errors.Is(err, ErrInventoryNotFound) {
			// 无库存记录时退回账本所有权校验，允许镜像建立前的持有者售出
			if !strings.EqualFold(batch.CurrentOwner, company.Address) {
				return fmt.Errorf("%w: 药房未持有该批次", ErrUnauthorized)
			}
			err = nil
		}
		if err != nil {
			return err
		}

		if strings.EqualFold(batch.CurrentOwner, company.Address) &&
			canTransitionBatch(batch.Status, model.BatchStatusSold) {
			return t.batchLogic.Transition(tx, batch, model.BatchStatusSold, "")
		}
		return nil
	})
}

// VerifyDrug 药品验真：以镜像中的所有者为基准请求账本验证。
// 账本验证失败或出错时一律视为可疑（fail closed）
func (t *TraceLogic) VerifyDrug(ctx context.Context, qrCode string) (*VerifyResult, error) {
	batch, err := t.batchLogic.GetBatchByQrCode(qrCode)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return &VerifyResult{Genuine: false, Reason: "二维码未登记"}, nil
		}
		return nil, err
	}

	verified, err := t.ledger.VerifyOwnership(ctx, batch.BatchId, batch.CurrentOwner)
	if err != nil {
		logger.Warn("Ownership verification failed for batch %d: %v", batch.BatchId, err)
		return &VerifyResult{Genuine: false, Reason: "账本验证失败", Batch: batch}, nil
	}
	if !verified {
		return &VerifyResult{Genuine: false, Reason: "账本所有权不匹配", Batch: batch}, nil
	}

	return &VerifyResult{Genuine: true, Batch: batch}, nil
}

// checkSenderAvailability 预检发货方可用数量
func (t *TraceLogic) checkSenderAvailability(caller string, batch *model.BatchModel, quantity int64) error {
	company, err := t.companyLogic.GetByAddress(caller)
	if err == nil {
		switch company.Role {
		case model.CompanyRoleDistributor:
			inv, err := t.distInv.GetInventory(company.Id, batch.BatchId)
			if err == nil {
				if quantity > inv.AvailableQuantity() {
					return NewInsufficientStockError(inv.AvailableQuantity(), quantity)
				}
				return nil
			}
			if !errors.Is(err, ErrInventoryNotFound) {
				return err
			}
		case model.CompanyRolePharmacy:
			inv, err := t.pharmInv.GetInventory(company.Id, batch.BatchId)
			if err == nil {
				if quantity > inv.AvailableQuantity() {
					return NewInsufficientStockError(inv.AvailableQuantity(), quantity)
				}
				return nil
			}
			if !errors.Is(err, ErrInventoryNotFound) {
				return err
			}
		}
	} else if !errors.Is(err, ErrCompanyNotFound) {
		return err
	}

	// 无库存记录：按账本所有权放行，上限为批次生产总量
	if quantity > batch.TotalQuantity {
		return NewInsufficientStockError(batch.TotalQuantity, quantity)
	}
	return nil
}

// consumeSenderInventory 发货方存在库存记录时扣减；没有记录时基于
// 账本所有权放行（镜像建立前已持有批次的情形）
func (t *TraceLogic) consumeSenderInventory(tx *gorm.DB, caller string, batchId, quantity int64) error {
	company, err := t.companyLogic.getByAddress(tx, caller)
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			return nil
		}
		return err
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		err = t.distInv.Consume(tx, company.Id, batchId, quantity)
	case model.CompanyRolePharmacy:
		err = t.pharmInv.Consume(tx, company.Id, batchId, quantity)
	default:
		return nil
	}
	if errors.Is(err, ErrInventoryNotFound) {
		return nil
	}
	return err
}

// receiveRecipientInventory 为收货方入库。地址无法解析为企业时跳过，
// 托管关系仍以账本与批次记录为准
func (t *TraceLogic) receiveRecipientInventory(tx *gorm.DB, shipment *model.ShipmentModel,
	batch *model.BatchModel) error {
	company, err := t.companyLogic.getByAddress(tx, shipment.ToAddress)
	if err != nil {
		if errors.Is(err, ErrCompanyNotFound) {
			logger.Warn("Recipient address %s not linked to a company, skipping inventory update", shipment.ToAddress)
			return nil
		}
		return err
	}

	switch company.Role {
	case model.CompanyRoleDistributor:
		return t.distInv.Receive(tx, company.Id, batch, shipment.Quantity, &shipment.ShipmentId)
	case model.CompanyRolePharmacy:
		return t.pharmInv.Receive(tx, company.Id, batch, shipment.Quantity, &shipment.ShipmentId)
	default:
		logger.Warn("Recipient company %d has role %s, skipping inventory update", company.Id, company.Role)
		return nil
	}
}

// fillShipmentCompanies 填充出货单的收发企业关联
func (t *TraceLogic) fillShipmentCompanies(shipment *model.ShipmentModel) {
	if company, err := t.companyLogic.GetByAddress(shipment.FromAddress); err == nil {
		shipment.FromCompanyId = &company.Id
	}
	if company, err := t.companyLogic.GetByAddress(shipment.ToAddress); err == nil {
		shipment.ToCompanyId = &company.Id
	}
}

// findEventId 从回执事件中取出批次或出货单ID
func findEventId(receipt *chain.Receipt, eventType string, shipment bool) int64 {
	for _, event := range receipt.Events {
		if event.EventType != eventType {
			continue
		}
		if shipment {
			return event.ShipmentId
		}
		return event.BatchId
	}
	return 0
}

// GetBatch 获取批次镜像视图
func (t *TraceLogic) GetBatch(batchId int64) (*model.BatchModel, error) {
	return t.batchLogic.GetBatch(batchId)
}

// GetBatchesByOwner 获取某地址持有的批次
func (t *TraceLogic) GetBatchesByOwner(owner string) ([]model.BatchModel, error) {
	return t.batchLogic.GetBatchesByOwner(owner)
}

// GetBatchesByManufacturer 获取某生产商签发的批次
func (t *TraceLogic) GetBatchesByManufacturer(manufacturer string) ([]model.BatchModel, error) {
	return t.batchLogic.GetBatchesByManufacturer(manufacturer)
}

// GetShipmentsByBatch 获取批次的全部出货单
func (t *TraceLogic) GetShipmentsByBatch(batchId int64) ([]model.ShipmentModel, error) {
	return t.shipLogic.GetShipmentsByBatch(batchId)
}

// GetTransactionHistory 获取批次的链上交易历史
func (t *TraceLogic) GetTransactionHistory(batchId int64) ([]model.TransactionModel, error) {
	return t.txLogic.GetTransactionHistory(batchId)
}
