package logic

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeLedger 可编程的账本替身
type fakeLedger struct {
	nextBatchId    int64
	nextShipmentId int64
	nextBlock      int64
	sendCount      int
	failSends      bool
	verifyResult   bool
	verifyErr      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{nextBlock: 100, verifyResult: true}
}

func (f *fakeLedger) CallerAddress() string {
	return "0xservice"
}

func (f *fakeLedger) receipt(event *chain.Event) *chain.Receipt {
	f.nextBlock++
	event.TxHash = fmt.Sprintf("0xtx%04d", f.nextBlock)
	event.BlockNum = f.nextBlock
	return &chain.Receipt{
		TxHash:   event.TxHash,
		BlockNum: f.nextBlock,
		GasUsed:  21000,
		Success:  true,
		Events:   []*chain.Event{event},
	}
}

func (f *fakeLedger) SendBatchIssue(_ context.Context, _, _, _ string, quantity int64,
	_, _ time.Time, _ string) (*chain.Receipt, error) {
	f.sendCount++
	if f.failSends {
		return nil, errors.New("rpc connection refused")
	}
	f.nextBatchId++
	return f.receipt(&chain.Event{
		EventType: model.EventTypeBatchIssued,
		BatchId:   f.nextBatchId,
		Quantity:  quantity,
	}), nil
}

func (f *fakeLedger) SendCreateShipment(_ context.Context, batchId int64, toAddress string,
	quantity int64, _ string) (*chain.Receipt, error) {
	f.sendCount++
	if f.failSends {
		return nil, errors.New("rpc connection refused")
	}
	f.nextShipmentId++
	return f.receipt(&chain.Event{
		EventType:  model.EventTypeShipmentCreated,
		BatchId:    batchId,
		ShipmentId: f.nextShipmentId,
		To:         toAddress,
		Quantity:   quantity,
	}), nil
}

func (f *fakeLedger) SendReceiveShipment(_ context.Context, shipmentId int64) (*chain.Receipt, error) {
	f.sendCount++
	if f.failSends {
		return nil, errors.New("rpc connection refused")
	}
	return f.receipt(&chain.Event{
		EventType:  model.EventTypeShipmentReceived,
		ShipmentId: shipmentId,
	}), nil
}

func (f *fakeLedger) VerifyOwnership(_ context.Context, _ int64, _ string) (bool, error) {
	return f.verifyResult, f.verifyErr
}

type traceFixture struct {
	db     *gorm.DB
	ledger *fakeLedger
	trace  *TraceLogic

	manufacturer *model.CompanyModel
	distributor  *model.CompanyModel
	pharmacy     *model.CompanyModel
}

func setupTraceFixture(t *testing.T) *traceFixture {
	t.Helper()
	db := setupTestDB(t)
	ledger := newFakeLedger()
	trace := NewTraceLogic(db, ledger, testInventoryConfig())

	companies := NewCompanyLogic(db)
	mfg, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "华北制药", Role: model.CompanyRoleManufacturer, Address: "0xmfg",
	})
	require.NoError(t, err)
	dist, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "国药控股", Role: model.CompanyRoleDistributor, Address: "0xdist",
	})
	require.NoError(t, err)
	pharm, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "老百姓大药房", Role: model.CompanyRolePharmacy, Address: "0xpharm",
	})
	require.NoError(t, err)

	return &traceFixture{
		db:           db,
		ledger:       ledger,
		trace:        trace,
		manufacturer: mfg,
		distributor:  dist,
		pharmacy:     pharm,
	}
}

func (f *traceFixture) issueBatch(t *testing.T, quantity int64) *model.BatchModel {
	t.Helper()
	batch, err := f.trace.IssueBatch(context.Background(), &IssueBatchRequest{
		CallerAddress:   "0xmfg",
		DrugName:        "阿莫西林胶囊",
		Manufacturer:    "华北制药",
		BatchNumber:     "AMX-2026-001",
		Quantity:        quantity,
		ManufactureDate: time.Now().AddDate(0, -1, 0),
		ExpiryDate:      time.Now().AddDate(2, 0, 0),
	})
	require.NoError(t, err)
	return batch
}

func TestIssueBatchMirrorsLedger(t *testing.T) {
	f := setupTraceFixture(t)

	batch := f.issueBatch(t, 1000)
	assert.Equal(t, int64(1), batch.BatchId)
	assert.Equal(t, model.BatchStatusManufactured, batch.Status)
	assert.Equal(t, "0xmfg", batch.CurrentOwner)
	assert.NotEmpty(t, batch.QrCode)
	assert.True(t, batch.IsSynced)

	stored, err := f.trace.GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), stored.TotalQuantity)

	// 审计记录与批次同事务落库
	history, err := f.trace.GetTransactionHistory(batch.BatchId)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "issueBatch", history[0].FunctionName)
	assert.Equal(t, model.TransactionStatusSuccess, history[0].Status)
}

func TestIssueBatchLedgerFailureLeavesNoState(t *testing.T) {
	f := setupTraceFixture(t)
	f.ledger.failSends = true

	_, err := f.trace.IssueBatch(context.Background(), &IssueBatchRequest{
		CallerAddress: "0xmfg",
		DrugName:      "阿莫西林胶囊",
		Manufacturer:  "华北制药",
		BatchNumber:   "AMX-2026-001",
		Quantity:      1000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerUnavailable)

	var count int64
	require.NoError(t, f.db.Model(&model.BatchModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestShipmentLifecycle(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg",
		BatchId:       batch.BatchId,
		ToAddress:     "0xdist",
		Quantity:      400,
		TrackingRef:   "SF123456",
	})
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusPending, shipment.Status)
	require.NotNil(t, shipment.ToCompanyId)
	assert.Equal(t, f.distributor.Id, *shipment.ToCompanyId)

	// 出货后批次进入运输中，所有权未转移
	stored, err := f.trace.GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusInTransit, stored.Status)
	assert.Equal(t, "0xmfg", stored.CurrentOwner)

	received, err := f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusDelivered, received.Status)
	require.NotNil(t, received.DeliveredAt)

	// 签收后所有权转移，批次送达
	stored, err = f.trace.GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDelivered, stored.Status)
	assert.Equal(t, "0xdist", stored.CurrentOwner)

	// 收货方库存入账
	inv := NewDistributorInventoryLogic(f.db, testInventoryConfig())
	row, err := inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
	assert.Equal(t, int64(400), row.AvailableQuantity())
}

func TestCreateShipmentRejectsNonOwner(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)
	sendsBefore := f.ledger.sendCount

	_, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist",
		BatchId:       batch.BatchId,
		ToAddress:     "0xpharm",
		Quantity:      100,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// 校验失败不触账本
	assert.Equal(t, sendsBefore, f.ledger.sendCount)
}

func TestCreateShipmentRejectsOverdraw(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	// 先把400件交给经销商
	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.NoError(t, err)

	sendsBefore := f.ledger.sendCount

	// 经销商只有400件，出货500必须整体拒绝
	_, err = f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist", BatchId: batch.BatchId, ToAddress: "0xpharm", Quantity: 500,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, sendsBefore, f.ledger.sendCount)

	// 库存保持不变
	inv := NewDistributorInventoryLogic(f.db, testInventoryConfig())
	row, err := inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
	assert.Equal(t, int64(400), row.AvailableQuantity())
}

func TestReceiveShipmentRejectsWrongRecipient(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)

	sendsBefore := f.ledger.sendCount
	_, err = f.trace.ReceiveShipment(context.Background(), "0xpharm", shipment.ShipmentId)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, sendsBefore, f.ledger.sendCount)

	// 状态保持不变
	stored, err := NewShipmentLogic(f.db).GetShipment(shipment.ShipmentId)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusPending, stored.Status)
}

func TestReceiveShipmentRejectsDoubleReceive(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.NoError(t, err)

	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// 重复签收不产生重复入库
	inv := NewDistributorInventoryLogic(f.db, testInventoryConfig())
	row, err := inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
}

func TestCancelShipmentRestocksSender(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	// 经销商持有400件
	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.NoError(t, err)

	// 经销商出货200后取消
	second, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist", BatchId: batch.BatchId, ToAddress: "0xpharm", Quantity: 200,
	})
	require.NoError(t, err)

	inv := NewDistributorInventoryLogic(f.db, testInventoryConfig())
	row, err := inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(200), row.Quantity)

	_, err = f.trace.UpdateShipmentStatus("0xdist", second.ShipmentId, model.ShipmentStatusCancelled)
	require.NoError(t, err)

	row, err = inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)

	// 批次回到送达状态，货仍在经销商手中
	stored, err := f.trace.GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDelivered, stored.Status)
	assert.Equal(t, "0xdist", stored.CurrentOwner)
}

func TestCancelShipmentKeepsUnrelatedReservation(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	// 经销商持有400件
	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", shipment.ShipmentId)
	require.NoError(t, err)

	// 其他流程预留了100件
	inv := NewDistributorInventoryLogic(f.db, testInventoryConfig())
	require.NoError(t, inv.Reserve(nil, f.distributor.Id, batch.BatchId, 100))

	second, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist", BatchId: batch.BatchId, ToAddress: "0xpharm", Quantity: 200,
	})
	require.NoError(t, err)

	row, err := inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(200), row.Quantity)
	assert.Equal(t, int64(100), row.ReservedQuantity)

	_, err = f.trace.UpdateShipmentStatus("0xdist", second.ShipmentId, model.ShipmentStatusCancelled)
	require.NoError(t, err)

	// 取消只回补数量，别的流程持有的预留原封不动
	row, err = inv.GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
	assert.Equal(t, int64(100), row.ReservedQuantity)
	assert.Equal(t, int64(300), row.AvailableQuantity())
}

func TestUpdateShipmentStatusRejectsDeliveredShortcut(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	shipment, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)

	_, err = f.trace.UpdateShipmentStatus("0xdist", shipment.ShipmentId, model.ShipmentStatusDelivered)
	require.Error(t, err)
}

func TestRecordSaleMarksBatchSold(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	// 全链路送到药房
	s1, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", s1.ShipmentId)
	require.NoError(t, err)
	s2, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist", BatchId: batch.BatchId, ToAddress: "0xpharm", Quantity: 300,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xpharm", s2.ShipmentId)
	require.NoError(t, err)

	require.NoError(t, f.trace.RecordSale(f.pharmacy.Id, batch.BatchId, 50))

	stored, err := f.trace.GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusSold, stored.Status)

	inv := NewPharmacyInventoryLogic(f.db, testInventoryConfig())
	row, err := inv.GetInventory(f.pharmacy.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(250), row.Quantity)
	assert.Equal(t, int64(50), row.SoldQuantity)
}

func TestRecordSaleRejectsNonPharmacy(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	err := f.trace.RecordSale(f.distributor.Id, batch.BatchId, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyDrug(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	result, err := f.trace.VerifyDrug(context.Background(), batch.QrCode)
	require.NoError(t, err)
	assert.True(t, result.Genuine)

	// 未登记的二维码视为可疑
	result, err = f.trace.VerifyDrug(context.Background(), "qr-unknown")
	require.NoError(t, err)
	assert.False(t, result.Genuine)

	// 账本校验不通过视为可疑
	f.ledger.verifyResult = false
	result, err = f.trace.VerifyDrug(context.Background(), batch.QrCode)
	require.NoError(t, err)
	assert.False(t, result.Genuine)

	// 账本不可达时宁可误杀不可放过
	f.ledger.verifyResult = true
	f.ledger.verifyErr = errors.New("rpc timeout")
	result, err = f.trace.VerifyDrug(context.Background(), batch.QrCode)
	require.NoError(t, err)
	assert.False(t, result.Genuine)
}
