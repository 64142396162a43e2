package logic

import (
	"context"
	"testing"

	"github.com/blues/pts/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeEvent(t *testing.T, events *EventLogic, event *model.EventModel) {
	t.Helper()
	inserted, err := events.CreateEvent(event)
	require.NoError(t, err)
	require.True(t, inserted)
}

func TestReconcileBackfillsMissingBatch(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventLogic(db)
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa",
		LogIndex:        0,
		BlockNum:        90,
		BatchId:         1,
		FromAddress:     "0xmfg",
		Quantity:        1000,
	})

	reconciler := NewReconcileLogic(db, testInventoryConfig())
	processed, err := reconciler.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	batch, err := NewBatchLogic(db).GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), batch.TotalQuantity)
	assert.Equal(t, "0xmfg", batch.CurrentOwner)
	assert.Equal(t, model.BatchStatusManufactured, batch.Status)
	// 事件里没有药品元数据，骨架记录等待补全
	assert.False(t, batch.IsSynced)

	// 事件已标记处理
	pending, err := events.GetUnprocessedEvents(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconcileSkipsSyncedState(t *testing.T) {
	db := setupTestDB(t)

	// 同步路径已经写过镜像
	batch := testBatch(1, 1000)
	batch.IsSynced = true
	require.NoError(t, NewBatchLogic(db).CreateBatch(nil, batch))

	events := NewEventLogic(db)
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa",
		LogIndex:        0,
		BlockNum:        90,
		BatchId:         1,
		FromAddress:     "0xmanufacturer",
		Quantity:        1000,
	})

	reconciler := NewReconcileLogic(db, testInventoryConfig())
	_, err := reconciler.Run()
	require.NoError(t, err)

	// 已有记录原样保留
	stored, err := NewBatchLogic(db).GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, "阿莫西林胶囊", stored.DrugName)
	assert.True(t, stored.IsSynced)

	var count int64
	require.NoError(t, db.Model(&model.BatchModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestReconcileReplaysShipmentLifecycle(t *testing.T) {
	db := setupTestDB(t)
	companies := NewCompanyLogic(db)
	dist, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "国药控股", Role: model.CompanyRoleDistributor, Address: "0xdist",
	})
	require.NoError(t, err)

	events := NewEventLogic(db)
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa", LogIndex: 0, BlockNum: 90,
		BatchId: 1, FromAddress: "0xmfg", Quantity: 1000,
	})
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentCreated,
		TxHash:          "0xbbb", LogIndex: 0, BlockNum: 91,
		BatchId: 1, ShipmentId: 5,
		FromAddress: "0xmfg", ToAddress: "0xdist", Quantity: 400,
	})
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentReceived,
		TxHash:          "0xccc", LogIndex: 0, BlockNum: 95,
		BatchId: 1, ShipmentId: 5, ToAddress: "0xdist",
	})

	reconciler := NewReconcileLogic(db, testInventoryConfig())
	processed, err := reconciler.Run()
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	shipment, err := NewShipmentLogic(db).GetShipment(5)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusDelivered, shipment.Status)
	assert.Equal(t, "0xccc", shipment.ReceiveTxHash)

	batch, err := NewBatchLogic(db).GetBatch(1)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDelivered, batch.Status)
	assert.Equal(t, "0xdist", batch.CurrentOwner)

	row, err := NewDistributorInventoryLogic(db, testInventoryConfig()).GetInventory(dist.Id, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
}

func TestReconcileRepairsCancelledShipmentReceivedOnLedger(t *testing.T) {
	f := setupTraceFixture(t)
	batch := f.issueBatch(t, 1000)

	// 经销商持有400件后向药房出货200件
	first, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xmfg", BatchId: batch.BatchId, ToAddress: "0xdist", Quantity: 400,
	})
	require.NoError(t, err)
	_, err = f.trace.ReceiveShipment(context.Background(), "0xdist", first.ShipmentId)
	require.NoError(t, err)

	second, err := f.trace.CreateShipment(context.Background(), &CreateShipmentRequest{
		CallerAddress: "0xdist", BatchId: batch.BatchId, ToAddress: "0xpharm", Quantity: 200,
	})
	require.NoError(t, err)

	// 本地取消，但药房仍在链上完成了签收
	_, err = f.trace.UpdateShipmentStatus("0xdist", second.ShipmentId, model.ShipmentStatusCancelled)
	require.NoError(t, err)

	events := NewEventLogic(f.db)
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentReceived,
		TxHash:          "0xledger", LogIndex: 0, BlockNum: 300,
		BatchId: batch.BatchId, ShipmentId: second.ShipmentId, ToAddress: "0xpharm",
	})

	reconciler := NewReconcileLogic(f.db, testInventoryConfig())
	processed, err := reconciler.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// 账本为准：cancelled 行被修复为已签收
	shipment, err := NewShipmentLogic(f.db).GetShipment(second.ShipmentId)
	require.NoError(t, err)
	assert.Equal(t, model.ShipmentStatusDelivered, shipment.Status)
	assert.Equal(t, "0xledger", shipment.ReceiveTxHash)

	stored, err := NewBatchLogic(f.db).GetBatch(batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDelivered, stored.Status)
	assert.Equal(t, "0xpharm", stored.CurrentOwner)

	// 取消时的发货方回补被撤销，收货方正常入库
	distRow, err := NewDistributorInventoryLogic(f.db, testInventoryConfig()).
		GetInventory(f.distributor.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(200), distRow.Quantity)

	pharmRow, err := NewPharmacyInventoryLogic(f.db, testInventoryConfig()).
		GetInventory(f.pharmacy.Id, batch.BatchId)
	require.NoError(t, err)
	assert.Equal(t, int64(200), pharmRow.Quantity)

	// 事件已标记处理，不会反复重试
	pending, err := events.GetUnprocessedEvents(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestReconcileRunIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	companies := NewCompanyLogic(db)
	dist, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "国药控股", Role: model.CompanyRoleDistributor, Address: "0xdist",
	})
	require.NoError(t, err)

	events := NewEventLogic(db)
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa", LogIndex: 0, BlockNum: 90,
		BatchId: 1, FromAddress: "0xmfg", Quantity: 1000,
	})
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentCreated,
		TxHash:          "0xbbb", LogIndex: 0, BlockNum: 91,
		BatchId: 1, ShipmentId: 5,
		FromAddress: "0xmfg", ToAddress: "0xdist", Quantity: 400,
	})
	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentReceived,
		TxHash:          "0xccc", LogIndex: 0, BlockNum: 95,
		BatchId: 1, ShipmentId: 5, ToAddress: "0xdist",
	})

	reconciler := NewReconcileLogic(db, testInventoryConfig())
	_, err = reconciler.Run()
	require.NoError(t, err)

	// 全部事件已处理，再跑一轮是空转
	processed, err := reconciler.Run()
	require.NoError(t, err)
	assert.Equal(t, 0, processed)

	// 库存没有被重复入账
	row, err := NewDistributorInventoryLogic(db, testInventoryConfig()).GetInventory(dist.Id, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), row.Quantity)
}

func TestEventDedupAndWatermark(t *testing.T) {
	db := setupTestDB(t)
	events := NewEventLogic(db)

	// 空表水位线为0
	last, err := events.GetLastIndexedBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)

	event := &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa", LogIndex: 0, BlockNum: 90,
		BatchId: 1, Quantity: 1000,
	}
	inserted, err := events.CreateEvent(event)
	require.NoError(t, err)
	assert.True(t, inserted)

	// 同一 (tx_hash, log_index) 重复落库被静默去重
	dup := &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeBatchIssued,
		TxHash:          "0xaaa", LogIndex: 0, BlockNum: 90,
		BatchId: 1, Quantity: 1000,
	}
	inserted, err = events.CreateEvent(dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	var count int64
	require.NoError(t, db.Model(&model.EventModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// 水位线始终由已存事件推导
	last, err = events.GetLastIndexedBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(90), last)

	storeEvent(t, events, &model.EventModel{
		ContractAddress: "0xcontract",
		EventType:       model.EventTypeShipmentCreated,
		TxHash:          "0xbbb", LogIndex: 1, BlockNum: 96,
		BatchId: 1, ShipmentId: 2, Quantity: 100,
	})
	last, err = events.GetLastIndexedBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(96), last)
}

func TestCompanyResolveFuzzyLink(t *testing.T) {
	db := setupTestDB(t)
	companies := NewCompanyLogic(db)

	registered, err := companies.RegisterCompany(&model.CompanyModel{
		Name: "国药控股", Role: model.CompanyRoleDistributor, Address: "0xDIST",
	})
	require.NoError(t, err)

	// 地址精确匹配（大小写不敏感）
	found, err := companies.ResolveCompany("0xdist", "", model.CompanyRoleDistributor)
	require.NoError(t, err)
	assert.Equal(t, registered.Id, found.Id)

	// 地址未知但名称命中时建立模糊关联并标记待审核
	linked, err := companies.ResolveCompany("0xother", "国药控股", model.CompanyRoleDistributor)
	require.NoError(t, err)
	assert.NotEqual(t, registered.Id, linked.Id)
	assert.Equal(t, "fuzzy", linked.LinkSource)
	assert.True(t, linked.NeedsReview)
}
