package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/database"
	"github.com/blues/pts/internal/logic"
	"github.com/blues/pts/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeReader 可编程的账本只读替身
type fakeReader struct {
	height        int64
	deployBlock   int64
	missingBlocks map[int64]bool
	events        map[int64][]*chain.Event
	heightErr     error
}

func newFakeReader(height int64) *fakeReader {
	return &fakeReader{
		height:        height,
		missingBlocks: map[int64]bool{},
		events:        map[int64][]*chain.Event{},
	}
}

func (f *fakeReader) addEvent(blockNum int64, logIndex int64, batchId int64) {
	f.events[blockNum] = append(f.events[blockNum], &chain.Event{
		EventType: model.EventTypeBatchIssued,
		TxHash:    fmt.Sprintf("0xtx%d_%d", blockNum, logIndex),
		LogIndex:  logIndex,
		BlockNum:  blockNum,
		BatchId:   batchId,
		Quantity:  100,
	})
}

func (f *fakeReader) CurrentHeight(_ context.Context) (int64, error) {
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeReader) BlockExists(_ context.Context, blockNum int64) (bool, error) {
	return !f.missingBlocks[blockNum], nil
}

func (f *fakeReader) FilterEvents(_ context.Context, fromBlock, toBlock int64) ([]*chain.Event, error) {
	var out []*chain.Event
	for b := fromBlock; b <= toBlock; b++ {
		out = append(out, f.events[b]...)
	}
	return out, nil
}

func (f *fakeReader) ContractAddress() string { return "0xcontract" }

func (f *fakeReader) DeployBlockNum() int64 { return f.deployBlock }

func setupIndexerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testTaskConfig() config.TaskConfig {
	return config.TaskConfig{
		ConfirmationBuffer: 2,
		ScanBatchSize:      500,
	}
}

func TestTickRespectsConfirmationBuffer(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(100)
	reader.addEvent(95, 0, 1)
	reader.addEvent(98, 0, 2)
	// 安全高度之上的事件不可见
	reader.addEvent(99, 0, 3)
	reader.addEvent(100, 0, 4)

	idx := New(db, reader, testTaskConfig())
	inserted, err := idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	last, err := logic.NewEventLogic(db).GetLastIndexedBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(98), last)

	// 链推进后下一轮补上剩余区块
	reader.height = 102
	inserted, err = idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
}

func TestTickIsIdempotent(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(100)
	reader.addEvent(95, 0, 1)
	reader.addEvent(95, 1, 2)

	idx := New(db, reader, testTaskConfig())
	inserted, err := idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// 水位线之后没有新事件，重复扫描为空转
	inserted, err = idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	var count int64
	require.NoError(t, db.Model(&model.EventModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestTickStopsAtInvisibleBlock(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(100)
	reader.addEvent(95, 0, 1)
	reader.missingBlocks[98] = true

	idx := New(db, reader, testTaskConfig())

	// 目标区块还不可见时本轮放弃，宁可落后也不读未确认数据
	inserted, err := idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	// 区块可见后恢复推进
	delete(reader.missingBlocks, 98)
	inserted, err = idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestTickStartsAtDeployBlock(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(1000)
	reader.deployBlock = 900
	reader.addEvent(500, 0, 1) // 部署之前的区块不属于扫描范围
	reader.addEvent(950, 0, 2)

	cfg := testTaskConfig()
	cfg.ScanBatchSize = 50
	idx := New(db, reader, cfg)

	inserted, err := idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	var stored model.EventModel
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, int64(950), stored.BlockNum)
}

func TestTickHeightBelowBuffer(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(1)

	idx := New(db, reader, testTaskConfig())
	inserted, err := idx.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
}

func TestIndexFromBackfill(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(100)
	reader.addEvent(50, 0, 1)
	reader.addEvent(95, 0, 2)

	idx := New(db, reader, testTaskConfig())

	// 正常扫描只覆盖水位线之后，先造出水位线
	_, err := idx.Tick(context.Background())
	require.NoError(t, err)

	// 手动回填历史区间，已存事件被去重
	inserted, err := idx.IndexFrom(context.Background(), 40)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	var count int64
	require.NoError(t, db.Model(&model.EventModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	// 起始区块超出安全高度直接拒绝
	_, err = idx.IndexFrom(context.Background(), 99)
	require.Error(t, err)
}

func TestTickReportsHeightError(t *testing.T) {
	db := setupIndexerDB(t)
	reader := newFakeReader(100)
	reader.heightErr = errors.New("rpc timeout")

	idx := New(db, reader, testTaskConfig())
	_, err := idx.Tick(context.Background())
	require.Error(t, err)

	status, statusErr := idx.Status()
	require.NoError(t, statusErr)
	assert.NotEmpty(t, status.LastError)
}
