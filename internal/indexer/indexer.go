package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/pts/internal/chain"
	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/blues/pts/internal/logic"
	"gorm.io/gorm"
)

// LedgerReader 索引器依赖的账本只读视图
type LedgerReader interface {
	CurrentHeight(ctx context.Context) (int64, error)
	BlockExists(ctx context.Context, blockNum int64) (bool, error)
	FilterEvents(ctx context.Context, fromBlock, toBlock int64) ([]*chain.Event, error)
	ContractAddress() string
	DeployBlockNum() int64
}

// Status 索引器运行状态
type Status struct {
	LastIndexedBlock   int64     `json:"last_indexed_block"`
	SafeHeight         int64     `json:"safe_height"`
	CurrentHeight      int64     `json:"current_height"`
	ConfirmationBuffer int64     `json:"confirmation_buffer"`
	LastTickAt         time.Time `json:"last_tick_at"`
	LastError          string    `json:"last_error,omitempty"`
}

// Indexer 事件索引器。每轮从存量事件的最大区块号继续，只扫描到
// 安全高度（当前高度减确认缓冲）为止，事件凭 (tx_hash, log_index)
// 去重后落库。进度没有独立游标，水位线始终由已存事件推导
type Indexer struct {
	ledger     LedgerReader
	eventLogic *logic.EventLogic
	buffer     int64
	batchSize  int64

	mu         sync.Mutex
	lastTickAt time.Time
	lastHeight int64
	lastSafe   int64
	lastErr    string
}

// New 创建索引器
func New(db *gorm.DB, ledger LedgerReader, cfg config.TaskConfig) *Indexer {
	return &Indexer{
		ledger:     ledger,
		eventLogic: logic.NewEventLogic(db),
		buffer:     cfg.ConfirmationBuffer,
		batchSize:  cfg.ScanBatchSize,
	}
}

// Tick 执行一轮扫描。安全窗口为空或区块尚不可见时记一条日志直接返回，
// 下一轮重试
func (i *Indexer) Tick(ctx context.Context) (int, error) {
	height, err := i.ledger.CurrentHeight(ctx)
	if err != nil {
		i.recordTick(0, 0, err)
		return 0, fmt.Errorf("获取当前区块高度失败: %w", err)
	}

	safeHeight := height - i.buffer
	i.recordTick(height, safeHeight, nil)
	if safeHeight < 0 {
		logger.Info("Chain height %d below confirmation buffer %d, nothing to index", height, i.buffer)
		return 0, nil
	}

	last, err := i.eventLogic.GetLastIndexedBlock()
	if err != nil {
		i.recordTick(height, safeHeight, err)
		return 0, err
	}

	from := last + 1
	if deploy := i.ledger.DeployBlockNum(); from < deploy {
		from = deploy
	}
	if from > safeHeight {
		logger.Info("No new blocks to index, watermark %d, safe height %d", last, safeHeight)
		return 0, nil
	}

	inserted, err := i.scanRange(ctx, from, safeHeight)
	if err != nil {
		i.recordTick(height, safeHeight, err)
		return inserted, err
	}
	return inserted, nil
}

// IndexFrom 手动回填：从指定区块扫描到当前安全高度。与 Tick 相同的
// 去重语义，重复回填不会产生重复记录
func (i *Indexer) IndexFrom(ctx context.Context, fromBlock int64) (int, error) {
	if fromBlock < 0 {
		return 0, fmt.Errorf("起始区块号不合法: %d", fromBlock)
	}

	height, err := i.ledger.CurrentHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取当前区块高度失败: %w", err)
	}
	safeHeight := height - i.buffer
	if fromBlock > safeHeight {
		return 0, fmt.Errorf("起始区块 %d 超出安全高度 %d", fromBlock, safeHeight)
	}

	if deploy := i.ledger.DeployBlockNum(); fromBlock < deploy {
		fromBlock = deploy
	}
	return i.scanRange(ctx, fromBlock, safeHeight)
}

// scanRange 按批扫描 [from, to] 区间并落库
func (i *Indexer) scanRange(ctx context.Context, from, to int64) (int, error) {
	inserted := 0
	for start := from; start <= to; start += i.batchSize {
		end := start + i.batchSize - 1
		if end > to {
			end = to
		}

		// 安全高度的区块必须真实可见，镜像宁可落后也不能包含未确认数据
		exists, err := i.ledger.BlockExists(ctx, end)
		if err != nil {
			return inserted, fmt.Errorf("检查区块 %d 可见性失败: %w", end, err)
		}
		if !exists {
			logger.Warn("Block %d not visible yet, stopping scan at %d", end, start-1)
			return inserted, nil
		}

		events, err := i.ledger.FilterEvents(ctx, start, end)
		if err != nil {
			return inserted, fmt.Errorf("拉取区块 [%d, %d] 事件失败: %w", start, end, err)
		}

		for _, event := range events {
			ok, err := i.eventLogic.CreateEvent(event.ToModel(i.ledger.ContractAddress()))
			if err != nil {
				return inserted, err
			}
			if ok {
				inserted++
			}
		}

		if len(events) > 0 {
			logger.Info("Indexed %d events in blocks [%d, %d]", len(events), start, end)
		}
	}
	return inserted, nil
}

// Status 返回索引器运行状态快照
func (i *Indexer) Status() (*Status, error) {
	last, err := i.eventLogic.GetLastIndexedBlock()
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return &Status{
		LastIndexedBlock:   last,
		SafeHeight:         i.lastSafe,
		CurrentHeight:      i.lastHeight,
		ConfirmationBuffer: i.buffer,
		LastTickAt:         i.lastTickAt,
		LastError:          i.lastErr,
	}, nil
}

func (i *Indexer) recordTick(height, safe int64, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.lastTickAt = time.Now()
	i.lastHeight = height
	i.lastSafe = safe
	if err != nil {
		i.lastErr = err.Error()
	} else {
		i.lastErr = ""
	}
}
