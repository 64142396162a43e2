package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Receipt 交易回执摘要
type Receipt struct {
	TxHash   string   `json:"tx_hash"`
	BlockNum int64    `json:"block_num"`
	GasUsed  int64    `json:"gas_used"`
	Success  bool     `json:"success"`
	Events   []*Event `json:"events"`
}

// Client 账本客户端，封装溯源合约的四种写操作和链上读取
type Client struct {
	client         *ethclient.Client
	privateKey     *ecdsa.PrivateKey
	chainId        *big.Int
	contract       *Contract
	bound          *bind.BoundContract
	receiptTimeout time.Duration
	config         config.ChainConfig
}

// NewClient 创建账本客户端
func NewClient(cfg config.ChainConfig) (*Client, error) {
	logger.Info("Initializing chain client (type: %s, id: %d)", cfg.ChainType, cfg.ChainId)

	// 验证链类型
	if !isSupportedChainType(cfg.ChainType) {
		return nil, fmt.Errorf("unsupported chain type %s, supported types: ethereum, polygon, bsc, arbitrum, optimism", cfg.ChainType)
	}

	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("no RPC URL configured")
	}

	// 连接客户端
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.ChainType, err)
	}

	// 测试连接
	if _, err := client.BlockNumber(context.TODO()); err != nil {
		client.Close()
		return nil, fmt.Errorf("client connection test failed (%s): %w", cfg.ChainType, err)
	}

	// 解析私钥
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	// 初始化溯源合约
	contract, err := NewContract(cfg.Contract)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize contract: %w", err)
	}

	receiptTimeout := time.Duration(cfg.ReceiptTimeout) * time.Second
	if receiptTimeout <= 0 {
		receiptTimeout = time.Minute * 2
	}

	logger.Info("Successfully initialized chain client (contract: %s)", cfg.Contract.Address)

	return &Client{
		client:         client,
		privateKey:     privateKey,
		chainId:        big.NewInt(cfg.ChainId),
		contract:       contract,
		bound:          bind.NewBoundContract(contract.GetAddress(), contract.GetABI(), client, client, client),
		receiptTimeout: receiptTimeout,
		config:         cfg,
	}, nil
}

// isSupportedChainType 检查链类型是否支持
func isSupportedChainType(chainType string) bool {
	supportedTypes := []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}
	for _, supportedType := range supportedTypes {
		if chainType == supportedType {
			return true
		}
	}
	return false
}

// CallerAddress 获取本服务签名账户的地址
func (c *Client) CallerAddress() string {
	return crypto.PubkeyToAddress(c.privateKey.PublicKey).Hex()
}

// GetContract 获取溯源合约
func (c *Client) GetContract() *Contract {
	return c.contract
}

// ContractAddress 获取溯源合约地址
func (c *Client) ContractAddress() string {
	return c.contract.GetAddress().Hex()
}

// DeployBlockNum 获取合约部署区块号，索引器不会扫描这之前的区块
func (c *Client) DeployBlockNum() int64 {
	return c.contract.GetBlockNum()
}

// CurrentHeight 获取当前最新区块号
func (c *Client) CurrentHeight(ctx context.Context) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block header: %w", err)
	}
	return header.Number.Int64(), nil
}

// BlockExists 检查指定高度的区块是否存在
func (c *Client) BlockExists(ctx context.Context, height int64) (bool, error) {
	_, err := c.client.HeaderByNumber(ctx, big.NewInt(height))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get header for block %d: %w", height, err)
	}
	return true, nil
}

// FilterEvents 获取区块范围内溯源合约的三种事件
func (c *Client) FilterEvents(ctx context.Context, fromBlock, toBlock int64) ([]*Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{c.contract.GetAddress()},
		Topics:    [][]common.Hash{c.contract.EventSignatures()},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs for blocks %d-%d: %w", fromBlock, toBlock, err)
	}

	events := make([]*Event, 0, len(logs))
	for _, log := range logs {
		event, err := c.contract.ParseEvent(log)
		if err != nil {
			logger.Warn("Failed to parse log at block %d index %d: %v", log.BlockNumber, log.Index, err)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// SendBatchIssue 调用合约签发批次
func (c *Client) SendBatchIssue(ctx context.Context, drugName, manufacturer, batchNumber string,
	quantity int64, manufactureTime, expiryTime time.Time, qrCode string) (*Receipt, error) {
	return c.transact(ctx, "issueBatch",
		drugName,
		manufacturer,
		batchNumber,
		big.NewInt(quantity),
		big.NewInt(manufactureTime.Unix()),
		big.NewInt(expiryTime.Unix()),
		qrCode,
	)
}

// SendCreateShipment 调用合约创建出货单
func (c *Client) SendCreateShipment(ctx context.Context, batchId int64, toAddress string,
	quantity int64, trackingRef string) (*Receipt, error) {
	return c.transact(ctx, "createShipment",
		big.NewInt(batchId),
		common.HexToAddress(toAddress),
		big.NewInt(quantity),
		trackingRef,
	)
}

// SendReceiveShipment 调用合约签收出货单
func (c *Client) SendReceiveShipment(ctx context.Context, shipmentId int64) (*Receipt, error) {
	return c.transact(ctx, "receiveShipment", big.NewInt(shipmentId))
}

// VerifyOwnership 验证批次当前所有权
func (c *Client) VerifyOwnership(ctx context.Context, batchId int64, address string) (bool, error) {
	var out []interface{}
	err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, "verifyBatch",
		big.NewInt(batchId), common.HexToAddress(address))
	if err != nil {
		return false, fmt.Errorf("failed to call verifyBatch: %w", err)
	}
	if len(out) == 0 {
		return false, fmt.Errorf("verifyBatch returned no value")
	}

	verified, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("verifyBatch returned unexpected type %T", out[0])
	}
	return verified, nil
}

// transact 发送合约交易并同步等待回执。提交后不可取消，失败由调用方决定是否重试
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (*Receipt, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainId)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx

	tx, err := c.bound.Transact(auth, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	logger.Info("Sent %s transaction: %s, waiting for receipt", method, tx.Hash().Hex())

	// 在超时范围内等待回执
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for %s receipt (tx %s): %w", method, tx.Hash().Hex(), err)
	}

	result := &Receipt{
		TxHash:   receipt.TxHash.Hex(),
		BlockNum: receipt.BlockNumber.Int64(),
		GasUsed:  int64(receipt.GasUsed),
		Success:  receipt.Status == types.ReceiptStatusSuccessful,
	}

	// 解析回执中的合约事件
	for _, log := range receipt.Logs {
		if log == nil || log.Address != c.contract.GetAddress() {
			continue
		}
		event, err := c.contract.ParseEvent(*log)
		if err != nil {
			continue
		}
		result.Events = append(result.Events, event)
	}

	if !result.Success {
		return result, fmt.Errorf("%s transaction reverted (tx %s)", method, result.TxHash)
	}

	logger.Info("Transaction %s confirmed at block %d", result.TxHash, result.BlockNum)
	return result, nil
}

// GetHealthStatus 获取链连接健康状态
func (c *Client) GetHealthStatus() map[string]interface{} {
	health := map[string]interface{}{
		"chain_type":       c.config.ChainType,
		"chain_id":         c.config.ChainId,
		"contract_address": c.contract.GetAddress().Hex(),
		"client_status":    "connected",
	}

	if _, err := c.client.BlockNumber(context.TODO()); err != nil {
		health["client_status"] = "disconnected"
	}

	return health
}

// Close 关闭客户端
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
	logger.Info("Chain client closed")
}
