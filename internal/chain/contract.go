package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/blues/pts/internal/config"
	"github.com/blues/pts/internal/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// 溯源合约ABI定义（内置版，可通过配置的 abi_path 覆盖）
const traceabilityABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "batchId", "type": "uint256"},
			{"indexed": true, "name": "manufacturer", "type": "address"},
			{"indexed": false, "name": "quantity", "type": "uint256"}
		],
		"name": "BatchIssued",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "shipmentId", "type": "uint256"},
			{"indexed": true, "name": "batchId", "type": "uint256"},
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": false, "name": "receiver", "type": "address"},
			{"indexed": false, "name": "quantity", "type": "uint256"}
		],
		"name": "ShipmentCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "shipmentId", "type": "uint256"},
			{"indexed": true, "name": "batchId", "type": "uint256"},
			{"indexed": true, "name": "receiver", "type": "address"}
		],
		"name": "ShipmentReceived",
		"type": "event"
	},
	{
		"inputs": [
			{"name": "drugName", "type": "string"},
			{"name": "manufacturer", "type": "string"},
			{"name": "batchNumber", "type": "string"},
			{"name": "quantity", "type": "uint256"},
			{"name": "manufactureTime", "type": "uint256"},
			{"name": "expiryTime", "type": "uint256"},
			{"name": "qrCode", "type": "string"}
		],
		"name": "issueBatch",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "batchId", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "quantity", "type": "uint256"},
			{"name": "trackingRef", "type": "string"}
		],
		"name": "createShipment",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "shipmentId", "type": "uint256"}],
		"name": "receiveShipment",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "batchId", "type": "uint256"},
			{"name": "owner", "type": "address"}
		],
		"name": "verifyBatch",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Event 已解析的合约事件
type Event struct {
	EventType  string `json:"event_type"`
	TxHash     string `json:"tx_hash"`
	LogIndex   int64  `json:"log_index"`
	BlockNum   int64  `json:"block_num"`
	BatchId    int64  `json:"batch_id"`
	ShipmentId int64  `json:"shipment_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Quantity   int64  `json:"quantity"`
}

// Contract 溯源合约包装器
type Contract struct {
	address  common.Address // 合约地址
	abi      abi.ABI        // 合约ABI
	blockNum int64          // 合约部署的区块号
}

// NewContract 创建合约实例
func NewContract(cfg config.ContractConfig) (*Contract, error) {
	parsedABI, err := loadABI(cfg.ABIPath)
	if err != nil {
		return nil, err
	}

	return &Contract{
		address:  common.HexToAddress(cfg.Address),
		abi:      parsedABI,
		blockNum: cfg.BlockNum,
	}, nil
}

// loadABI 加载ABI，路径为空时使用内置ABI
func loadABI(abiPath string) (abi.ABI, error) {
	if abiPath == "" {
		return abi.JSON(bytes.NewReader([]byte(traceabilityABI)))
	}

	abiData, err := os.ReadFile(abiPath)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", abiPath, err)
	}

	// 尝试解析为完整的编译输出文件
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		// 从编译输出中提取ABI
		parsed, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsed, nil
	}

	// 如果不是完整编译输出，尝试直接解析为ABI数组
	parsed, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetBlockNum 获取合约部署区块号
func (c *Contract) GetBlockNum() int64 {
	return c.blockNum
}

// EventSignatures 获取三种溯源事件的签名哈希
func (c *Contract) EventSignatures() []common.Hash {
	return []common.Hash{
		c.abi.Events[model.EventTypeBatchIssued].ID,
		c.abi.Events[model.EventTypeShipmentCreated].ID,
		c.abi.Events[model.EventTypeShipmentReceived].ID,
	}
}

// ParseEvent 解析事件日志
func (c *Contract) ParseEvent(log types.Log) (*Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	eventSignature := log.Topics[0]

	switch eventSignature {
	case c.abi.Events[model.EventTypeBatchIssued].ID:
		return c.parseBatchIssued(log)
	case c.abi.Events[model.EventTypeShipmentCreated].ID:
		return c.parseShipmentCreated(log)
	case c.abi.Events[model.EventTypeShipmentReceived].ID:
		return c.parseShipmentReceived(log)
	default:
		return nil, fmt.Errorf("unknown event signature: %s", eventSignature.Hex())
	}
}

// parseBatchIssued 解析批次签发事件
func (c *Contract) parseBatchIssued(log types.Log) (*Event, error) {
	if len(log.Topics) < 3 {
		return nil, fmt.Errorf("invalid BatchIssued event: insufficient topics")
	}

	event := c.baseEvent(model.EventTypeBatchIssued, log)
	event.BatchId = new(big.Int).SetBytes(log.Topics[1].Bytes()).Int64()
	event.From = common.BytesToAddress(log.Topics[2].Bytes()).Hex()

	// 解析非索引参数
	if len(log.Data) > 0 {
		values, err := c.abi.Unpack(model.EventTypeBatchIssued, log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack BatchIssued data: %w", err)
		}
		if len(values) > 0 {
			if quantity, ok := values[0].(*big.Int); ok {
				event.Quantity = quantity.Int64()
			}
		}
	}

	return event, nil
}

// parseShipmentCreated 解析出货单创建事件
func (c *Contract) parseShipmentCreated(log types.Log) (*Event, error) {
	if len(log.Topics) < 4 {
		return nil, fmt.Errorf("invalid ShipmentCreated event: insufficient topics")
	}

	event := c.baseEvent(model.EventTypeShipmentCreated, log)
	event.ShipmentId = new(big.Int).SetBytes(log.Topics[1].Bytes()).Int64()
	event.BatchId = new(big.Int).SetBytes(log.Topics[2].Bytes()).Int64()
	event.From = common.BytesToAddress(log.Topics[3].Bytes()).Hex()

	// 解析非索引参数（receiver, quantity）
	if len(log.Data) > 0 {
		values, err := c.abi.Unpack(model.EventTypeShipmentCreated, log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack ShipmentCreated data: %w", err)
		}
		if len(values) > 0 {
			if receiver, ok := values[0].(common.Address); ok {
				event.To = receiver.Hex()
			}
		}
		if len(values) > 1 {
			if quantity, ok := values[1].(*big.Int); ok {
				event.Quantity = quantity.Int64()
			}
		}
	}

	return event, nil
}

// parseShipmentReceived 解析出货单签收事件
func (c *Contract) parseShipmentReceived(log types.Log) (*Event, error) {
	if len(log.Topics) < 4 {
		return nil, fmt.Errorf("invalid ShipmentReceived event: insufficient topics")
	}

	event := c.baseEvent(model.EventTypeShipmentReceived, log)
	event.ShipmentId = new(big.Int).SetBytes(log.Topics[1].Bytes()).Int64()
	event.BatchId = new(big.Int).SetBytes(log.Topics[2].Bytes()).Int64()
	event.To = common.BytesToAddress(log.Topics[3].Bytes()).Hex()

	return event, nil
}

// baseEvent 填充事件的公共字段
func (c *Contract) baseEvent(eventType string, log types.Log) *Event {
	return &Event{
		EventType: eventType,
		TxHash:    log.TxHash.Hex(),
		LogIndex:  int64(log.Index),
		BlockNum:  int64(log.BlockNumber),
	}
}

// ToModel 转换为事件镜像记录
func (e *Event) ToModel(contractAddress string) *model.EventModel {
	data, _ := json.Marshal(e)

	return &model.EventModel{
		ContractAddress: contractAddress,
		EventType:       e.EventType,
		TxHash:          e.TxHash,
		LogIndex:        e.LogIndex,
		BlockNum:        e.BlockNum,
		BatchId:         e.BatchId,
		ShipmentId:      e.ShipmentId,
		FromAddress:     e.From,
		ToAddress:       e.To,
		Quantity:        e.Quantity,
		Data:            string(data),
		Processed:       false,
	}
}
