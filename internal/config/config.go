package config

import (
	"github.com/blues/pts/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Task      TaskConfig      `mapstructure:"task"`
	Inventory InventoryConfig `mapstructure:"inventory"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 单链配置
type ChainConfig struct {
	ChainType      string         `mapstructure:"chain_type"`      // 链类型 (ethereum, polygon, etc.)
	ChainId        int64          `mapstructure:"chain_id"`        // 链ID
	RpcUrl         string         `mapstructure:"rpc_url"`         // RPC节点URL
	PrivateKey     string         `mapstructure:"private_key"`     // 私钥
	ReceiptTimeout int            `mapstructure:"receipt_timeout"` // 等待交易回执的超时时间（秒）
	Contract       ContractConfig `mapstructure:"contract"`        // 溯源合约配置
}

// ContractConfig 溯源合约配置
type ContractConfig struct {
	Address  string `mapstructure:"address"`   // 合约地址
	ABIPath  string `mapstructure:"abi_path"`  // ABI文件路径（为空时使用内置ABI）
	BlockNum int64  `mapstructure:"block_num"` // 合约部署区块号
}

// TaskConfig 定时任务配置
type TaskConfig struct {
	IndexInterval      int   `mapstructure:"index_interval"`      // 索引任务间隔（秒）
	ReconcileInterval  int   `mapstructure:"reconcile_interval"`  // 对账任务间隔（秒）
	StockInterval      int   `mapstructure:"stock_interval"`      // 库存状态任务间隔（秒）
	ConfirmationBuffer int64 `mapstructure:"confirmation_buffer"` // 确认缓冲区块数
	ScanBatchSize      int64 `mapstructure:"scan_batch_size"`     // 单次扫描的最大区块数
}

// InventoryConfig 库存阈值配置
type InventoryConfig struct {
	LowStockThreshold int64 `mapstructure:"low_stock_threshold"` // 低库存阈值
	ExpiringSoonDays  int   `mapstructure:"expiring_soon_days"`  // 临期天数
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/pts")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "pts")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("chain.chain_type", "ethereum")
	viper.SetDefault("chain.receipt_timeout", 120)
	viper.SetDefault("task.index_interval", 30)
	viper.SetDefault("task.reconcile_interval", 60)
	viper.SetDefault("task.stock_interval", 3600)
	viper.SetDefault("task.confirmation_buffer", 6)
	viper.SetDefault("task.scan_batch_size", 500)
	viper.SetDefault("inventory.low_stock_threshold", 100)
	viper.SetDefault("inventory.expiring_soon_days", 90)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
