package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"faucet/internal/logging"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// 存储驱动
const (
	StoreDriverMemory   = "memory"
	StoreDriverBolt     = "bolt"
	StoreDriverPostgres = "postgres"
)

// 统计来源策略
const (
	StatsSourceAuto       = "auto"
	StatsSourceDatabase   = "database"
	StatsSourceBlockchain = "blockchain"
)

// PrimaryNetwork 主网络名称
const PrimaryNetwork = "primary"

// MaxDeadlineWindow 授权有效期上限
const MaxDeadlineWindow = 30 * time.Minute

// Config 主配置
type Config struct {
	Server     *ServerConfig      `mapstructure:"server"`
	Store      *StoreConfig       `mapstructure:"store"`
	Faucet     *FaucetConfig      `mapstructure:"faucet"`
	Signer     *SignerConfig      `mapstructure:"signer"`
	Chain      *ChainConfig       `mapstructure:"chain"`
	Reputation *ReputationConfig  `mapstructure:"reputation"`
	Stats      *StatsConfig       `mapstructure:"stats"`
	Kafka      *KafkaConfig       `mapstructure:"kafka"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// StoreConfig 领取记录存储配置
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	BoltPath        string        `mapstructure:"bolt_path"`
	Retention       int           `mapstructure:"retention"` // 列表型存储保留的最大记录数
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// FaucetConfig 领取规则配置
type FaucetConfig struct {
	CooldownHours      int      `mapstructure:"cooldown_hours"`
	DripAmount         string   `mapstructure:"drip_amount"` // 仅用于展示，实际金额由合约决定
	RequireFollow      bool     `mapstructure:"require_follow"`
	RequireReputation  bool     `mapstructure:"require_reputation"`
	StrictPlatformMode bool     `mapstructure:"strict_platform_mode"`
	PlatformMarkers    []string `mapstructure:"platform_markers"`
}

// Cooldown 冷却时长
func (f *FaucetConfig) Cooldown() time.Duration {
	return time.Duration(f.CooldownHours) * time.Hour
}

// SignerConfig 签名配置，顶层字段描述主网络
type SignerConfig struct {
	PrivateKey      string           `mapstructure:"private_key"`
	ContractAddress string           `mapstructure:"contract_address"`
	ChainID         int64            `mapstructure:"chain_id"`
	DeadlineWindow  time.Duration    `mapstructure:"deadline_window"`
	DripAmount      string           `mapstructure:"drip_amount"`
	Networks        []*NetworkConfig `mapstructure:"networks"` // 次级网络
}

// NetworkConfig 网络配置
type NetworkConfig struct {
	Name            string        `mapstructure:"name"`
	ContractAddress string        `mapstructure:"contract_address"`
	ChainID         int64         `mapstructure:"chain_id"`
	DeadlineWindow  time.Duration `mapstructure:"deadline_window"`
	DripAmount      string        `mapstructure:"drip_amount"`
}

// Primary 主网络配置
func (s *SignerConfig) Primary() *NetworkConfig {
	return &NetworkConfig{
		Name:            PrimaryNetwork,
		ContractAddress: s.ContractAddress,
		ChainID:         s.ChainID,
		DeadlineWindow:  s.DeadlineWindow,
		DripAmount:      s.DripAmount,
	}
}

// AllNetworks 返回主网络和所有次级网络
func (s *SignerConfig) AllNetworks() []*NetworkConfig {
	networks := make([]*NetworkConfig, 0, len(s.Networks)+1)
	networks = append(networks, s.Primary())
	networks = append(networks, s.Networks...)
	return networks
}

// ChainConfig 链上查询配置
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	BlockWindow    uint64        `mapstructure:"block_window"`
	DripEvent      string        `mapstructure:"drip_event"` // 事件签名，如 Drip(address,uint256)
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	CacheSize      int           `mapstructure:"cache_size"`
}

// ReputationConfig 社交声誉API配置
type ReputationConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	TargetID string        `mapstructure:"target_id"` // 需要关注的账号ID
	MinScore float64       `mapstructure:"min_score"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled 是否配置了声誉API
func (r *ReputationConfig) Enabled() bool {
	return r != nil && r.BaseURL != "" && r.APIKey != ""
}

// StatsConfig 统计配置
type StatsConfig struct {
	Source  string        `mapstructure:"source"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Store: &StoreConfig{
			Driver:          StoreDriverMemory,
			BoltPath:        "./data/claims.db",
			Retention:       100,
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxIdleTime: 10 * time.Second,
			ConnectTimeout:  5 * time.Second,
			QueryTimeout:    3 * time.Second,
			AutoMigrate:     true,
		},
		Faucet: &FaucetConfig{
			CooldownHours:      24,
			DripAmount:         "0.001",
			RequireFollow:      false,
			RequireReputation:  false,
			StrictPlatformMode: false,
			PlatformMarkers:    []string{"warpcast", "farcaster"},
		},
		Signer: &SignerConfig{
			DeadlineWindow: 5 * time.Minute,
			DripAmount:     "0.001",
		},
		Chain: &ChainConfig{
			BlockWindow:    2000,
			DripEvent:      "Drip(address,uint256)",
			CallTimeout:    5 * time.Second,
			MaxConcurrency: 8,
			CacheSize:      4096,
		},
		Reputation: &ReputationConfig{
			BaseURL:  "https://api.neynar.com",
			MinScore: 0.5,
			Timeout:  5 * time.Second,
		},
		Stats: &StatsConfig{
			Source:  StatsSourceAuto,
			Timeout: 8 * time.Second,
		},
		Kafka: &KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "faucet_claims",
		},
		Logging: logging.DefaultLogConfig(),
	}
}

// setDefaults 将默认配置写入viper，保证环境变量覆盖对所有键生效
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("store.driver", "") // 为空时按DSN推断
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.bolt_path", d.Store.BoltPath)
	v.SetDefault("store.retention", d.Store.Retention)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)
	v.SetDefault("store.max_idle_conns", d.Store.MaxIdleConns)
	v.SetDefault("store.conn_max_idle_time", d.Store.ConnMaxIdleTime)
	v.SetDefault("store.connect_timeout", d.Store.ConnectTimeout)
	v.SetDefault("store.query_timeout", d.Store.QueryTimeout)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("faucet.cooldown_hours", d.Faucet.CooldownHours)
	v.SetDefault("faucet.drip_amount", d.Faucet.DripAmount)
	v.SetDefault("faucet.require_follow", d.Faucet.RequireFollow)
	v.SetDefault("faucet.require_reputation", d.Faucet.RequireReputation)
	v.SetDefault("faucet.strict_platform_mode", d.Faucet.StrictPlatformMode)
	v.SetDefault("faucet.platform_markers", d.Faucet.PlatformMarkers)

	v.SetDefault("signer.private_key", "")
	v.SetDefault("signer.contract_address", "")
	v.SetDefault("signer.chain_id", 0)
	v.SetDefault("signer.deadline_window", d.Signer.DeadlineWindow)
	v.SetDefault("signer.drip_amount", d.Signer.DripAmount)

	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.block_window", d.Chain.BlockWindow)
	v.SetDefault("chain.drip_event", d.Chain.DripEvent)
	v.SetDefault("chain.call_timeout", d.Chain.CallTimeout)
	v.SetDefault("chain.max_concurrency", d.Chain.MaxConcurrency)
	v.SetDefault("chain.cache_size", d.Chain.CacheSize)

	v.SetDefault("reputation.base_url", d.Reputation.BaseURL)
	v.SetDefault("reputation.api_key", "")
	v.SetDefault("reputation.target_id", "")
	v.SetDefault("reputation.min_score", d.Reputation.MinScore)
	v.SetDefault("reputation.timeout", d.Reputation.Timeout)

	v.SetDefault("stats.source", d.Stats.Source)
	v.SetDefault("stats.timeout", d.Stats.Timeout)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// LoadConfig 加载配置：默认值 < YAML文件 < 环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FAUCET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容常见的部署环境变量
	_ = v.BindEnv("store.dsn", "FAUCET_STORE_DSN", "DATABASE_URL")
	_ = v.BindEnv("signer.private_key", "FAUCET_SIGNER_PRIVATE_KEY", "FAUCET_PRIVATE_KEY")
	_ = v.BindEnv("reputation.api_key", "FAUCET_REPUTATION_API_KEY", "NEYNAR_API_KEY")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("检查配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 未显式指定驱动时，按是否配置了连接串推断
	if config.Store.Driver == "" {
		if config.Store.DSN != "" {
			config.Store.Driver = StoreDriverPostgres
		} else {
			config.Store.Driver = StoreDriverMemory
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("配置为空")
	}
	if c.Server == nil || c.Store == nil || c.Faucet == nil || c.Signer == nil ||
		c.Chain == nil || c.Reputation == nil || c.Stats == nil || c.Kafka == nil {
		return fmt.Errorf("配置缺少必要的分组")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的服务端口: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverBolt:
		if c.Store.BoltPath == "" {
			return fmt.Errorf("bolt存储需要配置 store.bolt_path")
		}
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("postgres存储需要配置 store.dsn")
		}
		if c.Store.MaxOpenConns <= 0 {
			return fmt.Errorf("store.max_open_conns 必须大于0")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Store.Driver)
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store.retention 必须大于0")
	}

	if c.Faucet.CooldownHours <= 0 {
		return fmt.Errorf("faucet.cooldown_hours 必须大于0")
	}

	seen := make(map[string]bool)
	for _, network := range c.Signer.AllNetworks() {
		if network.Name == "" {
			return fmt.Errorf("网络名称不能为空")
		}
		if seen[network.Name] {
			return fmt.Errorf("网络名称重复: %s", network.Name)
		}
		seen[network.Name] = true

		if network.DeadlineWindow <= 0 || network.DeadlineWindow > MaxDeadlineWindow {
			return fmt.Errorf("网络 %s 的授权有效期必须在 (0, %v] 之间", network.Name, MaxDeadlineWindow)
		}
		if network.ContractAddress != "" && !common.IsHexAddress(network.ContractAddress) {
			return fmt.Errorf("网络 %s 的合约地址格式无效", network.Name)
		}
	}

	if c.Chain.BlockWindow == 0 {
		return fmt.Errorf("chain.block_window 必须大于0")
	}
	if c.Chain.MaxConcurrency <= 0 {
		return fmt.Errorf("chain.max_concurrency 必须大于0")
	}

	switch c.Stats.Source {
	case StatsSourceAuto, StatsSourceDatabase, StatsSourceBlockchain:
	default:
		return fmt.Errorf("不支持的统计来源: %s", c.Stats.Source)
	}

	if c.Reputation.MinScore < 0 {
		return fmt.Errorf("reputation.min_score 不能为负数")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("启用Kafka时必须配置 kafka.brokers")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("启用Kafka时必须配置 kafka.topic")
		}
	}

	return nil
}
