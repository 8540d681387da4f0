package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 ReasonChain 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Protocol ProtocolConfig `json:"protocol"`
	Chains   ChainsConfig   `json:"chains"`
	Fees     FeesConfig     `json:"fees"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Logger   LoggerConfig   `json:"logger"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 控制 API 的访问令牌校验。
type AuthConfig struct {
	Mode           string           `json:"mode"`
	Secret         string           `json:"secret"`
	TokenTTLSecond int              `json:"token_ttl_seconds"`
	Users          []AuthUserConfig `json:"users,omitempty"`
}

// AuthUserConfig 声明允许换取令牌的调用方。
type AuthUserConfig struct {
	Name        string   `json:"name"`
	APIKey      string   `json:"api_key"`
	Permissions []string `json:"permissions,omitempty"`
}

// ProtocolConfig 描述外部承诺-揭示协议服务的接入方式。
type ProtocolConfig struct {
	BaseURL         string `json:"base_url"`
	ProgramID       string `json:"program_id"`
	AgentName       string `json:"agent_name"`
	Identity        string `json:"identity"`
	StorageBaseURI  string `json:"storage_base_uri"`
	ExplorerBaseURL string `json:"explorer_base_url"`
	AutoRegister    bool   `json:"auto_register"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Timeout 返回协议调用的超时时间。
func (c ProtocolConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChainsConfig 包含访问区块链节点所需的信息。
type ChainsConfig struct {
	ChainConfig  string            `json:"chain_config"`
	DefaultChain string            `json:"default_chain"`
	RPCURL       string            `json:"rpc_url"`
	Wallets      map[string]string `json:"wallets"`
}

// FeesConfig 描述费用金库合约及领取身份。
type FeesConfig struct {
	Chain    string `json:"chain"`
	Contract string `json:"contract"`
	Owner    string `json:"owner"`
	Token    string `json:"token"`
}

// StorageConfig 统一描述任务状态与审计归档的后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Archive   ArchiveConfig   `json:"archive"`
}

// TaskStoreConfig 决定任务状态保存在内存还是 MySQL。
type TaskStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	Retries                int    `json:"retries"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// ArchiveConfig 控制审计记录的落库方式。会话账本始终保留在进程内，
// 归档只是额外的镜像。
type ArchiveConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// QueueConfig 决定任务队列使用的驱动。
type QueueConfig struct {
	Driver   string              `json:"driver"`
	Worker   int                 `json:"worker"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// LoggerConfig 控制结构化日志与审计日志输出。
type LoggerConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// MetricsConfig 控制指标服务的暴露地址。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertingConfig 控制任务失败时的告警通知渠道。
type AlertingConfig struct {
	Enabled         bool   `json:"enabled"`
	DingTalkWebhook string `json:"dingtalk_webhook"`
	SlackWebhook    string `json:"slack_webhook"`
	SlackChannel    string `json:"slack_channel"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Timeout 返回告警请求的超时时间。
func (c AlertingConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.TokenTTLSecond <= 0 {
		c.Auth.TokenTTLSecond = 3600
	}

	if c.Protocol.AgentName == "" {
		c.Protocol.AgentName = "reasonchain-agent"
	}
	if c.Protocol.ExplorerBaseURL == "" {
		c.Protocol.ExplorerBaseURL = "https://explorer.reasonchain.dev/commitment"
	}
	if c.Protocol.TimeoutSeconds <= 0 {
		c.Protocol.TimeoutSeconds = 30
	}

	if c.Chains.ChainConfig != "" && !filepath.IsAbs(c.Chains.ChainConfig) {
		c.Chains.ChainConfig = filepath.Join(baseDir, c.Chains.ChainConfig)
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}
	if c.Storage.Archive.Driver == "" {
		c.Storage.Archive.Driver = "jsonl"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Worker <= 0 {
		c.Queue.Worker = 4
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
