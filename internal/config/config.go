package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/wallet"
)

const (
	// DefaultNetworkID 为未配置 NETWORK_ID 时使用的测试网。
	DefaultNetworkID = "base-sepolia"
	// DefaultHookAddress 为存款检查与资产转移所调用的 hook 合约。
	DefaultHookAddress = "0x32Ad6efd93D32dcDf0Ffd2Fc09a271C234642080"
	// DefaultTokenAddress 为 swap/confiscate 操作转移的代币合约。
	DefaultTokenAddress = "0x59646e90E5A703f23f73312207b416A038E2C176"

	networkWarning = "NETWORK_ID not set, defaulting to base-sepolia testnet"
)

// Config 描述了 agneticd 在启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	Action     ActionConfig     `mapstructure:"action"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Autonomous AutonomousConfig `mapstructure:"autonomous"`
	Session    SessionConfig    `mapstructure:"session"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	// Warnings 收集加载阶段产生的非致命提示，由调用方写入日志。
	Warnings []string `mapstructure:"-"`
}

// ServerConfig 控制 HTTP 服务的监听端口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Address 返回 net/http 可用的监听地址。
func (s ServerConfig) Address() string {
	return ":" + strconv.Itoa(s.Port)
}

// LLMConfig 用于配置决策模型的调用方式。
type LLMConfig struct {
	Provider string             `mapstructure:"provider"`
	Timeout  time.Duration      `mapstructure:"timeout"`
	OpenAI   OpenAIConfig       `mapstructure:"openai"`
	Gemini   GeminiConfig       `mapstructure:"gemini"`
	Python   PythonBridgeConfig `mapstructure:"python_bridge"`
}

// OpenAIConfig 描述 Chat Completions 接口的访问参数。
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GeminiConfig 描述 Gemini 接口的访问参数。
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// PythonBridgeConfig 描述通过外部脚本完成决策时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `mapstructure:"python_executable"`
	ScriptPath       string `mapstructure:"script_path"`
	WorkingDir       string `mapstructure:"working_dir"`
}

// WalletConfig 包含托管钱包所需的节点与密钥参数。
type WalletConfig struct {
	RPCURL       string `mapstructure:"rpc_url"`
	Passphrase   string `mapstructure:"passphrase"`
	NetworkID    string `mapstructure:"network_id"`
	NetworksFile string `mapstructure:"networks_file"`
	ScryptN      int    `mapstructure:"scrypt_n"`
	ScryptP      int    `mapstructure:"scrypt_p"`
}

// ActionConfig 指定动作调用的合约地址与回执等待上限。
type ActionConfig struct {
	HookAddress    string        `mapstructure:"hook_address"`
	TokenAddress   string        `mapstructure:"token_address"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

// AgentConfig 控制回合循环的行为。
type AgentConfig struct {
	SessionID     string `mapstructure:"session_id"`
	PersonaFile   string `mapstructure:"persona_file"`
	MaxIterations int    `mapstructure:"max_iterations"`
	HistoryLimit  int    `mapstructure:"history_limit"`
}

// AutonomousConfig 控制自主模式的节奏。
type AutonomousConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// SessionConfig 描述钱包凭据的持久化后端。
type SessionConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// TranscriptConfig 描述会话记录的持久化后端。
type TranscriptConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// AuditConfig 描述动作回执的发布方式。
type AuditConfig struct {
	Driver    string `mapstructure:"driver"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
	AMQPURL   string `mapstructure:"amqp_url"`
	Queue     string `mapstructure:"queue"`
	LogPath   string `mapstructure:"log_path"`
}

// LogConfig 对应 pkg/logger 的初始化参数。
type LogConfig struct {
	Level   string   `mapstructure:"level"`
	Format  string   `mapstructure:"format"`
	Outputs []string `mapstructure:"outputs"`
}

// MetricsConfig 控制独立的指标监听地址，为空时只在 API 路由上暴露。
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// envBindings 将配置键映射到历史上使用的环境变量名。
var envBindings = map[string]string{
	"llm.provider":           "LLM_PROVIDER",
	"llm.openai.api_key":     "OPENAI_API_KEY",
	"llm.openai.base_url":    "OPENAI_BASE_URL",
	"llm.openai.model":       "OPENAI_MODEL",
	"llm.gemini.api_key":     "GEMINI_API_KEY",
	"llm.gemini.model":       "GEMINI_MODEL",
	"wallet.rpc_url":         "WALLET_RPC_URL",
	"wallet.passphrase":      "WALLET_PASSPHRASE",
	"wallet.network_id":      "NETWORK_ID",
	"wallet.networks_file":   "NETWORKS_FILE",
	"action.hook_address":    "HOOK_ADDRESS",
	"action.token_address":   "TOKEN_ADDRESS",
	"server.port":            "PORT",
	"log.level":              "LOG_LEVEL",
	"session.redis_addr":     "REDIS_ADDR",
	"transcript.dsn":         "MYSQL_DSN",
	"audit.amqp_url":         "AMQP_URL",
	"metrics.address":        "METRICS_ADDR",
	"autonomous.interval":    "AUTONOMOUS_INTERVAL",
	"agent.max_iterations":   "AGENT_MAX_ITERATIONS",
	"agent.history_limit":    "AGENT_HISTORY_LIMIT",
	"action.receipt_timeout": "RECEIPT_TIMEOUT",
}

// Load 读取可选的配置文件，再叠加环境变量并补全默认值。
// path 为空时只使用环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	v.SetEnvPrefix("AGNETIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	baseDir := ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
	}

	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.python_bridge.python_executable", "python3")
	v.SetDefault("llm.python_bridge.script_path", "")
	v.SetDefault("llm.python_bridge.working_dir", "")
	v.SetDefault("wallet.scrypt_n", 0)
	v.SetDefault("wallet.scrypt_p", 0)
	v.SetDefault("action.hook_address", DefaultHookAddress)
	v.SetDefault("action.token_address", DefaultTokenAddress)
	v.SetDefault("action.receipt_timeout", 2*time.Minute)
	v.SetDefault("agent.max_iterations", 10)
	v.SetDefault("agent.history_limit", 0)
	v.SetDefault("agent.session_id", "AgneticGOD Chatbot")
	v.SetDefault("agent.persona_file", "")
	v.SetDefault("autonomous.interval", 10*time.Second)
	v.SetDefault("session.driver", "file")
	v.SetDefault("session.path", "wallet_data.txt")
	v.SetDefault("session.redis_key", "agnetic:wallet")
	v.SetDefault("transcript.driver", "none")
	v.SetDefault("transcript.path", "")
	v.SetDefault("audit.driver", "none")
	v.SetDefault("audit.redis_addr", "")
	v.SetDefault("audit.redis_key", "agnetic:audit")
	v.SetDefault("audit.log_path", "")
	v.SetDefault("audit.queue", "agnetic.audit")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Session.Driver = strings.ToLower(strings.TrimSpace(c.Session.Driver))
	c.Transcript.Driver = strings.ToLower(strings.TrimSpace(c.Transcript.Driver))
	c.Audit.Driver = strings.ToLower(strings.TrimSpace(c.Audit.Driver))

	if c.Wallet.NetworkID == "" {
		c.Wallet.NetworkID = DefaultNetworkID
		c.Warnings = append(c.Warnings, networkWarning)
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 3000
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.HistoryLimit < 0 {
		c.Agent.HistoryLimit = 0
	}
	if c.Transcript.Driver == "file" && c.Transcript.Path == "" {
		c.Transcript.Path = "transcript.jsonl"
	}

	if baseDir == "" {
		return
	}
	c.Session.Path = resolve(baseDir, c.Session.Path)
	c.Transcript.Path = resolve(baseDir, c.Transcript.Path)
	c.Wallet.NetworksFile = resolve(baseDir, c.Wallet.NetworksFile)
	c.Agent.PersonaFile = resolve(baseDir, c.Agent.PersonaFile)
	c.Audit.LogPath = resolve(baseDir, c.Audit.LogPath)
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查必填项与驱动名称，一次性列出所有问题。
func (c *Config) Validate() error {
	var (
		missing  []string
		problems []string
	)
	unsupported := func(kind, value string) {
		problems = append(problems, fmt.Sprintf("unsupported %s %q", kind, value))
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	case "python_bridge":
		if c.LLM.Python.ScriptPath == "" {
			missing = append(missing, "llm.python_bridge.script_path")
		}
	default:
		unsupported("llm provider", c.LLM.Provider)
	}

	// 网络定义自带 rpc_url 时 WALLET_RPC_URL 可以省略。
	if c.Wallet.RPCURL == "" {
		network, err := wallet.ResolveNetwork(c.Wallet.NetworkID, c.Wallet.NetworksFile)
		switch {
		case err != nil:
			problems = append(problems, err.Error())
		case network.RPCURL == "":
			missing = append(missing, "WALLET_RPC_URL")
		}
	}
	if c.Wallet.Passphrase == "" {
		missing = append(missing, "WALLET_PASSPHRASE")
	}

	switch c.Session.Driver {
	case "file":
	case "redis":
		if c.Session.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	default:
		unsupported("session driver", c.Session.Driver)
	}

	switch c.Transcript.Driver {
	case "none", "file":
	case "mysql":
		if c.Transcript.DSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	default:
		unsupported("transcript driver", c.Transcript.Driver)
	}

	switch c.Audit.Driver {
	case "none", "memory":
	case "redis":
		if c.Audit.RedisAddr == "" {
			missing = append(missing, "audit.redis_addr")
		}
	case "rabbitmq":
		if c.Audit.AMQPURL == "" {
			missing = append(missing, "AMQP_URL")
		}
	default:
		unsupported("audit driver", c.Audit.Driver)
	}

	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	if len(problems) == 0 {
		return nil
	}
	return xerrors.New(xerrors.CodeConfiguration,
		strings.Join(problems, "; "),
		xerrors.WithMetadata("missing", strings.Join(missing, ",")),
	)
}
