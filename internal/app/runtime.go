package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"AgneticGOD/internal/action"
	"AgneticGOD/internal/agent"
	"AgneticGOD/internal/audit"
	"AgneticGOD/internal/config"
	xerrors "AgneticGOD/internal/errors"
	"AgneticGOD/internal/llm"
	"AgneticGOD/internal/llm/gemini"
	"AgneticGOD/internal/llm/openai"
	"AgneticGOD/internal/llm/pythonbridge"
	"AgneticGOD/internal/session"
	"AgneticGOD/internal/storage/transcript"
	"AgneticGOD/internal/wallet"
	"AgneticGOD/internal/wallet/evm"
	"AgneticGOD/pkg/logger"
)

const (
	memoryAuditCapacity = 256
	closeTimeout        = 10 * time.Second
)

// WalletBuilder 根据已解析的网络与持久化凭据构建钱包。prior 为 nil 时创建新钱包。
type WalletBuilder func(ctx context.Context, network wallet.Network, prior []byte) (wallet.Bridge, error)

// Option 用于替换运行时的外部依赖。
type Option func(*options)

type options struct {
	oracle     llm.Oracle
	build      WalletBuilder
	store      session.Store
	publishers []audit.Publisher
}

// WithOracle 跳过按 provider 创建模型客户端，直接使用给定的决策者。
func WithOracle(oracle llm.Oracle) Option {
	return func(o *options) {
		o.oracle = oracle
	}
}

// WithWalletBuilder 替换默认的 JSON-RPC 钱包构建方式。
func WithWalletBuilder(build WalletBuilder) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithSessionStore 替换按 session.driver 选择的凭据存储。
func WithSessionStore(store session.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPublisher 在配置的审计后端之外追加一个发布器。
func WithPublisher(p audit.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// Runtime 是进程内唯一的运行时实例。
type Runtime struct {
	Config  *config.Config
	Network wallet.Network
	Session *session.Session
	Actions *action.Registry
	Agent   *agent.Agent

	log     *slog.Logger
	closers []func(context.Context) error
}

// InitLogging 按配置初始化全局日志。audit.log_path 非空时审计记录写入滚动文件。
func InitLogging(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.LogPath != "",
			Path:       cfg.Audit.LogPath,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	})
}

// New 依次构建钱包会话、动作注册表、决策模型与智能体，并恢复历史会话。
// 任一步骤失败时已打开的资源会被释放。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "configuration is required")
	}
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	rt = &Runtime{Config: cfg, log: logger.Component("app")}
	for _, warning := range cfg.Warnings {
		rt.log.Warn(warning)
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	rt.Network, err = wallet.ResolveNetwork(cfg.Wallet.NetworkID, cfg.Wallet.NetworksFile)
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		if store, err = rt.openSessionStore(); err != nil {
			return nil, err
		}
	}
	build := o.build
	if build == nil {
		build = rt.dialWallet
	}
	rt.Session, err = session.Bootstrap(ctx, store, func(prior []byte) (wallet.Bridge, error) {
		return build(ctx, rt.Network, prior)
	})
	if err != nil {
		return nil, err
	}
	bridge := rt.Session.Bridge()
	rt.onClose(func(ctx context.Context) error {
		if c, ok := bridge.(interface{ Close() }); ok {
			c.Close()
		}
		return nil
	})
	// 关闭时按逆序执行，凭据需在钱包关闭前写回。
	rt.onClose(rt.Session.Flush)

	publisher, err := rt.openPublisher(ctx, o.publishers)
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { return publisher.Close() })

	rt.Actions, err = action.NewRegistry(bridge, action.Config{
		HookAddress:    cfg.Action.HookAddress,
		TokenAddress:   cfg.Action.TokenAddress,
		ReceiptTimeout: cfg.Action.ReceiptTimeout,
	}, action.WithPublisher(publisher), action.WithSessionID(cfg.Agent.SessionID))
	if err != nil {
		return nil, err
	}

	oracle := o.oracle
	if oracle == nil {
		if oracle, err = newOracle(ctx, cfg); err != nil {
			return nil, err
		}
	}

	agentOpts := []agent.Option{
		agent.WithLLMTimeout(cfg.LLM.Timeout),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
		agent.WithHistoryLimit(cfg.Agent.HistoryLimit),
		agent.WithSessionID(cfg.Agent.SessionID),
	}
	if cfg.Agent.PersonaFile != "" {
		persona, err := agent.LoadPersona(cfg.Agent.PersonaFile)
		if err != nil {
			return nil, err
		}
		agentOpts = append(agentOpts, agent.WithPersona(persona))
	}
	repo, err := openTranscript(ctx, cfg.Transcript)
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { return repo.Close() })
	if _, discard := repo.(transcript.Discard); !discard {
		agentOpts = append(agentOpts, agent.WithRecorder(repo))
	}

	rt.Agent = agent.New(oracle, rt.Actions, agentOpts...)
	if _, err := rt.Agent.Restore(ctx); err != nil {
		rt.log.Warn("could not restore conversation history", slog.Any("error", err))
	}

	rt.log.Info("runtime ready",
		slog.String("network", rt.Network.ID),
		slog.String("wallet", bridge.Address().Hex()),
		slog.String("llm", cfg.LLM.Provider))
	return rt, nil
}

func (rt *Runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close 写回变更的凭据并释放全部资源。可以重复调用。
func (rt *Runtime) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func (rt *Runtime) openSessionStore() (session.Store, error) {
	cfg := rt.Config.Session
	switch cfg.Driver {
	case "", "file":
		return session.NewFileStore(cfg.Path), nil
	case "redis":
		store := session.NewRedisStore(cfg.RedisAddr, cfg.RedisKey)
		rt.onClose(func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported session driver %q", cfg.Driver))
	}
}

func (rt *Runtime) dialWallet(ctx context.Context, network wallet.Network, prior []byte) (wallet.Bridge, error) {
	rpcURL := rt.Config.Wallet.RPCURL
	if rpcURL == "" {
		rpcURL = network.RPCURL
	}
	return evm.Dial(ctx, rpcURL, prior, evm.Options{
		Network:    network,
		Passphrase: rt.Config.Wallet.Passphrase,
		ScryptN:    rt.Config.Wallet.ScryptN,
		ScryptP:    rt.Config.Wallet.ScryptP,
	})
}

func (rt *Runtime) openPublisher(ctx context.Context, extra []audit.Publisher) (audit.Publisher, error) {
	cfg := rt.Config.Audit
	publishers := make([]audit.Publisher, 0, len(extra)+1)
	switch cfg.Driver {
	case "", "none":
	case "memory":
		publishers = append(publishers, audit.Guard(audit.NewMemoryPublisher(memoryAuditCapacity), cfg.Driver))
	case "redis":
		p, err := audit.NewRedisPublisher(ctx, audit.RedisConfig{Address: cfg.RedisAddr, Key: cfg.RedisKey})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open redis audit publisher")
		}
		publishers = append(publishers, audit.Guard(p, cfg.Driver))
	case "rabbitmq":
		p, err := audit.NewRabbitMQPublisher(audit.RabbitMQConfig{URL: cfg.AMQPURL, Queue: cfg.Queue})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open rabbitmq audit publisher")
		}
		publishers = append(publishers, audit.Guard(p, cfg.Driver))
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported audit driver %q", cfg.Driver))
	}
	publishers = append(publishers, extra...)

	switch len(publishers) {
	case 0:
		return audit.Discard{}, nil
	case 1:
		return publishers[0], nil
	default:
		return audit.NewFanout(publishers...), nil
	}
}

func newOracle(ctx context.Context, cfg *config.Config) (llm.Oracle, error) {
	var (
		oracle llm.Oracle
		err    error
	)
	switch cfg.LLM.Provider {
	case "openai":
		oracle, err = openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.Timeout,
		})
	case "gemini":
		oracle, err = gemini.NewClient(ctx, gemini.Config{
			APIKey: cfg.LLM.Gemini.APIKey,
			Model:  cfg.LLM.Gemini.Model,
		})
	case "python_bridge":
		oracle, err = pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, cfg.LLM.Python.ScriptPath, cfg.LLM.Python.WorkingDir)
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported llm provider %q", cfg.LLM.Provider))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create llm client")
	}
	return oracle, nil
}

func openTranscript(ctx context.Context, cfg config.TranscriptConfig) (transcript.Repository, error) {
	switch cfg.Driver {
	case "", "none":
		return transcript.Discard{}, nil
	case "file":
		repo, err := transcript.NewFileRepository(cfg.Path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open transcript file")
		}
		return repo, nil
	case "mysql":
		repo, err := transcript.NewSQLRepository(ctx, transcript.MySQLConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open transcript database")
		}
		return repo, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported transcript driver %q", cfg.Driver))
	}
}
