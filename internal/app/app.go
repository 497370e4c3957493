package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-cli/internal/alpaca"
	"trades-cli/internal/command"
	"trades-cli/internal/config"
	"trades-cli/internal/exchange"
	"trades-cli/internal/execution"
	"trades-cli/internal/gateway"
	"trades-cli/internal/indicator"
	"trades-cli/internal/metrics"
	"trades-cli/internal/monitor"
	"trades-cli/internal/order"
	"trades-cli/internal/paper"
	"trades-cli/internal/store"
)

// Connector 按配置建立网关会话。
type Connector func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gateway.Session, error)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	in      io.Reader
	out     io.Writer
	connect Connector
}

// New 创建 App 实例，默认读写标准输入输出。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		in:      os.Stdin,
		out:     os.Stdout,
		connect: Connect,
	}
}

// Connect 根据 gateway.provider 选择网关实现。
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gateway.Session, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.ConnectTimeout)
	defer cancel()

	logger.Info("正在连接网关",
		zap.String("provider", cfg.Gateway.Provider),
		zap.String("mode", cfg.Gateway.Mode),
		zap.String("address", cfg.Gateway.Address()),
		zap.Int("client_id", cfg.Gateway.ClientID),
	)

	switch cfg.Gateway.Provider {
	case config.ProviderPaper:
		return paper.New(cfg.Paper, cfg.Gateway.Currency, logger), nil
	case config.ProviderCCXT:
		s, err := exchange.Connect(connectCtx, cfg.Exchange, cfg.Gateway.Currency, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ProviderAlpaca:
		s, err := alpaca.Connect(connectCtx, cfg.Alpaca, cfg.Gateway.Currency, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: 不支持的网关 %q", gateway.ErrConnection, cfg.Gateway.Provider)
	}
}

// Run 连接网关后并行运行事件泵、事件日志、监控接口与命令循环，命令循环结束即整体退出。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易终端已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("provider", a.cfg.Gateway.Provider),
	)

	session, err := a.connect(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: 连接网关失败: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			a.logger.Warn("断开网关失败", zap.Error(closeErr))
		}
		a.logger.Info("已断开网关连接")
	}()

	m := metrics.New()
	tracker := order.NewTracker(order.TrackerOptions{
		ReplaceTimeout: a.cfg.Execution.ReplaceTimeout,
		CallTimeout:    a.cfg.Execution.SubmitTimeout,
	}, a.logger)
	tracker.Observe(m.ObserveChange)

	var sinks []monitor.Sink
	if a.cfg.Monitor.Kafka.Enabled() {
		sink, err := monitor.NewKafkaSink(a.cfg.Monitor.Kafka, a.logger)
		if err != nil {
			return fmt.Errorf("app: 初始化 Kafka 推送失败: %w", err)
		}
		sinks = append(sinks, sink)
	}
	journal, err := monitor.NewService(a.store, a.cfg.Monitor.QueueSize, a.logger, sinks...)
	if err != nil {
		return fmt.Errorf("app: 初始化事件日志失败: %w", err)
	}
	tracker.Observe(journal.Observe)

	executor := execution.NewExecutor(tracker, execution.Options{
		MaxRetry:      a.cfg.Execution.MaxRetry,
		RetryWait:     a.cfg.Execution.RetryWait,
		SubmitTimeout: a.cfg.Execution.SubmitTimeout,
	}, m, a.logger)
	pump := execution.NewPump(tracker, m, a.logger)

	var archive *store.BarArchive
	if a.cfg.MarketData.Export {
		archive = store.NewBarArchive(a.cfg.MarketData.ExportDir)
	}

	dispatcher, err := command.NewDispatcher(command.Deps{
		Session:    session,
		Tracker:    tracker,
		Trader:     executor,
		Indicators: indicator.NewCalculator(),
		Archive:    archive,
		Metrics:    m,
		Journal:    journal,
	}, command.Options{
		Currency:     a.cfg.Gateway.Currency,
		Prompt:       a.cfg.App.Prompt,
		AckTimeout:   a.cfg.Execution.AckTimeout,
		QuoteTimeout: a.cfg.Gateway.QuoteTimeout,
		BarsTimeout:  a.cfg.MarketData.Timeout,
		Duration:     a.cfg.MarketData.Duration,
		BarSize:      a.cfg.MarketData.BarSize,
	}, a.out, a.logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return pump.Run(gctx, session.Events())
	})
	g.Go(func() error {
		return journal.Run(gctx)
	})
	if a.cfg.Monitor.HTTPPort > 0 {
		router := newMonitorRouter(tracker, journal, m, a.logger)
		g.Go(func() error {
			return serveMonitor(gctx, router, a.cfg.Monitor.HTTPPort, a.logger)
		})
	}
	g.Go(func() error {
		defer cancel()
		return dispatcher.Run(gctx, a.in)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: 运行异常: %w", err)
	}
	if open := tracker.Open(); len(open) > 0 {
		a.logger.Info("退出时仍有未完成订单", zap.Int("count", len(open)))
	}
	return nil
}
