package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

const (
	ProviderPaper  = "paper"
	ProviderCCXT   = "ccxt"
	ProviderAlpaca = "alpaca"

	ModePaper = "paper"
	ModeLive  = "live"

	paperPort = 4002
	livePort  = 4001
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Paper      PaperConfig      `mapstructure:"paper"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Alpaca     AlpacaConfig     `mapstructure:"alpaca"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Prompt      string `mapstructure:"prompt"`
}

// GatewayConfig 描述券商网关连接信息。
type GatewayConfig struct {
	Provider       string        `mapstructure:"provider"`
	Mode           string        `mapstructure:"mode"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ClientID       int           `mapstructure:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QuoteTimeout   time.Duration `mapstructure:"quote_timeout"`
	Currency       string        `mapstructure:"currency"`
}

// ResolvedPort 返回实际端口，未配置时按模式选择模拟盘 4002 或实盘 4001。
func (g GatewayConfig) ResolvedPort() int {
	if g.Port > 0 {
		return g.Port
	}
	if strings.EqualFold(g.Mode, ModeLive) {
		return livePort
	}
	return paperPort
}

// Address 返回 host:port。
func (g GatewayConfig) Address() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.ResolvedPort()))
}

// PaperConfig 控制内置模拟网关。
type PaperConfig struct {
	Cash        float64            `mapstructure:"cash"`
	Prices      map[string]float64 `mapstructure:"prices"`
	StartID     int64              `mapstructure:"start_id"`
	EventBuffer int                `mapstructure:"event_buffer"`
	Spread      float64            `mapstructure:"spread"`
}

// ExchangeConfig 描述 ccxt 交易所连接信息。
type ExchangeConfig struct {
	Name         string        `mapstructure:"name"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	APIPass      string        `mapstructure:"api_password"`
	UseSandbox   bool          `mapstructure:"use_sandbox"`
	Settle       string        `mapstructure:"settle"`
	Leverage     float64       `mapstructure:"leverage"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	EventBuffer  int           `mapstructure:"event_buffer"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AlpacaConfig 描述 Alpaca 交易与行情接口。
type AlpacaConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
	DataURL   string `mapstructure:"data_url"`
	Feed      string `mapstructure:"feed"`
}

// ExecutionConfig 控制下单与改单行为。
type ExecutionConfig struct {
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	ReplaceTimeout time.Duration `mapstructure:"replace_timeout"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout"`
	MaxRetry       int           `mapstructure:"max_retry"`
	RetryWait      time.Duration `mapstructure:"retry_wait"`
}

// MarketDataConfig 控制历史数据默认参数与导出。
type MarketDataConfig struct {
	Duration  string        `mapstructure:"duration"`
	BarSize   string        `mapstructure:"bar_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Export    bool          `mapstructure:"export"`
	ExportDir string        `mapstructure:"export_dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制订单事件日志、HTTP 查询接口与 Kafka 推送。
type MonitorConfig struct {
	HTTPPort  int         `mapstructure:"http_port"`
	QueueSize int         `mapstructure:"queue_size"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig 为空 brokers 时不启用推送。
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Enabled 判断是否配置了 Kafka。
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch c.Gateway.Provider {
	case ProviderPaper, ProviderCCXT, ProviderAlpaca:
	default:
		err = multierr.Append(err, fmt.Errorf("gateway.provider 不支持 %q", c.Gateway.Provider))
	}
	if !strings.EqualFold(c.Gateway.Mode, ModePaper) && !strings.EqualFold(c.Gateway.Mode, ModeLive) {
		err = multierr.Append(err, fmt.Errorf("gateway.mode 必须为 paper 或 live, 当前 %q", c.Gateway.Mode))
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		err = multierr.Append(err, errors.New("gateway.port 必须位于[0,65535]"))
	}
	if c.Gateway.ConnectTimeout <= 0 {
		err = multierr.Append(err, errors.New("gateway.connect_timeout 必须大于0"))
	}
	if c.Gateway.QuoteTimeout <= 0 {
		err = multierr.Append(err, errors.New("gateway.quote_timeout 必须大于0"))
	}
	if c.Gateway.Currency == "" {
		err = multierr.Append(err, errors.New("gateway.currency 不能为空"))
	}

	switch c.Gateway.Provider {
	case ProviderPaper:
		if c.Paper.Cash < 0 {
			err = multierr.Append(err, errors.New("paper.cash 不能为负"))
		}
		if c.Paper.EventBuffer <= 0 {
			err = multierr.Append(err, errors.New("paper.event_buffer 必须大于0"))
		}
		for symbol, price := range c.Paper.Prices {
			if price <= 0 {
				err = multierr.Append(err, fmt.Errorf("paper.prices.%s 必须大于0", symbol))
			}
		}
	case ProviderCCXT:
		if c.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("exchange.name 不能为空"))
		}
		if c.Exchange.PollInterval <= 0 {
			err = multierr.Append(err, errors.New("exchange.poll_interval 必须大于0"))
		}
		if c.Exchange.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
		}
		if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
		}
		if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
		}
	case ProviderAlpaca:
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			err = multierr.Append(err, errors.New("alpaca 需要配置 api_key 与 api_secret"))
		}
	}

	if c.Execution.AckTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.ack_timeout 必须大于0"))
	}
	if c.Execution.ReplaceTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.replace_timeout 必须大于0"))
	}
	if c.Execution.SubmitTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.submit_timeout 必须大于0"))
	}
	if c.Execution.MaxRetry <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retry 必须大于0"))
	}
	if c.Execution.RetryWait < 0 {
		err = multierr.Append(err, errors.New("execution.retry_wait 不能为负"))
	}
	if c.MarketData.Timeout <= 0 {
		err = multierr.Append(err, errors.New("market_data.timeout 必须大于0"))
	}
	if c.MarketData.Export && c.MarketData.ExportDir == "" {
		err = multierr.Append(err, errors.New("market_data.export_dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.HTTPPort < 0 || c.Monitor.HTTPPort > 65535 {
		err = multierr.Append(err, errors.New("monitor.http_port 必须位于[0,65535]"))
	}
	if c.Monitor.QueueSize <= 0 {
		err = multierr.Append(err, errors.New("monitor.queue_size 必须大于0"))
	}
	if c.Monitor.Kafka.Enabled() && c.Monitor.Kafka.Topic == "" {
		err = multierr.Append(err, errors.New("monitor.kafka.topic 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
