package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"
)

// Load 读取配置文件并结合环境变量返回 Config。未显式指定路径且默认文件不存在时仅使用默认值。
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.prompt", ">>> ")

	v.SetDefault("gateway.provider", ProviderPaper)
	v.SetDefault("gateway.mode", ModePaper)
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 0)
	v.SetDefault("gateway.client_id", 1)
	v.SetDefault("gateway.connect_timeout", "10s")
	v.SetDefault("gateway.quote_timeout", "2s")
	v.SetDefault("gateway.currency", "USD")

	v.SetDefault("paper.cash", 100000.0)
	v.SetDefault("paper.start_id", 1)
	v.SetDefault("paper.event_buffer", 256)
	v.SetDefault("paper.spread", 0.02)
	v.SetDefault("paper.prices", map[string]float64{
		"AAPL": 150,
		"TSLA": 700,
		"MSFT": 300,
	})

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.use_sandbox", true)
	v.SetDefault("exchange.settle", "")
	v.SetDefault("exchange.leverage", 1.0)
	v.SetDefault("exchange.poll_interval", "2s")
	v.SetDefault("exchange.event_buffer", 256)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("alpaca.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("alpaca.data_url", "")
	v.SetDefault("alpaca.feed", "iex")

	v.SetDefault("execution.ack_timeout", "5s")
	v.SetDefault("execution.replace_timeout", "5s")
	v.SetDefault("execution.submit_timeout", "5s")
	v.SetDefault("execution.max_retry", 3)
	v.SetDefault("execution.retry_wait", "1s")

	v.SetDefault("market_data.duration", "1 D")
	v.SetDefault("market_data.bar_size", "1 min")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.export", false)
	v.SetDefault("market_data.export_dir", "data/bars")

	v.SetDefault("database.path", "data/trades_cli.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"logs/trades-cli.log"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.http_port", 0)
	v.SetDefault("monitor.queue_size", 1024)
	v.SetDefault("monitor.kafka.brokers", []string{})
	v.SetDefault("monitor.kafka.topic", "trades-cli.orders")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// normalize 统一大小写，viper 会将 map 键转为小写。
func (c *Config) normalize() {
	c.Gateway.Provider = strings.ToLower(strings.TrimSpace(c.Gateway.Provider))
	c.Gateway.Mode = strings.ToLower(strings.TrimSpace(c.Gateway.Mode))
	c.Gateway.Currency = strings.ToUpper(strings.TrimSpace(c.Gateway.Currency))

	if len(c.Paper.Prices) > 0 {
		prices := make(map[string]float64, len(c.Paper.Prices))
		for symbol, price := range c.Paper.Prices {
			prices[strings.ToUpper(symbol)] = price
		}
		c.Paper.Prices = prices
	}

	brokers := c.Monitor.Kafka.Brokers[:0]
	for _, broker := range c.Monitor.Kafka.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	c.Monitor.Kafka.Brokers = brokers
}
