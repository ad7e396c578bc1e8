// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"mercato/internal/service/payment/msisdn"
)

// Config 是整个服务的显式配置结构。
// 业务代码不允许直接读环境变量，所有配置在这里加载后通过构造函数注入，
// 这样测试可以随意替换配置而不污染进程状态。
type Config struct {
	App struct {
		ServiceName string `yaml:"service_name"`
		Port        int    `yaml:"port"`
	} `yaml:"app"`

	Infra struct {
		MySQL struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
	} `yaml:"infra"`

	Gateway GatewayConfig `yaml:"gateway"`

	Msisdn struct {
		// 运营商号段表，见 msisdn.Rule。缺省使用内置表。
		Rules []msisdn.Rule `yaml:"rules"`
	} `yaml:"msisdn"`
}

// GatewayConfig 描述移动支付网关的接入参数。
type GatewayConfig struct {
	APIBase    string        `yaml:"api_base"`
	WidgetBase string        `yaml:"widget_base"`
	ServiceKey string        `yaml:"service_key"`
	NotifyURL  string        `yaml:"notify_url"`
	ReturnURL  string        `yaml:"return_url"`
	CancelURL  string        `yaml:"cancel_url"`
	Country    string        `yaml:"country"`
	Currency   string        `yaml:"currency"`
	Locale     string        `yaml:"locale"`
	Timeout    time.Duration `yaml:"timeout"`
	// Mock 为 true 时使用确定性的本地网关桩，响应结构与真实网关完全一致。
	// 未配置 service_key 时自动进入 mock 模式。
	Mock bool `yaml:"mock"`
}

// Load 按 默认值 -> YAML 文件 -> 环境变量 的顺序加载配置。
// YAML 文件路径由 CONFIG_FILE 指定，可以不存在。
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.App.ServiceName = "payment-service"
	cfg.App.Port = 8084
	cfg.Infra.Kafka.Topic = "payment-events-topic"
	cfg.Gateway.APIBase = "https://api.monetbil.com/payment/v1"
	cfg.Gateway.WidgetBase = "https://api.monetbil.com/widget/v2.1"
	cfg.Gateway.Country = "CM"
	cfg.Gateway.Currency = "XAF"
	cfg.Gateway.Locale = "en"
	cfg.Gateway.Timeout = 30 * time.Second

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	applyEnv(cfg)

	if cfg.Gateway.ServiceKey == "" {
		cfg.Gateway.Mock = true
	}
	if len(cfg.Msisdn.Rules) == 0 {
		cfg.Msisdn.Rules = msisdn.DefaultRules()
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖已加载的配置，环境变量优先级最高。
func applyEnv(cfg *Config) {
	cfg.App.ServiceName = getEnv("SERVICE_NAME", cfg.App.ServiceName)
	if port, err := strconv.Atoi(getEnv("HTTP_PORT", "")); err == nil && port > 0 {
		cfg.App.Port = port
	}
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Infra.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Infra.Kafka.Topic)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)

	cfg.Gateway.APIBase = getEnv("GATEWAY_API_BASE", cfg.Gateway.APIBase)
	cfg.Gateway.WidgetBase = getEnv("GATEWAY_WIDGET_BASE", cfg.Gateway.WidgetBase)
	cfg.Gateway.ServiceKey = getEnv("GATEWAY_SERVICE_KEY", cfg.Gateway.ServiceKey)
	cfg.Gateway.NotifyURL = getEnv("GATEWAY_NOTIFY_URL", cfg.Gateway.NotifyURL)
	cfg.Gateway.ReturnURL = getEnv("GATEWAY_RETURN_URL", cfg.Gateway.ReturnURL)
	cfg.Gateway.CancelURL = getEnv("GATEWAY_CANCEL_URL", cfg.Gateway.CancelURL)
	if mock := getEnv("GATEWAY_MOCK", ""); mock != "" {
		cfg.Gateway.Mock = mock == "true" || mock == "1"
	}
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
