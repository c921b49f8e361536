// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config 是服务的全部配置。加载顺序：内置默认值 -> YAML 文件 -> 环境变量。
type Config struct {
	ServiceName string `yaml:"serviceName" env:"SERVICE_NAME"`
	HTTPPort    int    `yaml:"httpPort" env:"HTTP_PORT"`
	LogLevel    string `yaml:"logLevel" env:"LOG_LEVEL"`

	Infra       InfraConfig       `yaml:"infra"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT"`
	} `yaml:"jaeger"`
	MySQL struct {
		DSN string `yaml:"dsn" env:"MYSQL_DSN"`
	} `yaml:"mysql"`
	Redis struct {
		Addrs string `yaml:"addrs" env:"REDIS_ADDRS"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers        string `yaml:"brokers" env:"KAFKA_BROKERS"`
		BidEventsTopic string `yaml:"bidEventsTopic" env:"KAFKA_BID_EVENTS_TOPIC"`
		ConsumerGroup  string `yaml:"consumerGroup" env:"KAFKA_CONSUMER_GROUP"`
	} `yaml:"kafka"`
	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs" env:"NACOS_SERVER_ADDRS"`
		Namespace   string `yaml:"namespace" env:"NACOS_NAMESPACE"`
		Group       string `yaml:"group" env:"NACOS_GROUP"`
	} `yaml:"nacos"`
	Zookeeper struct {
		Servers        string        `yaml:"servers" env:"ZK_SERVERS"`
		SessionTimeout time.Duration `yaml:"sessionTimeout" env:"ZK_SESSION_TIMEOUT"`
	} `yaml:"zookeeper"`
	// 订单/发票服务在 nacos 中的服务名，以及发现失败时的静态地址
	Services struct {
		OrderService   string `yaml:"orderService" env:"ORDER_SERVICE_NAME"`
		OrderURL       string `yaml:"orderURL" env:"ORDER_SERVICE_URL"`
		InvoiceService string `yaml:"invoiceService" env:"INVOICE_SERVICE_NAME"`
		InvoiceURL     string `yaml:"invoiceURL" env:"INVOICE_SERVICE_URL"`
	} `yaml:"services"`
}

type NegotiationConfig struct {
	// Store: mysql | memory
	Store string `yaml:"store" env:"BID_STORE"`
	// Catalog: mysql | redis | memory
	Catalog string `yaml:"catalog" env:"CATALOG_BACKEND"`

	BidValidity       time.Duration `yaml:"bidValidity" env:"BID_VALIDITY"`
	ProcessingTimeout time.Duration `yaml:"processingTimeout" env:"ACCEPT_PROCESSING_TIMEOUT"`
	LedgerRetries     int           `yaml:"ledgerRetries" env:"LEDGER_CAS_RETRIES"`

	SweepInterval time.Duration `yaml:"sweepInterval" env:"SWEEP_INTERVAL"`
	SweepBatch    int           `yaml:"sweepBatch" env:"SWEEP_BATCH"`

	ReconcileInterval time.Duration `yaml:"reconcileInterval" env:"RECONCILE_INTERVAL"`
	ReconcileGrace    time.Duration `yaml:"reconcileGrace" env:"RECONCILE_GRACE"`
	ReconcileBatch    int           `yaml:"reconcileBatch" env:"RECONCILE_BATCH"`

	// SeedStock 启动时写入商品目录的初始库存，环境变量格式 "p1:100,p2:20"
	SeedStock map[string]int `yaml:"seedStock" env:"SEED_STOCK"`

	// AdmissionRule 是可选的 CEL 表达式，例如 "amount * quantity <= 100000.0"
	AdmissionRule string `yaml:"admissionRule" env:"BID_ADMISSION_RULE"`
}

// DefaultConfig 返回本地开发可直接运行的默认配置（全部使用内存实现）
func DefaultConfig() Config {
	var c Config
	c.ServiceName = "negotiation-service"
	c.HTTPPort = 8090
	c.LogLevel = "info"
	c.Infra.Kafka.BidEventsTopic = "bid-events"
	c.Infra.Kafka.ConsumerGroup = "push-gateway-group"
	c.Infra.Nacos.Group = "DEFAULT_GROUP"
	c.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	c.Infra.Services.OrderService = "order-service"
	c.Infra.Services.InvoiceService = "invoice-service"
	c.Negotiation = NegotiationConfig{
		Store:             "memory",
		Catalog:           "memory",
		BidValidity:       7 * 24 * time.Hour,
		ProcessingTimeout: 30 * time.Second,
		LedgerRetries:     8,
		SweepInterval:     time.Minute,
		SweepBatch:        200,
		ReconcileInterval: time.Minute,
		ReconcileGrace:    5 * time.Minute,
		ReconcileBatch:    200,
	}
	return c
}

// Load 读取配置。path 为空或文件不存在时跳过 YAML，只应用环境变量。
func Load(path string) (*Config, error) {
	return LoadWithDefaults(path, DefaultConfig())
}

// LoadWithDefaults 与 Load 相同，但由调用方提供默认值（其他服务复用同一套配置结构）
func LoadWithDefaults(path string, cfg Config) (*Config, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Negotiation.Store {
	case "mysql", "memory":
	default:
		return fmt.Errorf("unknown bid store %q", c.Negotiation.Store)
	}
	switch c.Negotiation.Catalog {
	case "mysql", "redis", "memory":
	default:
		return fmt.Errorf("unknown catalog backend %q", c.Negotiation.Catalog)
	}
	if (c.Negotiation.Store == "mysql" || c.Negotiation.Catalog == "mysql") && c.Infra.MySQL.DSN == "" {
		return errors.New("MYSQL_DSN is required for the mysql backend")
	}
	if c.Negotiation.Catalog == "redis" && c.Infra.Redis.Addrs == "" {
		return errors.New("REDIS_ADDRS is required for the redis catalog")
	}
	if c.Negotiation.ReconcileGrace <= c.Negotiation.ProcessingTimeout {
		return fmt.Errorf("reconcile grace %s must exceed accept processing timeout %s",
			c.Negotiation.ReconcileGrace, c.Negotiation.ProcessingTimeout)
	}
	if c.HTTPPort <= 0 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	return nil
}
