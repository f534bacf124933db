package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Name        string `yaml:"name" default:"portfolio-agents"`
		Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	} `yaml:"app"`
	Mode   string `yaml:"mode" default:"NORMAL" validate:"oneof=NORMAL FAIL_SAFE PANIC"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Security struct {
		APIKey    string `yaml:"api_key" validate:"required,min=32"`
		RateLimit struct {
			Requests int           `yaml:"requests" default:"100" validate:"gte=1"`
			Window   time.Duration `yaml:"window" default:"60s"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Logging struct {
		Level           string        `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format          string        `yaml:"format" default:"json" validate:"oneof=json console"`
		Output          string        `yaml:"output" default:"stdout"`
		CollectTopic    string        `yaml:"collect_topic"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"30s"`
	} `yaml:"logging"`
	Pipeline struct {
		Workers          int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
		MinPriceHistory  int           `yaml:"min_price_history" default:"30" validate:"gte=1"`
		RunTimeout       time.Duration `yaml:"run_timeout" default:"10m"`
		ScheduleInterval time.Duration `yaml:"schedule_interval"`
		LockTTL          time.Duration `yaml:"lock_ttl" default:"15m"`
		LatestRunTTL     time.Duration `yaml:"latest_run_ttl" default:"168h"`
	} `yaml:"pipeline"`
	Agents struct {
		Endpoints struct {
			Macro string `yaml:"macro" default:"http://localhost:8003/api/v1/macro/analyze" validate:"url"`
			Value string `yaml:"value" default:"http://localhost:8001/api/v1/value/analyze" validate:"url"`
			Quant string `yaml:"quant" default:"http://localhost:8002/api/v1/quant/analyze" validate:"url"`
			Risk  string `yaml:"risk" default:"http://localhost:8004/api/v1/risk/analyze" validate:"url"`
		} `yaml:"endpoints"`
		Weights struct {
			Macro float64 `yaml:"macro" default:"0.5" validate:"gt=0"`
			Value float64 `yaml:"value" default:"1.0" validate:"gt=0"`
			Quant float64 `yaml:"quant" default:"1.0" validate:"gt=0"`
			Risk  float64 `yaml:"risk" default:"1.5" validate:"gt=0"`
		} `yaml:"weights"`
		Timeout     time.Duration `yaml:"timeout" default:"10s"`
		MaxAttempts int           `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
		BackoffBase time.Duration `yaml:"backoff_base" default:"1s"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"10s"`
	} `yaml:"agents"`
	Postgres struct {
		DSN      string        `yaml:"dsn"`
		MaxConns int32         `yaml:"max_conns" default:"10" validate:"gte=1"`
		Lifetime time.Duration `yaml:"conn_lifetime" default:"30m"`
		Migrate  bool          `yaml:"migrate"`
	} `yaml:"postgres"`
	Ledger struct {
		Store string `yaml:"store" default:"memory" validate:"oneof=memory postgres"`
	} `yaml:"ledger"`
	Market struct {
		Store       string `yaml:"store" default:"memory" validate:"oneof=memory postgres"`
		PriceSource string `yaml:"price_source" default:"store" validate:"oneof=store clickhouse"`
		PriceTable  string `yaml:"price_table" default:"daily_prices"`
		MaxPoints   int    `yaml:"max_points" default:"500" validate:"gte=0"`
		Seed        bool   `yaml:"seed"`
	} `yaml:"market"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		DecisionsTopic string   `yaml:"decisions_topic" default:"portfolio.decisions"`
		ControlTopic   string   `yaml:"control_topic" default:"portfolio.control"`
		Producer       struct {
			ClientID     string        `yaml:"client_id" default:"portfolio-agents"`
			Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
			RequiredAcks int           `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"10ms"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"portfolio-agents"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Host     string        `yaml:"host" default:"localhost"`
		Port     int           `yaml:"port" default:"6379"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix" default:"portfolio"`
		PoolSize int           `yaml:"pool_size" default:"10"`
		Timeout  time.Duration `yaml:"timeout" default:"5s"`
	} `yaml:"redis"`
	Artifacts struct {
		Sink  string `yaml:"sink" default:"file" validate:"oneof=file minio none"`
		Dir   string `yaml:"dir" default:"./artifacts"`
		MinIO struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket" default:"portfolio-results"`
			UseSSL    bool   `yaml:"use_ssl"`
			Region    string `yaml:"region"`
		} `yaml:"minio"`
	} `yaml:"artifacts"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and validates.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables
// before validating.
func LoadWithEnv(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SYSTEM_MODE"); v != "" {
		c.Mode = strings.ToUpper(strings.TrimSpace(v))
	}
	if v := os.Getenv("API_KEY_SECRET"); v != "" {
		c.Security.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		host := v
		if h, p, ok := strings.Cut(v, ":"); ok {
			port, err := strconv.Atoi(p)
			if err != nil {
				return fmt.Errorf("REDIS_HOST port: %w", err)
			}
			host = h
			c.Redis.Port = port
		}
		c.Redis.Host = host
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.Artifacts.MinIO.Endpoint = v
		c.Artifacts.Sink = "minio"
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Artifacts.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Artifacts.MinIO.SecretKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return err
	}
	if c.Ledger.Store == "postgres" || c.Market.Store == "postgres" {
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when a postgres store is selected")
		}
	}
	if c.Market.PriceSource == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required for price_source clickhouse")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Logging.CollectTopic != "" && !c.Kafka.Enabled {
		return fmt.Errorf("logging.collect_topic requires kafka")
	}
	if c.Artifacts.Sink == "minio" {
		if c.Artifacts.MinIO.Endpoint == "" {
			return fmt.Errorf("artifacts.minio.endpoint is required")
		}
		if c.Artifacts.MinIO.AccessKey == "" || c.Artifacts.MinIO.SecretKey == "" {
			return fmt.Errorf("artifacts.minio credentials are required")
		}
	}
	if c.Agents.BackoffMax < c.Agents.BackoffBase {
		return fmt.Errorf("agents.backoff_max must be >= agents.backoff_base")
	}
	return nil
}

// Addr returns the admin listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
