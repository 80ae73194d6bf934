package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Config 队列视图服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	// 上游队列接口（/api/patients）
	Source struct {
		BaseURL   string
		Path      string
		TimeoutMs int // 单次拉取超时（毫秒），必须小于轮询间隔
		Retries   int // 单次拉取内的重试次数
	}

	Refresh struct {
		Interval int // 轮询间隔（秒），默认 5 秒
	}

	// 行内 Complete / Emergency 按钮跳转的地址前缀，空表示同源
	ActionBaseURL string

	// 视图缓存（多实例共享 + 冷启动预热）
	Cache struct {
		Enabled bool
		Key     string
		TTL     int // 秒
	}

	Redis RedisConfig
	MQTT  MQTTConfig

	Log struct {
		Level  string
		Format string
	}
}

// PollInterval 轮询间隔
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Refresh.Interval) * time.Second
}

// FetchTimeout 单次拉取超时
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutMs) * time.Millisecond
}

// CacheTTL 视图缓存 TTL
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}

// Load 加载配置（.env 可选，环境变量优先生效）
func Load() (*Config, error) {
	// .env 不存在时忽略，直接使用系统环境变量
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Source.BaseURL = getEnv("QUEUE_SOURCE_URL", "http://localhost:5000")
	cfg.Source.Path = getEnv("QUEUE_SOURCE_PATH", "/api/patients")
	cfg.Source.TimeoutMs = parseInt(getEnv("QUEUE_FETCH_TIMEOUT_MS", "4000"), 4000)
	cfg.Source.Retries = parseInt(getEnv("QUEUE_FETCH_RETRIES", "1"), 1)

	cfg.Refresh.Interval = parseInt(getEnv("QUEUE_POLL_INTERVAL", "5"), 5)

	cfg.ActionBaseURL = getEnv("QUEUE_ACTION_BASE_URL", "")

	cfg.Cache.Enabled = getEnv("QUEUE_CACHE_ENABLED", "false") == "true"
	cfg.Cache.Key = getEnv("QUEUE_CACHE_KEY", "queue-view:snapshot:full")
	cfg.Cache.TTL = parseInt(getEnv("QUEUE_CACHE_TTL", "60"), 60)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	// MQTT 计数广播（默认禁用）
	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-queue-view")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "queue-view/counts")
	cfg.MQTT.QoS = 1

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置，不修改配置
func (c *Config) Validate() error {
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be > 0, got %d", c.Refresh.Interval)
	}
	if c.Source.TimeoutMs <= 0 {
		return fmt.Errorf("QUEUE_FETCH_TIMEOUT_MS must be > 0, got %d", c.Source.TimeoutMs)
	}
	if c.FetchTimeout() >= c.PollInterval() {
		return fmt.Errorf("QUEUE_FETCH_TIMEOUT_MS (%s) must be shorter than QUEUE_POLL_INTERVAL (%s)",
			c.FetchTimeout(), c.PollInterval())
	}
	if c.Source.Retries < 0 {
		return fmt.Errorf("QUEUE_FETCH_RETRIES must be >= 0, got %d", c.Source.Retries)
	}
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("QUEUE_SOURCE_URL is not a valid absolute url: %q", c.Source.BaseURL)
	}
	if c.Cache.Enabled && c.Cache.Key == "" {
		return fmt.Errorf("QUEUE_CACHE_KEY is required when cache is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Topic == "" {
		return fmt.Errorf("MQTT_TOPIC is required when mqtt is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
