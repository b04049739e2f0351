package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 環境變數前綴，例如 GAME_SERVER_PORT、GAME_REDIS_ADDR
const EnvPrefix = "GAME_"

// Config 整個應用的配置
//
// 載入順序：預設值 → YAML 檔案 → 環境變數。後者覆蓋前者。
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Postgres  PostgresConfig  `yaml:"postgres" envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	NATS      NATSConfig      `yaml:"nats" envPrefix:"NATS_"`
	WebSocket WebSocketConfig `yaml:"websocket" envPrefix:"WS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig HTTP 伺服器
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PostgresConfig 使用者與分數儲存
//
// Enabled 為 false 時使用記憶體儲存（本地開發）。
type PostgresConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Host        string `yaml:"host" env:"HOST"`
	Port        int    `yaml:"port" env:"PORT"`
	User        string `yaml:"user" env:"USER"`
	Password    string `yaml:"password" env:"PASSWORD"`
	DBName      string `yaml:"dbname" env:"DBNAME"`
	SSLMode     string `yaml:"sslmode" env:"SSLMODE"`
	MaxConns    int32  `yaml:"max_conns" env:"MAX_CONNS"`
	MinConns    int32  `yaml:"min_conns" env:"MIN_CONNS"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig 排行榜
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	Key          string        `yaml:"key" env:"KEY"`
}

// NATSConfig 回合結果事件流
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Stream        string `yaml:"stream" env:"STREAM"`
	SubjectPrefix string `yaml:"subject_prefix" env:"SUBJECT_PREFIX"`
}

// WebSocketConfig 連線參數
type WebSocketConfig struct {
	ReadBufferSize  int     `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	WriteBufferSize int     `yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
	SendBufferSize  int     `yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
	MaxMessageSize  int64   `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	MessageRate     float64 `yaml:"message_rate" env:"MESSAGE_RATE"` // 每秒訊息數
	Burst           int     `yaml:"burst" env:"BURST"`
}

// LogConfig 日誌
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig 返回預設配置（不依賴任何外部服務）
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Password:    "postgres",
			DBName:      "guessing_game",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			Key:          "leaderboard:scores",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "ROUNDS",
			SubjectPrefix: "rounds",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  256,
			MaxMessageSize:  4096,
			MessageRate:     10,
			Burst:           20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig 載入配置
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - path 來自命令列參數
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("讀取配置檔案: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("解析環境變數: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 檢查配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port 超出範圍: %d", c.Server.Port))
	}
	if c.WebSocket.SendBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer_size 必須大於 0"))
	}
	if c.WebSocket.MessageRate <= 0 || c.WebSocket.Burst <= 0 {
		errs = append(errs, errors.New("websocket.message_rate 與 websocket.burst 必須大於 0"))
	}
	if c.Postgres.Enabled && c.Postgres.MinConns > c.Postgres.MaxConns {
		errs = append(errs, fmt.Errorf("postgres.min_conns %d 超過 max_conns %d",
			c.Postgres.MinConns, c.Postgres.MaxConns))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("啟用 Redis 時必須設定 redis.addr"))
	}
	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.SubjectPrefix == "") {
		errs = append(errs, errors.New("啟用 NATS 時必須設定 nats.url、nats.stream 與 nats.subject_prefix"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置無效: %w", errors.Join(errs...))
	}
	return nil
}

// PostgresURL 生成 PostgreSQL 連線字串
//
// 支援 DATABASE_URL 覆蓋（生產環境常用）。
// 使用 URL 形式，golang-migrate 與 pgx 都能直接解析。
func (c *Config) PostgresURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Postgres.User, c.Postgres.Password),
		Host:   net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:   "/" + c.Postgres.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.Postgres.SSLMode)
	u.RawQuery = q.Encode()

	return u.String()
}
