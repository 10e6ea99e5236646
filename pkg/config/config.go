package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string

	// 数据库配置
	StoreDriver   string // local | postgres | mongo
	DataDir       string
	PostgresDSN   string
	MongoURI      string
	MongoDatabase string

	// JWT配置
	JWTSecret string

	// CORS配置
	AllowedOrigins []string

	// 时区（每日会话的日期边界）
	TimeZone string

	// 邮件通知
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	MailFrom        string
	NotifyWorkers   int
	NotifyQueueSize int

	// WebSocket 每连接发送缓冲
	WSSendBuffer int

	// 调试配置
	Debug bool
}

// LoadConfig 加载配置
//
// envFile overrides the file picked from ENVIRONMENT (.env.production or .env.local).
// Process environment always wins over file values.
func LoadConfig(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if envFile == "" {
		// 根据环境加载对应的 .env 文件
		switch v.GetString("ENVIRONMENT") {
		case "production":
			envFile = ".env.production"
		default:
			envFile = ".env.local"
		}
	}
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	config := &Config{
		Environment:     v.GetString("ENVIRONMENT"),
		Port:            v.GetString("PORT"),
		StoreDriver:     strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		DataDir:         strings.TrimSpace(v.GetString("DATA_DIR")),
		PostgresDSN:     strings.TrimSpace(v.GetString("POSTGRES_DSN")),
		MongoURI:        strings.TrimSpace(v.GetString("MONGO_URI")),
		MongoDatabase:   strings.TrimSpace(v.GetString("MONGO_DATABASE")),
		JWTSecret:       v.GetString("JWT_SECRET"),
		TimeZone:        strings.TrimSpace(v.GetString("TIME_ZONE")),
		SMTPHost:        strings.TrimSpace(v.GetString("SMTP_HOST")),
		SMTPPort:        v.GetInt("SMTP_PORT"),
		SMTPUsername:    v.GetString("SMTP_USERNAME"),
		SMTPPassword:    v.GetString("SMTP_PASSWORD"),
		MailFrom:        strings.TrimSpace(v.GetString("MAIL_FROM")),
		NotifyWorkers:   v.GetInt("NOTIFY_WORKERS"),
		NotifyQueueSize: v.GetInt("NOTIFY_QUEUE_SIZE"),
		WSSendBuffer:    v.GetInt("WS_SEND_BUFFER"),
		Debug:           v.GetBool("DEBUG"),
	}

	// CORS配置
	allowedOrigins := strings.TrimSpace(v.GetString("ALLOWED_ORIGINS"))
	if allowedOrigins == "*" || allowedOrigins == "" {
		config.AllowedOrigins = []string{"*"}
	} else {
		for _, o := range strings.Split(allowedOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, o)
			}
		}
	}

	// 生产环境关闭调试
	if config.IsProduction() {
		config.Debug = false
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("PORT", "3000")
	v.SetDefault("STORE_DRIVER", "local")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("MONGO_DATABASE", "team_collab")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("TIME_ZONE", "UTC")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "no-reply@localhost")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("WS_SEND_BUFFER", 64)
	v.SetDefault("DEBUG", false)
}

// Cached config (initialized once per process)
var (
	cachedConfig *Config
	cachedErr    error
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
func GetCached() (*Config, error) {
	configOnce.Do(func() {
		cachedConfig, cachedErr = LoadConfig("")
	})
	return cachedConfig, cachedErr
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 验证端口
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// 验证JWT密钥
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	// 验证数据库配置
	switch c.StoreDriver {
	case "local", "":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("STORE_DRIVER=mongo requires MONGO_URI")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1")
	}
	if c.NotifyQueueSize < 1 || c.WSSendBuffer < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE and WS_SEND_BUFFER must be positive")
	}
	return nil
}

// Location 返回会话日期边界所用的时区
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// SMTPEnabled reports whether assignment emails go out over SMTP
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
