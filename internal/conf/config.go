package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Log       LogConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

type StorageConfig struct {
	// QuotaPerUserBytes 每个用户的存储配额（按去重后的实际占用计费）
	QuotaPerUserBytes int64 `mapstructure:"quota_per_user_bytes"`
}

type RateLimitConfig struct {
	// MaxCalls 窗口内允许的最大请求数
	MaxCalls int `mapstructure:"max_calls"`
	// WindowSeconds 滑动窗口长度（秒）
	WindowSeconds int `mapstructure:"window_seconds"`
}

// Window 返回滑动窗口时长
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	viper.SetDefault("storage.quota_per_user_bytes", 10*1024*1024)
	viper.SetDefault("rate_limit.max_calls", 2)
	viper.SetDefault("rate_limit.window_seconds", 1)

	// 环境变量覆盖配置文件中的同名项
	_ = viper.BindEnv("storage.quota_per_user_bytes", "STORAGE_QUOTA_PER_USER_BYTES")
	_ = viper.BindEnv("rate_limit.max_calls", "RATE_LIMIT_CALLS")
	_ = viper.BindEnv("rate_limit.window_seconds", "RATE_LIMIT_WINDOW_SECONDS")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
