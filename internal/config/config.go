// Package config загружает конфигурацию приложения из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"afml/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Exchange ExchangeConfig
	Trading  TradingConfig
	Risk     RiskConfig
	Retry    RetryConfig
	Audit    AuditConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД (зеркало журнала).
// Зеркало опционально: Enabled=false отключает его полностью.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// ExchangeConfig - настройки подключения к бирже
//
// Ключи можно передать открыто (EXCHANGE_API_KEY) либо зашифрованными
// AES-256-GCM (EXCHANGE_API_KEY_ENCRYPTED + CREDENTIALS_PASSPHRASE).
// Зашифрованный вариант имеет приоритет.
type ExchangeConfig struct {
	APIKey             string
	APISecret          string
	APIKeyEncrypted    string
	APISecretEncrypted string
	BaseURL            string // переопределение для testnet
	Passphrase         string
}

// TradingConfig - параметры торгового цикла
type TradingConfig struct {
	Symbol           string
	Leverage         int
	Policy           string // имя политики из реестра agent
	StepInterval     time.Duration
	HoldThreshold    float64
	PositionFraction float64
	MinQuantity      float64
}

// RiskConfig - параметры монитора просадки
type RiskConfig struct {
	MaxDrawdown     float64       // лимит просадки, доля
	WarnDrawdown    float64       // порог предупреждения, 0 отключает
	MonitorInterval time.Duration // период опроса аккаунта
}

// RetryConfig - политика повторов биржевых вызовов
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// AuditConfig - настройки журнала сессии
type AuditConfig struct {
	Dir string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "afml"),
			User:     getEnv("DB_USER", "afml"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Exchange: ExchangeConfig{
			APIKey:             getEnv("EXCHANGE_API_KEY", ""),
			APISecret:          getEnv("EXCHANGE_API_SECRET", ""),
			APIKeyEncrypted:    getEnv("EXCHANGE_API_KEY_ENCRYPTED", ""),
			APISecretEncrypted: getEnv("EXCHANGE_API_SECRET_ENCRYPTED", ""),
			BaseURL:            getEnv("EXCHANGE_BASE_URL", ""),
			Passphrase:         getEnv("CREDENTIALS_PASSPHRASE", ""),
		},
		Trading: TradingConfig{
			Symbol:           getEnv("TRADING_SYMBOL", "BTCUSDT"),
			Leverage:         getEnvAsInt("TRADING_LEVERAGE", 1),
			Policy:           getEnv("TRADING_POLICY", "hold"),
			StepInterval:     getEnvAsDuration("STEP_INTERVAL", time.Minute),
			HoldThreshold:    getEnvAsFloat("HOLD_THRESHOLD", 0.1),
			PositionFraction: getEnvAsFloat("POSITION_FRACTION", 0.1),
			MinQuantity:      getEnvAsFloat("MIN_QUANTITY", 0),
		},
		Risk: RiskConfig{
			MaxDrawdown:     getEnvAsFloat("MAX_DRAWDOWN", 0.15),
			WarnDrawdown:    getEnvAsFloat("WARN_DRAWDOWN", 0.10),
			MonitorInterval: getEnvAsDuration("MONITOR_INTERVAL", 5*time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
			Multiplier:   getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		},
		Audit: AuditConfig{
			Dir: getEnv("AUDIT_DIR", "./sessions"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.decryptCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decryptCredentials расшифровывает API-ключи, если они заданы
// в зашифрованном виде
func (c *Config) decryptCredentials() error {
	if c.Exchange.APIKeyEncrypted == "" && c.Exchange.APISecretEncrypted == "" {
		return nil
	}
	if c.Exchange.Passphrase == "" {
		return fmt.Errorf("encrypted credentials require CREDENTIALS_PASSPHRASE")
	}

	key, err := crypto.DeriveKey(c.Exchange.Passphrase)
	if err != nil {
		return fmt.Errorf("derive credentials key: %w", err)
	}

	if c.Exchange.APIKeyEncrypted != "" {
		plain, err := crypto.Decrypt(c.Exchange.APIKeyEncrypted, key)
		if err != nil {
			return fmt.Errorf("decrypt API key: %w", err)
		}
		c.Exchange.APIKey = plain
	}
	if c.Exchange.APISecretEncrypted != "" {
		plain, err := crypto.Decrypt(c.Exchange.APISecretEncrypted, key)
		if err != nil {
			return fmt.Errorf("decrypt API secret: %w", err)
		}
		c.Exchange.APISecret = plain
	}
	return nil
}

// validate проверяет критичные параметры
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Trading.Symbol == "" {
		return fmt.Errorf("TRADING_SYMBOL is required")
	}
	if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
		return fmt.Errorf("TRADING_LEVERAGE must be between 1 and 125, got %d", c.Trading.Leverage)
	}
	if c.Trading.PositionFraction <= 0 || c.Trading.PositionFraction > 1 {
		return fmt.Errorf("POSITION_FRACTION must be in (0, 1], got %v", c.Trading.PositionFraction)
	}
	if c.Trading.HoldThreshold < 0 || c.Trading.HoldThreshold >= 1 {
		return fmt.Errorf("HOLD_THRESHOLD must be in [0, 1), got %v", c.Trading.HoldThreshold)
	}

	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("MAX_DRAWDOWN must be in (0, 1), got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.WarnDrawdown < 0 || c.Risk.WarnDrawdown >= c.Risk.MaxDrawdown {
		return fmt.Errorf("WARN_DRAWDOWN must be in [0, MAX_DRAWDOWN), got %v", c.Risk.WarnDrawdown)
	}
	if c.Risk.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive, got %v", c.Risk.MonitorInterval)
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be between 1 and 10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", c.Retry.Multiplier)
	}

	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_ENABLED=true")
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
