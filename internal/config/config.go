package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Orders   OrdersConfig
	Auth     AuthConfig
	LogLevel string
	QRSecret string
	// TicketFontPath is a TTF font for printable tickets. Empty prints the
	// QR code only.
	TicketFontPath string
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

// DSN returns a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderEvents      string
	RefundEvents     string
	Notifications    string
	PaymentCompleted string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type OrdersConfig struct {
	PendingTTL         time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	SweepLockTTL       time.Duration
	PlatformFeePercent decimal.Decimal
}

type AuthConfig struct {
	JWTSecret    string
	OIDCIssuer   string
	OIDCClientID string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "ticketing"),
			Password:     getEnv("DB_PASSWORD", "ticketing"),
			Database:     getEnv("DB_NAME", "ticket_orders"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "ticket-orders"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderEvents:      getEnv("KAFKA_TOPIC_ORDERS", "ticketing.order.events"),
				RefundEvents:     getEnv("KAFKA_TOPIC_REFUNDS", "ticketing.refund.events"),
				Notifications:    getEnv("KAFKA_TOPIC_NOTIFICATIONS", "ticketing.notify"),
				PaymentCompleted: getEnv("KAFKA_TOPIC_PAYMENT_COMPLETED", "ticketing.payment.completed"),
			},
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Orders: OrdersConfig{
			PendingTTL:         getEnvDuration("ORDER_PENDING_TTL", 15*time.Minute),
			SweepInterval:      getEnvDuration("ORDER_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatchSize:     getEnvInt("ORDER_SWEEP_BATCH", 200),
			SweepLockTTL:       getEnvDuration("ORDER_SWEEP_LOCK_TTL", 2*time.Minute),
			PlatformFeePercent: getEnvDecimal("PLATFORM_FEE_PERCENT", decimal.Zero),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			OIDCClientID: getEnv("OIDC_CLIENT_ID", ""),
		},
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		QRSecret:       getEnv("QR_SECRET_KEY", "0123456789abcdef0123456789abcdef"),
		TicketFontPath: getEnv("TICKET_FONT_PATH", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
