package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Payment   PaymentConfig
	Pricing   PricingConfig
	Reaper    ReaperConfig
	Auth      AuthConfig
	Tickets   TicketConfig
	Analytics AnalyticsConfig
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

type DatabaseConfig struct {
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Addr         string
	OrderLockTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	OrderCreated     string
	OrderSettled     string
	OrderFailed      string
	OrderCancelled   string
	RefundRequired   string
	PaymentConfirmed string
}

type PaymentConfig struct {
	// Provider is "stripe" or "sandbox".
	Provider        string
	StripeSecretKey string
	// StripeWebhookSecret verifies Stripe's own webhook signature.
	StripeWebhookSecret string
	SharedSecret        string
	Currency            string
}

// PricingConfig holds global pricing knobs. Amounts are minor currency units.
type PricingConfig struct {
	PlatformFee int64
	TaxRateBps  int64
}

type ReaperConfig struct {
	Enabled        bool
	PaymentTimeout time.Duration
	Interval       time.Duration
}

type AuthConfig struct {
	OIDCIssuer string
	// DevJWTSecret enables HS256 tokens when no identity provider is configured.
	DevJWTSecret string
}

type TicketConfig struct {
	QRSize int
}

// AnalyticsConfig gates the operator sales report. An empty APIKey disables it.
type AnalyticsConfig struct {
	APIKey   string
	CacheTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", ":8084"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", false),
			MigrationsDir: getEnv("MIGRATIONS_DIR", ""),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			OrderLockTTL: getEnvDuration("ORDER_LOCK_TTL", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_ADDR", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "booking-service"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderCreated:     getEnv("KAFKA_TOPIC_ORDER_CREATED", "ticketly.order.created"),
				OrderSettled:     getEnv("KAFKA_TOPIC_ORDER_SETTLED", "ticketly.order.settled"),
				OrderFailed:      getEnv("KAFKA_TOPIC_ORDER_FAILED", "ticketly.order.failed"),
				OrderCancelled:   getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "ticketly.order.cancelled"),
				RefundRequired:   getEnv("KAFKA_TOPIC_REFUND_REQUIRED", "ticketly.order.refund_required"),
				PaymentConfirmed: getEnv("KAFKA_TOPIC_PAYMENT_CONFIRMED", "ticketly.payment.confirmed"),
			},
		},
		Payment: PaymentConfig{
			Provider:            strings.ToLower(getEnv("PAYMENT_PROVIDER", "sandbox")),
			StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SharedSecret:        getEnv("PAYMENT_SHARED_SECRET", ""),
			Currency:            strings.ToLower(getEnv("PAYMENT_CURRENCY", "lkr")),
		},
		Pricing: PricingConfig{
			PlatformFee: int64(getEnvInt("PLATFORM_FEE_MINOR", 0)),
			TaxRateBps:  int64(getEnvInt("TAX_RATE_BPS", 0)),
		},
		Reaper: ReaperConfig{
			Enabled:        getEnvBool("REAPER_ENABLED", true),
			PaymentTimeout: getEnvDuration("PAYMENT_TIMEOUT", 15*time.Minute),
			Interval:       getEnvDuration("REAPER_INTERVAL", time.Minute),
		},
		Auth: AuthConfig{
			OIDCIssuer:   getEnv("OIDC_ISSUER", ""),
			DevJWTSecret: getEnv("AUTH_DEV_SECRET", ""),
		},
		Tickets: TicketConfig{
			QRSize: getEnvInt("QR_SIZE", 256),
		},
		Analytics: AnalyticsConfig{
			APIKey:   getEnv("ANALYTICS_API_KEY", ""),
			CacheTTL: getEnvDuration("ANALYTICS_CACHE_TTL", 30*time.Second),
		},
	}
}

// AllTopics lists every topic the service produces to or consumes from.
func (k KafkaConfig) AllTopics() []string {
	return []string{
		k.Topics.OrderCreated,
		k.Topics.OrderSettled,
		k.Topics.OrderFailed,
		k.Topics.OrderCancelled,
		k.Topics.RefundRequired,
		k.Topics.PaymentConfirmed,
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
