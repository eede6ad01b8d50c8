package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	HealthPort  string
	Monetai     MonetaiConfig
	Kafka       KafkaConfig
}

type MonetaiConfig struct {
	SDKKey              string
	UserID              string
	APIBaseURL          string
	Platform            string
	BundleID            string
	HTTPTimeout         time.Duration
	PredictOnStart      bool
	ExpiryCheckInterval time.Duration
}

type KafkaConfig struct {
	Brokers          []string
	AppEventsTopic   string
	DiscountsTopic   string
	ConsumerGroup    string
	ProducerRetries  int
	ProducerTimeout  time.Duration
	RequiredAcks     int
	CompressionType  string
	MaxMessageBytes  int
	IdempotentWrites bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HealthPort:  getEnv("AGENT_HEALTH_PORT", "50061"),
	}

	cfg.Monetai = MonetaiConfig{
		SDKKey:              os.Getenv("MONETAI_SDK_KEY"),
		UserID:              os.Getenv("MONETAI_USER_ID"),
		APIBaseURL:          getEnv("MONETAI_API_BASE_URL", "https://monetai-api-414410537412.us-central1.run.app/sdk"),
		Platform:            getEnv("MONETAI_PLATFORM", "ios"),
		BundleID:            os.Getenv("MONETAI_BUNDLE_ID"),
		HTTPTimeout:         getEnvAsDuration("MONETAI_HTTP_TIMEOUT", 30*time.Second),
		PredictOnStart:      getEnvAsBool("MONETAI_PREDICT_ON_START", false),
		ExpiryCheckInterval: getEnvAsDuration("MONETAI_EXPIRY_CHECK_INTERVAL", time.Second),
	}

	// empty KAFKA_BROKERS runs the agent without kafka
	brokers := os.Getenv("KAFKA_BROKERS")
	cfg.Kafka = KafkaConfig{
		Brokers:          strings.Split(brokers, ","),
		AppEventsTopic:   getEnv("KAFKA_TOPIC_APP_EVENTS", "app-events"),
		DiscountsTopic:   getEnv("KAFKA_TOPIC_DISCOUNTS", "app-user-discounts"),
		ConsumerGroup:    getEnv("KAFKA_CONSUMER_GROUP", "monetai-agent"),
		ProducerRetries:  getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:  getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:     getEnvAsInt("KAFKA_REQUIRED_ACKS", -1),
		CompressionType:  getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites: getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:  getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000), // 1MB
	}

	return cfg, nil
}

// Validate checks what a binary needs before it can initialize the SDK.
func (c *Config) Validate() error {
	var errs []error
	if c.Monetai.SDKKey == "" {
		errs = append(errs, errors.New("MONETAI_SDK_KEY is required"))
	}
	if c.Monetai.UserID == "" {
		errs = append(errs, errors.New("MONETAI_USER_ID is required"))
	}
	if c.Monetai.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("MONETAI_HTTP_TIMEOUT must be positive, got %s", c.Monetai.HTTPTimeout))
	}
	if c.Monetai.ExpiryCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("MONETAI_EXPIRY_CHECK_INTERVAL must be positive, got %s", c.Monetai.ExpiryCheckInterval))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether at least one broker address is configured.
func (c *KafkaConfig) KafkaEnabled() bool {
	for _, b := range c.Brokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
