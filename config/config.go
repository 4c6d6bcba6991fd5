package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	TrackHub TrackHubConfig `yaml:"trackhub"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	ShipmentEventsTopicName string `yaml:"shipment_events_topic_name"`

	// Куда dispatcher откладывает события с неудавшимися побочными эффектами.
	ShipmentEventsDLQTopicName string `yaml:"shipment_events_dlq_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackHubConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	ShipmentCacheTTLSeconds int    `yaml:"shipment_cache_ttl_seconds"`

	// "reject" (default) | "allow". allow accepts webhooks for endpoints without a secret
	// and marks them as unverified.
	UnsignedWebhookPolicy     string `yaml:"unsigned_webhook_policy"`
	WebhookRateLimitPerMinute int    `yaml:"webhook_rate_limit_per_minute"`
	WebhookMaxBodyBytes       int64  `yaml:"webhook_max_body_bytes"`

	// "high" | "medium" (default) | "low"
	EmailMinConfidence string `yaml:"email_min_confidence"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	DispatcherMaxAttempts      int `yaml:"dispatcher_max_attempts"`
	DispatcherRetryDelayMillis int `yaml:"dispatcher_retry_delay_millis"`

	RelayPollIntervalSeconds int `yaml:"relay_poll_interval_seconds"`
	RelayBatchSize           int `yaml:"relay_batch_size"`
	RelayLeaseSeconds        int `yaml:"relay_lease_seconds"`
	RelayBackoff1Seconds     int `yaml:"relay_backoff_1_seconds"`
	RelayBackoff2Seconds     int `yaml:"relay_backoff_2_seconds"`
	RelayBackoff3Seconds     int `yaml:"relay_backoff_3_seconds"`
	RelayBackoff4Seconds     int `yaml:"relay_backoff_4_seconds"`

	IdempotencyRetentionDays int `yaml:"idempotency_retention_days"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	NotifierBaseURL string `yaml:"notifier_base_url"`
	NotifierAPIKey  string `yaml:"notifier_api_key"`

	AggregatorBaseURL string `yaml:"aggregator_base_url"`
	AggregatorAPIKey  string `yaml:"aggregator_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// PostgresDSN собирает строку подключения; ssl_mode по умолчанию disable.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) ShipmentEventsTopic() string {
	if c.Kafka.ShipmentEventsTopicName == "" {
		return "shipment.status_changed"
	}
	return c.Kafka.ShipmentEventsTopicName
}

func (c *Config) ShipmentEventsDLQTopic() string {
	if c.Kafka.ShipmentEventsDLQTopicName == "" {
		return c.ShipmentEventsTopic() + ".dlq"
	}
	return c.Kafka.ShipmentEventsDLQTopicName
}
