package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Replicate ReplicateConfig `yaml:"replicate"`
	Hosting   HostingConfig   `yaml:"hosting"`
	Storage   StorageConfig   `yaml:"storage"`
	Archiver  ArchiverConfig  `yaml:"archiver"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MigrationsPath  string        `yaml:"migrations_path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ReplicateConfig holds settings for the hosted image-generation API
type ReplicateConfig struct {
	BaseURL         string            `yaml:"base_url"`
	APIToken        string            `yaml:"api_token"`
	ModelVersions   map[string]string `yaml:"model_versions"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	PollMaxAttempts int               `yaml:"poll_max_attempts"`
	RequestTimeout  time.Duration     `yaml:"request_timeout"`
	WebhookURL      string            `yaml:"webhook_url"`
}

// HostingConfig holds external image-hosting settings for the publisher
type HostingConfig struct {
	Primary       HostConfig    `yaml:"primary"`
	Secondary     HostConfig    `yaml:"secondary"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	VerifyRetries int           `yaml:"verify_retries"`
}

// HostConfig describes one external image host upload endpoint
type HostConfig struct {
	Name      string `yaml:"name"`
	UploadURL string `yaml:"upload_url"`
	APIKey    string `yaml:"api_key"`
}

// StorageConfig holds local file-storage settings
type StorageConfig struct {
	UploadDir     string        `yaml:"upload_dir"`
	ThumbnailDir  string        `yaml:"thumbnail_dir"`
	MetadataFile  string        `yaml:"metadata_file"`
	UploadTTL     time.Duration `yaml:"upload_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ArchiverConfig holds archiver service configuration
type ArchiverConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	DownloadAttempts  int           `yaml:"download_attempts"`
	DownloadBackoff   time.Duration `yaml:"download_backoff"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	PrimaryDelivery   string        `yaml:"primary_delivery_host"`
	AlternateDelivery string        `yaml:"alternate_delivery_host"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateShared checks settings required by both services
func (c *Config) validateShared() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Storage.ThumbnailDir == "" {
		return fmt.Errorf("storage thumbnail_dir is required")
	}

	if c.Storage.MetadataFile == "" {
		return fmt.Errorf("storage metadata_file is required")
	}

	return nil
}

// ValidateAPIConfig checks if the configuration is valid for the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Replicate.BaseURL == "" {
		return fmt.Errorf("replicate base_url is required")
	}

	if len(c.Replicate.ModelVersions) == 0 {
		return fmt.Errorf("at least one replicate model version is required")
	}

	if c.Replicate.PollInterval <= 0 {
		return fmt.Errorf("replicate poll_interval must be greater than 0")
	}

	if c.Replicate.PollMaxAttempts <= 0 {
		return fmt.Errorf("replicate poll_max_attempts must be greater than 0")
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("storage upload_dir is required")
	}

	return c.validateShared()
}

// ValidateArchiverConfig checks if the configuration is valid for the archiver service
func (c *Config) ValidateArchiverConfig() error {
	if c.Archiver.Concurrency <= 0 {
		return fmt.Errorf("archiver concurrency must be greater than 0")
	}

	if c.Archiver.DownloadAttempts <= 0 {
		return fmt.Errorf("archiver download_attempts must be greater than 0")
	}

	if c.Archiver.DownloadTimeout <= 0 {
		return fmt.Errorf("archiver download_timeout must be greater than 0")
	}

	if c.Archiver.ShutdownTimeout <= 0 {
		return fmt.Errorf("archiver shutdown_timeout must be greater than 0")
	}

	if c.Storage.SweepInterval <= 0 {
		return fmt.Errorf("storage sweep_interval must be greater than 0")
	}

	return c.validateShared()
}
