package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bluesky   BlueskyConfig   `yaml:"bluesky"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Storage   StorageConfig   `yaml:"storage"`
	Download  DownloadConfig  `yaml:"download"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Model     ModelConfig     `yaml:"model"`
	Inventory InventoryConfig `yaml:"inventory"`
}

// ServerConfig holds HTTP status server configuration.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"SERVER_ENABLED" default:"true"`
	Host         string        `yaml:"host" envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT" default:"9848"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
}

// BlueskyConfig holds account and endpoint configuration.
type BlueskyConfig struct {
	Username      string        `yaml:"username" envconfig:"BSKY_BOT_USERNAME"`
	Password      string        `yaml:"password" envconfig:"BSKY_BOT_PASSWORD"`
	PDSURL        string        `yaml:"pds_url" envconfig:"BSKY_PDS_URL" default:"https://bsky.social"`
	PublicURL     string        `yaml:"public_url" envconfig:"BSKY_PUBLIC_URL" default:"https://public.api.bsky.app"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"BSKY_TIMEOUT" default:"30s"`
	LoginAttempts int           `yaml:"login_attempts" envconfig:"BSKY_LOGIN_ATTEMPTS" default:"3"`
	LoginDelay    time.Duration `yaml:"login_delay" envconfig:"BSKY_LOGIN_DELAY" default:"5s"`
}

// MonitorConfig holds mention polling configuration.
type MonitorConfig struct {
	IntervalSeconds int           `yaml:"interval_seconds" envconfig:"CHECK_INTERVAL_SECONDS" default:"60"`
	MentionLimit    int           `yaml:"mention_limit" envconfig:"MENTION_LIMIT" default:"20"`
	MentionDelay    time.Duration `yaml:"mention_delay" envconfig:"MENTION_DELAY" default:"2s"`
	MarkSeen        bool          `yaml:"mark_seen" envconfig:"MARK_SEEN" default:"false"`
	ActivityLogSize int           `yaml:"activity_log_size" envconfig:"ACTIVITY_LOG_SIZE" default:"100"`
}

// PollInterval returns the poll interval as a duration.
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	VideoDir          string `yaml:"video_dir" envconfig:"VIDEO_DIR" default:"data/videos"`
	OutputDir         string `yaml:"output_dir" envconfig:"OUTPUT_DIR" default:"data/output"`
	ProcessedFile     string `yaml:"processed_file" envconfig:"PROCESSED_FILE" default:"data/processed_threads.txt"`
	RunDBPath         string `yaml:"run_db_path" envconfig:"RUN_DB_PATH" default:"data/runs.db"`
	SystemMessagePath string `yaml:"system_message_path" envconfig:"SYSTEM_MESSAGE_PATH" default:"system_message.md"`
	MinFreeBytes      int64  `yaml:"min_free_bytes" envconfig:"MIN_FREE_BYTES" default:"536870912"` // 512MB
}

// DownloadConfig holds video download configuration.
type DownloadConfig struct {
	Timeout       time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"10m"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT" default:"60s"`
	MaxAttempts   int           `yaml:"max_attempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY" default:"5s"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY" default:"60s"`
	UserAgent     string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT" default:"bskybot/1.0"`
}

// WhisperConfig holds speech-to-text configuration.
type WhisperConfig struct {
	APIKey        string        `yaml:"api_key" envconfig:"WHISPER_API_KEY"`
	BaseURL       string        `yaml:"base_url" envconfig:"WHISPER_BASE_URL" default:"https://api.openai.com/v1"`
	AzureEndpoint string        `yaml:"azure_endpoint" envconfig:"AZURE_OPENAI_ENDPOINT"`
	APIVersion    string        `yaml:"api_version" envconfig:"WHISPER_API_VERSION"`
	Deployment    string        `yaml:"deployment" envconfig:"WHISPER_DEPLOYMENT_NAME" default:"whisper"`
	Model         string        `yaml:"model" envconfig:"WHISPER_MODEL" default:"whisper-1"`
	Language      string        `yaml:"language" envconfig:"WHISPER_LANGUAGE" default:"en"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"WHISPER_TIMEOUT" default:"5m"`
}

// Enabled reports whether transcription credentials are configured.
func (c *WhisperConfig) Enabled() bool {
	return c.APIKey != ""
}

// ModelConfig holds language model configuration.
type ModelConfig struct {
	APIKey        string        `yaml:"api_key" envconfig:"GPT_API_KEY"`
	BaseURL       string        `yaml:"base_url" envconfig:"GPT_BASE_URL"`
	AzureEndpoint string        `yaml:"azure_endpoint" envconfig:"AZURE_OPENAI_ENDPOINT"`
	APIVersion    string        `yaml:"api_version" envconfig:"GPT_API_VERSION" default:"2024-08-01-preview"`
	Model         string        `yaml:"model" envconfig:"GPT_DEPLOYMENT_NAME" default:"gpt-4o"`
	MaxTokens     int           `yaml:"max_tokens" envconfig:"GPT_MAX_TOKENS" default:"1000"`
	Temperature   float64       `yaml:"temperature" envconfig:"GPT_TEMPERATURE" default:"0.7"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"GPT_TIMEOUT" default:"2m"`
}

// InventoryConfig holds SharedInventory store configuration.
type InventoryConfig struct {
	Directory     string `yaml:"directory" envconfig:"DB_DIRECTORY" default:"data"`
	MembersFile   string `yaml:"members_file" envconfig:"MEMBERS_FILE" default:"members.json"`
	InventoryFile string `yaml:"inventory_file" envconfig:"INVENTORY_FILE" default:"inventory.json"`
	RepliedFile   string `yaml:"replied_file" envconfig:"INVENTORY_REPLIED_FILE" default:"replied_mentions.txt"`
}

// Load reads configuration from file and environment variables and validates it.
// Environment variables override file values.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for commands that never contact the account.
func Read(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Bluesky.Username == "" || c.Bluesky.Password == "" {
		return fmt.Errorf("BSKY_BOT_USERNAME and BSKY_BOT_PASSWORD are required: %w", domain.ErrMissingCredentials)
	}
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("CHECK_INTERVAL_SECONDS must be positive: %w", domain.ErrConfiguration)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required: %w", domain.ErrConfiguration)
	}
	return nil
}

// RequireModel checks the settings needed by commands that call the language model.
func (c *Config) RequireModel() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("GPT_API_KEY is required: %w", domain.ErrMissingCredentials)
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
