package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process-level configuration for the application.
// Operator-editable runtime settings (rule set, poller settings) live in the
// database instead so they can change without a restart.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Monday    MondayConfig    `mapstructure:"monday"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Poller    PollerConfig    `mapstructure:"poller"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GmailConfig holds inbox access configuration. Either the Gmail API
// (OAuth2) or plain IMAP can be used.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	FetchCount   int    `mapstructure:"fetch_count"`
}

// ExtractorConfig holds completion-service configuration for turning email
// bodies into transaction candidates.
type ExtractorConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	Model               string        `mapstructure:"model"`
	ConfidenceThreshold int           `mapstructure:"confidence_threshold"`
	MaxBodyLength       int           `mapstructure:"max_body_length"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// MondayConfig holds the approval board configuration. Column ids are
// operator-configured because the board schema is tenant-specific.
type MondayConfig struct {
	APIToken         string        `mapstructure:"api_token"`
	BoardID          string        `mapstructure:"board_id"`
	GroupID          string        `mapstructure:"group_id"`
	AmountColumn     string        `mapstructure:"amount_column"`
	SenderColumn     string        `mapstructure:"sender_column"`
	StatusColumn     string        `mapstructure:"status_column"`
	RiskColumn       string        `mapstructure:"risk_column"`
	ReferenceColumn  string        `mapstructure:"reference_column"`
	DateColumn       string        `mapstructure:"date_column"`
	SourceColumn     string        `mapstructure:"source_column"`
	ConfidenceColumn string        `mapstructure:"confidence_column"`
	PostEmailBody    bool          `mapstructure:"post_email_body"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// WalletConfig holds the external ledger API configuration.
type WalletConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PollerConfig holds process-level poller limits. The enabled flag and the
// interval are runtime settings stored in the database.
type PollerConfig struct {
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout"`
	MaxBackoffTicks int           `mapstructure:"max_backoff_ticks"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)
	viper.SetDefault("gmail.fetch_count", 20)

	viper.SetDefault("extractor.model", "gemini-1.5-flash")
	viper.SetDefault("extractor.confidence_threshold", 30)
	viper.SetDefault("extractor.max_body_length", 4000)
	viper.SetDefault("extractor.timeout", "30s")

	viper.SetDefault("monday.post_email_body", true)
	viper.SetDefault("monday.timeout", "15s")

	viper.SetDefault("wallet.timeout", "15s")

	viper.SetDefault("poller.cycle_timeout", "4m")
	viper.SetDefault("poller.max_backoff_ticks", 6)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")
	viper.BindEnv("gmail.fetch_count", "GMAIL_FETCH_COUNT")

	viper.BindEnv("extractor.api_key", "GEMINI_API_KEY")
	viper.BindEnv("extractor.model", "GEMINI_MODEL")
	viper.BindEnv("extractor.confidence_threshold", "EXTRACTOR_CONFIDENCE_THRESHOLD")
	viper.BindEnv("extractor.max_body_length", "EXTRACTOR_MAX_BODY_LENGTH")
	viper.BindEnv("extractor.timeout", "EXTRACTOR_TIMEOUT")

	viper.BindEnv("monday.api_token", "MONDAY_API_TOKEN")
	viper.BindEnv("monday.board_id", "MONDAY_BOARD_ID")
	viper.BindEnv("monday.group_id", "MONDAY_GROUP_ID")
	viper.BindEnv("monday.amount_column", "MONDAY_AMOUNT_COLUMN")
	viper.BindEnv("monday.sender_column", "MONDAY_SENDER_COLUMN")
	viper.BindEnv("monday.status_column", "MONDAY_STATUS_COLUMN")
	viper.BindEnv("monday.risk_column", "MONDAY_RISK_COLUMN")
	viper.BindEnv("monday.reference_column", "MONDAY_REFERENCE_COLUMN")
	viper.BindEnv("monday.date_column", "MONDAY_DATE_COLUMN")
	viper.BindEnv("monday.source_column", "MONDAY_SOURCE_COLUMN")
	viper.BindEnv("monday.confidence_column", "MONDAY_CONFIDENCE_COLUMN")
	viper.BindEnv("monday.post_email_body", "MONDAY_POST_EMAIL_BODY")

	viper.BindEnv("wallet.base_url", "WALLET_BASE_URL")
	viper.BindEnv("wallet.api_key", "WALLET_API_KEY")
	viper.BindEnv("wallet.timeout", "WALLET_TIMEOUT")

	viper.BindEnv("poller.cycle_timeout", "POLLER_CYCLE_TIMEOUT")
	viper.BindEnv("poller.max_backoff_ticks", "POLLER_MAX_BACKOFF_TICKS")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.Extractor.APIKey == "" {
		return fmt.Errorf("extractor API key is required")
	}

	if c.Monday.APIToken == "" || c.Monday.BoardID == "" {
		return fmt.Errorf("monday API token and board id are required")
	}

	if c.Wallet.BaseURL == "" {
		return fmt.Errorf("wallet base URL is required")
	}

	if c.Gmail.FetchCount <= 0 {
		return fmt.Errorf("gmail fetch count must be greater than 0")
	}

	if c.Extractor.ConfidenceThreshold < 0 || c.Extractor.ConfidenceThreshold > 100 {
		return fmt.Errorf("extractor confidence threshold must be between 0 and 100")
	}

	return nil
}
