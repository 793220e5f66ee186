package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Google OAuth / identity provider configuration
	Google GoogleConfig

	// AI agent collaborator configuration
	Agent AgentConfig

	// Background automation configuration
	Automation AutomationConfig

	// Shared default-key tier configuration
	DefaultKey DefaultKeyConfig

	// HTTP server configuration
	HTTP HTTPConfig

	// Local storage configuration
	Storage StorageConfig
}

// GoogleConfig holds OAuth client configuration for the identity provider
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// AgentConfig holds AI agent configuration
type AgentConfig struct {
	Provider       string // http or bedrock
	BaseURL        string
	APIKey         string // server-wide agent credential
	TimeoutSeconds int

	// Bedrock backend settings (used when Provider == "bedrock")
	AWSRegion string
	ModelID   string
	MaxTokens int
}

// AutomationConfig holds scheduler configuration
type AutomationConfig struct {
	Enabled              bool
	IntervalMinutes      int
	InitialDelaySeconds  int
	ChatAutoReplyEnabled bool
	ConcurrencyLimit     int
}

// DefaultKeyConfig holds the shared default-key secret and its daily quota
type DefaultKeyConfig struct {
	Secret     string
	DailyLimit int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	BaseURL            string
	SessionSecret      string
	SessionTTL         time.Duration
	CORSAllowedOrigins string
	Production         bool
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	DataDir string
}

// DefaultScopes are the workspace scopes requested at login.
var DefaultScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.compose",
	"https://www.googleapis.com/auth/chat.spaces.readonly",
	"https://www.googleapis.com/auth/chat.messages",
	"https://www.googleapis.com/auth/tasks",
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.file",
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Google: GoogleConfig{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURI:  getEnvString("GOOGLE_REDIRECT_URI", "http://localhost:8080/auth/google/callback"),
			Scopes:       DefaultScopes,
		},
		Agent: AgentConfig{
			Provider:       getEnvString("AGENT_PROVIDER", "http"),
			BaseURL:        getEnvString("AGENT_API_BASE_URL", "https://oshaani.com"),
			APIKey:         os.Getenv("AGENT_API_KEY"),
			TimeoutSeconds: getEnvInt("AGENT_TIMEOUT_SECONDS", 60),
			AWSRegion:      os.Getenv("AWS_REGION"),
			ModelID:        os.Getenv("BEDROCK_MODEL_ID"),
			MaxTokens:      getEnvInt("BEDROCK_MAX_TOKENS", 4096),
		},
		Automation: AutomationConfig{
			Enabled:              getEnvBool("AUTOMATION_ENABLED", true),
			IntervalMinutes:      getEnvInt("AUTOMATION_INTERVAL_MINUTES", 30),
			InitialDelaySeconds:  getEnvInt("AUTOMATION_INITIAL_DELAY_SECONDS", 10),
			ChatAutoReplyEnabled: getEnvBool("AUTOMATION_CHAT_AUTO_REPLY_ENABLED", true),
			ConcurrencyLimit:     getEnvInt("AUTOMATION_CONCURRENCY_LIMIT", 4),
		},
		DefaultKey: DefaultKeyConfig{
			Secret:     os.Getenv("DEFAULT_KEY_SECRET"),
			DailyLimit: getEnvInt("DEFAULT_KEY_DAILY_LIMIT", 50),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8080"),
			BaseURL:            getEnvString("APP_BASE_URL", "http://localhost:8080"),
			SessionSecret:      getEnvString("SECRET_KEY", "change-me-in-production"),
			SessionTTL:         time.Duration(getEnvInt("SESSION_TTL_HOURS", 14*24)) * time.Hour,
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
			Production:         os.Getenv("APP_ENV") == "production",
		},
		Storage: StorageConfig{
			DataDir: getEnvString("DATA_DIR", "./data"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Automation.IntervalMinutes <= 0 {
		return fmt.Errorf("AUTOMATION_INTERVAL_MINUTES must be positive, got %d", c.Automation.IntervalMinutes)
	}
	if c.Automation.ConcurrencyLimit <= 0 {
		return fmt.Errorf("AUTOMATION_CONCURRENCY_LIMIT must be positive, got %d", c.Automation.ConcurrencyLimit)
	}
	if c.DefaultKey.DailyLimit <= 0 {
		return fmt.Errorf("DEFAULT_KEY_DAILY_LIMIT must be positive, got %d", c.DefaultKey.DailyLimit)
	}
	switch c.Agent.Provider {
	case "http", "bedrock":
	default:
		return fmt.Errorf("AGENT_PROVIDER must be 'http' or 'bedrock', got %q", c.Agent.Provider)
	}
	if c.Agent.Provider == "bedrock" && (c.Agent.AWSRegion == "" || c.Agent.ModelID == "") {
		return fmt.Errorf("AGENT_PROVIDER=bedrock requires AWS_REGION and BEDROCK_MODEL_ID")
	}
	return nil
}

// getEnvString returns the environment variable value or a default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// getEnvBool returns the environment variable as a bool or a default
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
