package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `validate:"required,oneof=development test production"`
	LogLevel    string
	LogFile     string

	// Client side.
	WSURL            string        `validate:"required,url"`
	APIBaseURL       string        `validate:"required,url"`
	Token            string
	LanguageCode     string        `validate:"required,min=2"`
	RequestTimeout   time.Duration `validate:"min=100ms"`
	HandshakeTimeout time.Duration `validate:"min=100ms"`

	ReconnectDelay    time.Duration `validate:"min=10ms"`
	HeartbeatInterval time.Duration `validate:"min=10ms"`
	HeartbeatGrace    time.Duration `validate:"min=0"`

	ReconcileWindow time.Duration `validate:"min=1ms"`
	TypingExpiry    time.Duration `validate:"min=1ms"`

	// Polling backstops must stay coarser than push delivery so they never
	// hide a broken push path.
	ExpectedPushLatency         time.Duration `validate:"min=1ms"`
	ConversationRefreshInterval time.Duration `validate:"gtfield=ExpectedPushLatency"`
	UnreadPollInterval          time.Duration `validate:"gtfield=ExpectedPushLatency"`

	AssistantPeerID      int64
	AssistantName        string
	AssistantPlaceholder string
	AssistantRoles       []string
	AutoMarkRead         bool
	MetricsAddr          string

	// Dev server side.
	ServerPort         string `validate:"required,numeric"`
	JWTSecret          string `validate:"required,min=8"`
	JWTExpiry          int64  `validate:"gt=0"`
	DevUsers           string
	OpenAIModel        string
	RateLimitPerMinute int `validate:"gt=0"`
}

var validate = validator.New()

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),

		WSURL:            getEnv("CHAT_WS_URL", "ws://localhost:8080/ws"),
		APIBaseURL:       getEnv("CHAT_API_URL", "http://localhost:8080"),
		Token:            getEnv("CHAT_TOKEN", ""),
		LanguageCode:     getEnv("CHAT_LANGUAGE", "en"),
		RequestTimeout:   getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		HandshakeTimeout: getEnvAsDuration("HANDSHAKE_TIMEOUT", 10*time.Second),

		ReconnectDelay:    getEnvAsDuration("RECONNECT_DELAY", 5*time.Second),
		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		HeartbeatGrace:    getEnvAsDuration("HEARTBEAT_GRACE", 2*time.Second),

		ReconcileWindow: getEnvAsDuration("RECONCILE_WINDOW", 2*time.Second),
		TypingExpiry:    getEnvAsDuration("TYPING_EXPIRY", 3*time.Second),

		ExpectedPushLatency:         getEnvAsDuration("EXPECTED_PUSH_LATENCY", 2*time.Second),
		ConversationRefreshInterval: getEnvAsDuration("CONVERSATION_REFRESH_INTERVAL", 30*time.Second),
		UnreadPollInterval:          getEnvAsDuration("UNREAD_POLL_INTERVAL", 15*time.Second),

		AssistantPeerID:      getEnvAsInt64("ASSISTANT_PEER_ID", -1),
		AssistantName:        getEnv("ASSISTANT_NAME", "Assistant"),
		AssistantPlaceholder: getEnv("ASSISTANT_PLACEHOLDER", "Ask me anything about your listings"),
		AssistantRoles:       getEnvAsList("ASSISTANT_ROLES", []string{"USER"}),
		AutoMarkRead:         getEnvAsBool("AUTO_MARK_READ", true),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),

		ServerPort:         getEnv("SERVER_PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiry:          getEnvAsInt64("JWT_EXPIRY", 24*60*60), // 24 hours
		DevUsers:           getEnv("DEV_USERS", "1:Alice:USER,2:Bob:AGENT"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks field constraints; the error is a validator.ValidationErrors.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// AssistantEnabledFor reports whether users with role get the synthetic
// assistant conversation.
func (c *Config) AssistantEnabledFor(role string) bool {
	for _, r := range c.AssistantRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	return int(getEnvAsInt64(key, int64(defaultValue)))
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
