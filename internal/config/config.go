package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type AppConfig struct {
	IrisBaseURL   string `envconfig:"IRIS_BASE_URL"`
	IrisWSURL     string `envconfig:"IRIS_WS_URL"`
	TransportMode string `envconfig:"TRANSPORT_MODE" default:"auto"`
	DryRun        bool   `envconfig:"TRANSPORT_DRYRUN" default:"false"`

	XUserID    string `envconfig:"X_USER_ID"`
	XUserEmail string `envconfig:"X_USER_EMAIL"`
	XSessionID string `envconfig:"X_SESSION_ID"`

	BotPrefix    string   `envconfig:"BOT_PREFIX" default:"."`
	OwnerNumbers []string `envconfig:"OWNER_NUMBERS"`
	BotNumber    string   `envconfig:"BOT_NUMBER"`
	AccountID    string   `envconfig:"ACCOUNT_ID"`
	AckReaction  string   `envconfig:"ACK_REACTION"`

	RedisURL     string        `envconfig:"REDIS_URL"`
	DatabaseURL  string        `envconfig:"DATABASE_URL"`
	CommsURL     string        `envconfig:"COMMS_URL"`
	CommsName    string        `envconfig:"SERVICE_NAME" default:"chat-dispatch-bot"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`

	ResyncInterval time.Duration `envconfig:"RESYNC_INTERVAL" default:"5m"`
	GroupMetaTTL   time.Duration `envconfig:"GROUP_META_TTL" default:"5m"`

	CommandsDir string `envconfig:"COMMANDS_DIR"`
	MessagesDir string `envconfig:"MESSAGES_DIR"`

	WordchainTurnTimeout time.Duration `envconfig:"WORDCHAIN_TURN_TIMEOUT" default:"30s"`
	DictionaryURL        string        `envconfig:"DICTIONARY_URL" default:"https://api.dictionaryapi.dev/api/v2/entries/en/"`
	DictionaryTimeout    time.Duration `envconfig:"DICTIONARY_TIMEOUT" default:"5s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) normalize() {
	c.IrisBaseURL = strings.TrimSpace(c.IrisBaseURL)
	c.IrisWSURL = strings.TrimSpace(c.IrisWSURL)
	c.BotPrefix = strings.TrimSpace(c.BotPrefix)
	c.TransportMode = strings.ToLower(strings.TrimSpace(c.TransportMode))

	owners := make([]string, 0, len(c.OwnerNumbers))
	for _, o := range c.OwnerNumbers {
		if d := digitsOnly(o); d != "" {
			owners = append(owners, d)
		}
	}
	c.OwnerNumbers = owners
	c.BotNumber = digitsOnly(c.BotNumber)
	c.AccountID = strings.TrimSpace(c.AccountID)
	if c.AccountID == "" {
		c.AccountID = c.BotNumber
	}
}

// Validate checks the fields the bot cannot run without.
func (c *AppConfig) Validate() error {
	if c.IrisBaseURL == "" {
		return errors.New("IRIS_BASE_URL is required")
	}
	if c.IrisWSURL == "" {
		return errors.New("IRIS_WS_URL is required")
	}
	if c.BotPrefix == "" {
		return errors.New("BOT_PREFIX must not be blank")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.AccountID == "" {
		return errors.New("ACCOUNT_ID or BOT_NUMBER is required")
	}
	if c.ResyncInterval <= 0 {
		return errors.New("RESYNC_INTERVAL must be positive")
	}
	if c.WordchainTurnTimeout <= 0 {
		return errors.New("WORDCHAIN_TURN_TIMEOUT must be positive")
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
