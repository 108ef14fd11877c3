package relay

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/accessrelay/accessrelay/internal/signature"
	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	LedgerNone   = "none"
	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerRedis  = "redis"
)

// Config holds all configuration for the relay. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	BotToken    string
	SecretKey   string // webhook HMAC key
	APIKey      string // invoice API bearer token
	ChannelID   int64
	Price       int64
	Currency    string
	ProductName string
	Description string

	PublicBaseURL         string
	PaymentReturnURL      string
	InvoiceURL            string
	TelegramAPIURL        string
	TelegramWebhookSecret string

	BindAddress string
	Port        int

	SignatureScheme signature.Scheme
	SignatureHeader string
	SignaturePrefix string

	LedgerBackend string
	LedgerPath    string
	RedisAddr     string

	OutboundTimeout  time.Duration
	InviteTTL        time.Duration
	WebhookRateLimit int // requests per minute per client IP

	LogLevel  string
	LogFormat string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// TelegramWebhookURL returns the URL registered with the Bot API, or "" if
// PUBLIC_BASE_URL is unset.
func (c *Config) TelegramWebhookURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + TelegramWebhookPath
}

// LoadConfig loads relay configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	price, err := envOrDefaultInt64("PRICE", 4500)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("WEBHOOK_RATE_LIMIT", defaultWebhookRateLimit)
	if err != nil {
		return nil, err
	}
	outboundTimeout, err := envOrDefaultDuration("OUTBOUND_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	inviteTTL, err := envOrDefaultDuration("INVITE_TTL", 0)
	if err != nil {
		return nil, err
	}
	scheme, err := signature.ParseScheme(os.Getenv("SIGNATURE_SCHEME"))
	if err != nil {
		return nil, fmt.Errorf("SIGNATURE_SCHEME: %w", err)
	}

	var channelID int64
	if v := strings.TrimSpace(os.Getenv("CHANNEL_ID")); v != "" {
		channelID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CHANNEL_ID must be a valid integer: %w", err)
		}
	}

	// PRODAMUS_API_KEY signed webhooks in the first deployments; keep it as
	// a fallback for the HMAC key.
	secret := strings.TrimSpace(os.Getenv("PRODAMUS_SECRET_KEY"))
	apiKey := strings.TrimSpace(os.Getenv("PRODAMUS_API_KEY"))
	if secret == "" {
		secret = apiKey
	}
	if apiKey == "" {
		apiKey = secret
	}

	cfg := &Config{
		BotToken:    strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		SecretKey:   secret,
		APIKey:      apiKey,
		ChannelID:   channelID,
		Price:       price,
		Currency:    envOrDefault("CURRENCY", "rub"),
		ProductName: envOrDefault("PRODUCT_NAME", "Доступ к онлайн-курсу"),
		Description: strings.TrimSpace(os.Getenv("PRODUCT_DESCRIPTION")),

		PublicBaseURL:         strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		PaymentReturnURL:      strings.TrimSpace(os.Getenv("PAYMENT_RETURN_URL")),
		InvoiceURL:            strings.TrimSpace(os.Getenv("PRODAMUS_INVOICE_URL")),
		TelegramAPIURL:        strings.TrimSpace(os.Getenv("TELEGRAM_API_URL")),
		TelegramWebhookSecret: strings.TrimSpace(os.Getenv("TELEGRAM_WEBHOOK_SECRET")),

		BindAddress: envOrDefault("BIND_ADDRESS", "0.0.0.0"),
		Port:        port,

		SignatureScheme: scheme,
		SignatureHeader: envOrDefault("SIGNATURE_HEADER", "Sign"),
		SignaturePrefix: strings.TrimSpace(os.Getenv("SIGNATURE_PREFIX")),

		LedgerBackend: strings.ToLower(envOrDefault("LEDGER_BACKEND", LedgerMemory)),
		LedgerPath:    envOrDefault("LEDGER_PATH", "./data"),
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),

		OutboundTimeout:  outboundTimeout,
		InviteTTL:        inviteTTL,
		WebhookRateLimit: rateLimit,

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate relay config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.SecretKey == "" {
		missing = append(missing, "PRODAMUS_SECRET_KEY")
	}
	if c.ChannelID == 0 {
		missing = append(missing, "CHANNEL_ID")
	}
	if c.LedgerBackend == LedgerRedis && c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Price <= 0 {
		return fmt.Errorf("PRICE must be greater than 0, got %d", c.Price)
	}
	if c.OutboundTimeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT must be greater than 0, got %s", c.OutboundTimeout)
	}
	if c.InviteTTL < 0 {
		return fmt.Errorf("INVITE_TTL must not be negative, got %s", c.InviteTTL)
	}
	if c.WebhookRateLimit < 0 {
		return fmt.Errorf("WEBHOOK_RATE_LIMIT must not be negative, got %d", c.WebhookRateLimit)
	}

	switch c.LedgerBackend {
	case LedgerNone, LedgerMemory, LedgerSQLite, LedgerRedis:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be one of none, memory, sqlite, redis; got %q", c.LedgerBackend)
	}

	if c.PublicBaseURL != "" {
		if err := validateHTTPURL("PUBLIC_BASE_URL", c.PublicBaseURL); err != nil {
			return err
		}
	}
	if c.InvoiceURL != "" {
		if err := validateHTTPURL("PRODAMUS_INVOICE_URL", c.InvoiceURL); err != nil {
			return err
		}
	}
	if c.TelegramAPIURL != "" {
		if err := validateHTTPURL("TELEGRAM_API_URL", c.TelegramAPIURL); err != nil {
			return err
		}
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultInt64(key string, fallback int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
