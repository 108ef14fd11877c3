package relay

import (
	"testing"
	"time"

	"github.com/accessrelay/accessrelay/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var relayEnvVars = []string{
	"BOT_TOKEN", "PRODAMUS_SECRET_KEY", "PRODAMUS_API_KEY", "CHANNEL_ID", "PRICE", "CURRENCY",
	"PRODUCT_NAME", "PRODUCT_DESCRIPTION", "PUBLIC_BASE_URL", "PAYMENT_RETURN_URL",
	"PRODAMUS_INVOICE_URL", "TELEGRAM_API_URL", "TELEGRAM_WEBHOOK_SECRET", "BIND_ADDRESS", "PORT",
	"SIGNATURE_SCHEME", "SIGNATURE_HEADER", "SIGNATURE_PREFIX", "LEDGER_BACKEND", "LEDGER_PATH",
	"REDIS_ADDR", "OUTBOUND_TIMEOUT", "INVITE_TTL", "WEBHOOK_RATE_LIMIT", "LOG_LEVEL", "LOG_FORMAT",
}

func setRelayEnv(t *testing.T, overrides map[string]string) {
	t.Helper()
	chdirForTest(t, t.TempDir()) // no stray .env
	for _, k := range relayEnvVars {
		t.Setenv(k, "")
	}
	t.Setenv("BOT_TOKEN", "123456:TEST")
	t.Setenv("PRODAMUS_SECRET_KEY", "secret")
	t.Setenv("CHANNEL_ID", "-1003189812929")
	for k, v := range overrides {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setRelayEnv(t, nil)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "123456:TEST", cfg.BotToken)
	assert.Equal(t, "secret", cfg.SecretKey)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, int64(-1003189812929), cfg.ChannelID)
	assert.Equal(t, int64(4500), cfg.Price)
	assert.Equal(t, "rub", cfg.Currency)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, signature.SchemeRawJSON, cfg.SignatureScheme)
	assert.Equal(t, "Sign", cfg.SignatureHeader)
	assert.Equal(t, LedgerMemory, cfg.LedgerBackend)
	assert.Equal(t, 5*time.Second, cfg.OutboundTimeout)
	assert.Zero(t, cfg.InviteTTL)
	assert.Equal(t, 120, cfg.WebhookRateLimit)
	assert.Empty(t, cfg.TelegramWebhookURL())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRelayEnv(t, map[string]string{
		"PRODAMUS_API_KEY":   "invoice-key",
		"PORT":               "9000",
		"SIGNATURE_SCHEME":   "sorted-form",
		"LEDGER_BACKEND":     "SQLite",
		"OUTBOUND_TIMEOUT":   "2s",
		"INVITE_TTL":         "24h",
		"PUBLIC_BASE_URL":    "https://relay.example.com/",
		"WEBHOOK_RATE_LIMIT": "0",
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.SecretKey)
	assert.Equal(t, "invoice-key", cfg.APIKey)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, signature.SchemeSortedForm, cfg.SignatureScheme)
	assert.Equal(t, LedgerSQLite, cfg.LedgerBackend)
	assert.Equal(t, 2*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, 24*time.Hour, cfg.InviteTTL)
	assert.Equal(t, 0, cfg.WebhookRateLimit)
	assert.Equal(t, "https://relay.example.com/webhook/telegram", cfg.TelegramWebhookURL())
}

func TestLoadConfigAPIKeyAliasSignsWebhooks(t *testing.T) {
	setRelayEnv(t, map[string]string{"PRODAMUS_SECRET_KEY": "", "PRODAMUS_API_KEY": "legacy"})

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.SecretKey)
	assert.Equal(t, "legacy", cfg.APIKey)
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setRelayEnv(t, map[string]string{"BOT_TOKEN": "", "PRODAMUS_SECRET_KEY": "", "CHANNEL_ID": ""})

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required environment variables: BOT_TOKEN, PRODAMUS_SECRET_KEY, CHANNEL_ID")
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad port":         {"PORT": "70000"},
		"non-numeric port": {"PORT": "http"},
		"bad channel":      {"CHANNEL_ID": "@channel"},
		"bad price":        {"PRICE": "0"},
		"bad scheme":       {"SIGNATURE_SCHEME": "md5"},
		"bad ledger":       {"LEDGER_BACKEND": "postgres"},
		"redis no addr":    {"LEDGER_BACKEND": "redis"},
		"bad timeout":      {"OUTBOUND_TIMEOUT": "soon"},
		"zero timeout":     {"OUTBOUND_TIMEOUT": "0s"},
		"bad base url":     {"PUBLIC_BASE_URL": "ftp://relay.example.com"},
		"base url no host": {"PUBLIC_BASE_URL": "https://"},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			setRelayEnv(t, overrides)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
