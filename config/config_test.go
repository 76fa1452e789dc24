package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadSettingsFile(t *testing.T) {
	path := writeSettings(t, `
[lightning]
url = "localhost:10009"
macaroon = "/tmp/admin.macaroon"

[nostr]
relays = ["wss://relay.example.com"]
secret_key = "nsec-test"

[mostro]
fee_percent = 1.5
max_order_amount = 500000
`)

	cfg, err := Load(&AppConfig{SettingsFile: path})
	require.NoError(t, err)

	assert.Equal(t, "localhost:10009", cfg.Settings.Lightning.Url)
	assert.Equal(t, []string{"wss://relay.example.com"}, cfg.GetRelayUrls())
	assert.Equal(t, 1.5, cfg.Settings.Mostro.FeePercent)
	assert.Equal(t, int64(500000), cfg.Settings.Mostro.MaxOrderAmount)

	// untouched values keep their defaults
	assert.Equal(t, int64(86400), cfg.Settings.Mostro.ExpirationSeconds)
	assert.Equal(t, int64(100), cfg.Settings.Mostro.MinPaymentAmount)
}

func TestEnvOverridesSettings(t *testing.T) {
	path := writeSettings(t, `
[lightning]
url = "localhost:10009"

[nostr]
relays = ["wss://relay.example.com"]
secret_key = "from-file"
`)

	cfg, err := Load(&AppConfig{
		SettingsFile:   path,
		NostrSecretKey: "from-env",
		Relays:         []string{"wss://override.example.com"},
		LNDAddress:     "othernode:10009",
	})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Settings.Nostr.SecretKey)
	assert.Equal(t, []string{"wss://override.example.com"}, cfg.GetRelayUrls())
	assert.Equal(t, "othernode:10009", cfg.Settings.Lightning.Url)
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	path := writeSettings(t, `
[nostr]
relays = ["wss://relay.example.com"]
`)

	_, err := Load(&AppConfig{SettingsFile: path})
	assert.Error(t, err)
}

func TestDurationHelpers(t *testing.T) {
	path := writeSettings(t, `
[lightning]
url = "localhost:10009"

[nostr]
relays = ["wss://relay.example.com"]
secret_key = "nsec-test"

[mostro]
expiration_seconds = 3600
invoice_expiration_window_min = 10

[rate]
refresh_seconds = 60
`)

	cfg, err := Load(&AppConfig{SettingsFile: path})
	require.NoError(t, err)

	assert.Equal(t, "1h0m0s", cfg.OrderExpiration().String())
	assert.Equal(t, "10m0s", cfg.InvoiceExpirationWindow().String())
	assert.Equal(t, "1m0s", cfg.RateRefreshInterval().String())
}
