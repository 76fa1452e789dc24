package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Catrya/mostro/logger"
)

const settingsFilename = "settings.toml"

// Config is the read-only configuration snapshot built once at startup.
// Nothing mutates it afterwards.
type Config struct {
	Env      *AppConfig
	Settings *Settings
}

func Load(env *AppConfig) (*Config, error) {
	settingsPath := env.SettingsFile
	if settingsPath == "" {
		settingsPath = filepath.Join(env.Workdir, settingsFilename)
	}

	settings := defaultSettings()
	if _, err := os.Stat(settingsPath); err == nil {
		if _, err := toml.DecodeFile(settingsPath, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", settingsPath, err)
		}
	} else {
		logger.Logger.Warn().Str("path", settingsPath).Msg("No settings file found, using defaults and environment")
	}

	applyEnvOverrides(env, settings)

	cfg := &Config{Env: env, Settings: settings}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultSettings() *Settings {
	return &Settings{
		Mostro: MostroSettings{
			FeePercent:                  0.6,
			ExpirationSeconds:           86400,
			MaxRoutingFee:               0.001,
			MinPaymentAmount:            100,
			MaxOrderAmount:              1000000,
			HoldInvoiceExpirationWindow: 900,
			HoldInvoiceCltvDelta:        144,
			InvoiceExpirationWindowMin:  15,
			PublishRelaysInterval:       60,
		},
		Rate: RateSettings{
			Provider:       "https://api.yadio.io/exrates/BTC",
			RefreshSeconds: 300,
		},
		Database: DatabaseSettings{
			Url: "mostro.db",
		},
	}
}

func applyEnvOverrides(env *AppConfig, settings *Settings) {
	if env.LNDAddress != "" {
		settings.Lightning.Url = env.LNDAddress
	}
	if env.LNDCertFile != "" {
		certBytes, err := os.ReadFile(env.LNDCertFile)
		if err != nil {
			logger.Logger.Error().Err(err).Msg("Failed to read LND cert file")
		} else {
			settings.Lightning.Cert = string(certBytes)
		}
	}
	if env.LNDMacaroonFile != "" {
		settings.Lightning.Macaroon = env.LNDMacaroonFile
	}
	if env.DatabaseUri != "" {
		settings.Database.Url = env.DatabaseUri
	}
	if len(env.Relays) > 0 {
		settings.Nostr.Relays = env.Relays
	}
	if env.NostrSecretKey != "" {
		settings.Nostr.SecretKey = env.NostrSecretKey
	}
}

func (cfg *Config) validate() error {
	if len(cfg.Settings.Nostr.Relays) == 0 {
		return errors.New("no nostr relays configured")
	}
	if cfg.Settings.Nostr.SecretKey == "" {
		return errors.New("no nostr secret key configured")
	}
	if cfg.Settings.Lightning.Url == "" {
		return errors.New("no lightning node url configured")
	}
	return nil
}

func (cfg *Config) GetRelayUrls() []string {
	return cfg.Settings.Nostr.Relays
}

func (cfg *Config) OrderExpiration() time.Duration {
	return time.Duration(cfg.Settings.Mostro.ExpirationSeconds) * time.Second
}

func (cfg *Config) InvoiceExpirationWindow() time.Duration {
	return time.Duration(cfg.Settings.Mostro.InvoiceExpirationWindowMin) * time.Minute
}

func (cfg *Config) RateRefreshInterval() time.Duration {
	return time.Duration(cfg.Settings.Rate.RefreshSeconds) * time.Second
}
