package config

// AppConfig holds process-level knobs read from the environment. Everything
// trade-related lives in Settings (settings.toml) so operators can keep one
// file per instance.
type AppConfig struct {
	Workdir      string `envconfig:"WORK_DIR"`
	SettingsFile string `envconfig:"SETTINGS_FILE"`
	Port         string `envconfig:"PORT" default:"1610"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"4"`
	LogToFile    bool   `envconfig:"LOG_TO_FILE" default:"true"`

	// Admin HTTP surface. The listener binds to localhost only and stays
	// disabled unless both secrets are set.
	JWTSecret     string `envconfig:"JWT_SECRET"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	// Environment overrides for the settings file. Empty values defer to
	// whatever settings.toml says.
	LNDAddress      string   `envconfig:"LND_ADDRESS"`
	LNDCertFile     string   `envconfig:"LND_CERT_FILE"`
	LNDMacaroonFile string   `envconfig:"LND_MACAROON_FILE"`
	DatabaseUri     string   `envconfig:"DATABASE_URI"`
	Relays          []string `envconfig:"RELAYS"`
	NostrSecretKey  string   `envconfig:"NOSTR_SECRET_KEY"`
}

// Settings mirrors settings.toml.
type Settings struct {
	Lightning LightningSettings `toml:"lightning"`
	Database  DatabaseSettings  `toml:"database"`
	Nostr     NostrSettings     `toml:"nostr"`
	Mostro    MostroSettings    `toml:"mostro"`
	Rate      RateSettings      `toml:"rate"`
}

type LightningSettings struct {
	Url      string `toml:"url"`
	Cert     string `toml:"cert"`
	Macaroon string `toml:"macaroon"`
}

type DatabaseSettings struct {
	Url string `toml:"url"`
}

type NostrSettings struct {
	Relays    []string `toml:"relays"`
	SecretKey string   `toml:"secret_key"`
}

type MostroSettings struct {
	FeePercent                  float64 `toml:"fee_percent"`
	ExpirationSeconds           int64   `toml:"expiration_seconds"`
	MaxRoutingFee               float64 `toml:"max_routing_fee"`
	MinPaymentAmount            int64   `toml:"min_payment_amount"`
	MaxOrderAmount              int64   `toml:"max_order_amount"`
	HoldInvoiceExpirationWindow int64   `toml:"hold_invoice_expiration_window"`
	HoldInvoiceCltvDelta        uint64  `toml:"hold_invoice_cltv_delta"`
	InvoiceExpirationWindowMin  int64   `toml:"invoice_expiration_window_min"`
	PublishRelaysInterval       int64   `toml:"publish_relays_interval"`
	Pow                         uint8   `toml:"pow"`
}

type RateSettings struct {
	Provider       string `toml:"provider"`
	RefreshSeconds int64  `toml:"refresh_seconds"`
}
