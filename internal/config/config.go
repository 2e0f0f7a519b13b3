package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreFile      = "file"
	StoreFirestore = "firestore"
	StoreRedis     = "redis"
)

// DefaultOrigins are always allowed by CORS in addition to CORS_ORIGINS.
var DefaultOrigins = []string{
	"https://studio.getlaunchedge.com",
	"https://gle-prompt-studio.vercel.app",
}

// Config holds all configuration for the application.
type Config struct {
	Port     string `mapstructure:"PORT"`
	GinMode  string `mapstructure:"GIN_MODE"`
	BuildTag string `mapstructure:"BUILD_TAG"`

	// Storage
	StoreBackend                     string `mapstructure:"STORE_BACKEND"`
	DataDir                          string `mapstructure:"DATA_DIR"`
	SaveDebounceMillis               int    `mapstructure:"SAVE_DEBOUNCE_MS"`
	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	RedisAddr                        string `mapstructure:"REDIS_ADDR"`
	RedisPassword                    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB                          int    `mapstructure:"REDIS_DB"`

	// Plan events
	AMQPURL   string `mapstructure:"AMQP_URL"`
	AMQPQueue string `mapstructure:"AMQP_QUEUE"`

	// Generation provider
	BYOKOnly             bool   `mapstructure:"BYOK_ONLY"`
	OpenAIAPIBase        string `mapstructure:"OPENAI_API_BASE"`
	OpenAIAPIKeyServer   string `mapstructure:"OPENAI_API_KEY_SERVER"`
	OpenAIAPIKey         string `mapstructure:"OPENAI_API_KEY"`
	OpenAITimeoutSeconds int    `mapstructure:"OPENAI_TIMEOUT_SECONDS"`
	ModelBYOK            string `mapstructure:"MODEL_BYOK"`
	ModelPro             string `mapstructure:"MODEL_PRO"`
	ModelBoost           string `mapstructure:"MODEL_BOOST"`
	EngineBYOK           string `mapstructure:"ENGINE_BYOK"`
	EnginePro            string `mapstructure:"ENGINE_PRO"`
	EngineTrial          string `mapstructure:"ENGINE_TRIAL"`
	EngineUltra          string `mapstructure:"ENGINE_ULTRA"`

	// Limits
	FreeLimit     int  `mapstructure:"FREE_LIMIT"`
	ProLimit      int  `mapstructure:"PRO_LIMIT"`
	ProBoostLimit int  `mapstructure:"PRO_BOOST_LIMIT"`
	TrialEnabled  bool `mapstructure:"TRIAL_ENABLED"`
	TrialLimit24h int  `mapstructure:"TRIAL_LIMIT_24H"`

	MaintenanceMode bool   `mapstructure:"MAINTENANCE_MODE"`
	AdminKey        string `mapstructure:"ADMIN_KEY"`

	// Billing
	StripeSecretKey        string `mapstructure:"STRIPE_SECRET_KEY"`
	StripePriceID          string `mapstructure:"STRIPE_PRICE_ID"`
	StripeWebhookSecret    string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	FrontendURL            string `mapstructure:"FRONTEND_URL"`
	StripeReturnURL        string `mapstructure:"STRIPE_RETURN_URL"`
	StripeBillingReturnURL string `mapstructure:"STRIPE_BILLING_RETURN_URL"`
	CORSOrigins            string `mapstructure:"CORS_ORIGINS"`

	// Bouncer
	BouncerEnabled     bool   `mapstructure:"BOUNCER_ENABLED"`
	BouncerMaxPasses   int    `mapstructure:"BOUNCER_MAX_PASSES"`
	BouncerBannedStems string `mapstructure:"BOUNCER_BANNED_STEMS"`
	BouncerStemsFile   string `mapstructure:"BOUNCER_STEMS_FILE"`
}

var defaults = map[string]any{
	"PORT":                   "3002",
	"GIN_MODE":               "debug",
	"BUILD_TAG":              "no-tag",
	"STORE_BACKEND":          StoreFile,
	"DATA_DIR":               "data",
	"SAVE_DEBOUNCE_MS":       250,
	"REDIS_DB":               0,
	"AMQP_QUEUE":             "gle.plan-events",
	"BYOK_ONLY":              false,
	"OPENAI_API_BASE":        "https://api.openai.com/v1",
	"OPENAI_TIMEOUT_SECONDS": 60,
	"MODEL_BYOK":             "gpt-4o-mini",
	"MODEL_PRO":              "gpt-4o",
	"MODEL_BOOST":            "gpt-4o",
	"ENGINE_BYOK":            "GLE Core v2.4 (BYOK)",
	"ENGINE_PRO":             "GLE Core v2.4 (Active)",
	"ENGINE_TRIAL":           "GLE Core v2.4 (Trial)",
	"ENGINE_ULTRA":           "High-Density Engine (Ultra)",
	"FREE_LIMIT":             25,
	"PRO_LIMIT":              250,
	"PRO_BOOST_LIMIT":        50,
	"TRIAL_ENABLED":          false,
	"TRIAL_LIMIT_24H":        3,
	"MAINTENANCE_MODE":       false,
	"FRONTEND_URL":           "https://studio.getlaunchedge.com",
	"BOUNCER_ENABLED":        false,
	"BOUNCER_MAX_PASSES":     0,
}

// envKeys lists keys without a default; they still need binding so that
// Unmarshal sees them through AutomaticEnv.
var envKeys = []string{
	"FIREBASE_PROJECT_ID",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"AMQP_URL",
	"OPENAI_API_KEY_SERVER",
	"OPENAI_API_KEY",
	"ADMIN_KEY",
	"STRIPE_SECRET_KEY",
	"STRIPE_PRICE_ID",
	"STRIPE_WEBHOOK_SECRET",
	"STRIPE_RETURN_URL",
	"STRIPE_BILLING_RETURN_URL",
	"CORS_ORIGINS",
	"BOUNCER_BANNED_STEMS",
	"BOUNCER_STEMS_FILE",
}

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.FrontendURL = strings.TrimRight(strings.TrimSpace(c.FrontendURL), "/")
	c.OpenAIAPIBase = strings.TrimRight(strings.TrimSpace(c.OpenAIAPIBase), "/")
	if c.BouncerMaxPasses < 0 {
		c.BouncerMaxPasses = 0
	}
	if c.SaveDebounceMillis <= 0 {
		c.SaveDebounceMillis = 250
	}
	if c.OpenAITimeoutSeconds <= 0 {
		c.OpenAITimeoutSeconds = 60
	}
}

// Validate checks that the selected store backend has what it needs.
// Billing and provider credentials are optional: their routes report
// "not configured" instead of refusing to start.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreFile:
		if strings.TrimSpace(c.DataDir) == "" {
			return errors.New("DATA_DIR is required for the file store")
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required for the firestore store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.FreeLimit < 0 || c.ProLimit < 0 || c.ProBoostLimit < 0 {
		return errors.New("plan limits must not be negative")
	}
	return nil
}

// DBFile is the path of the JSON document used by the file store.
func (c *Config) DBFile() string {
	return filepath.Join(c.DataDir, "gle-db.json")
}

// SaveDebounce is the write coalescing window of the file store.
func (c *Config) SaveDebounce() time.Duration {
	return time.Duration(c.SaveDebounceMillis) * time.Millisecond
}

// OpenAITimeout is the fixed timeout of outbound generation calls.
func (c *Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAITimeoutSeconds) * time.Second
}

// ServerOpenAIKey is the server-held provider key, OPENAI_API_KEY_SERVER first.
func (c *Config) ServerOpenAIKey() string {
	if k := strings.TrimSpace(c.OpenAIAPIKeyServer); k != "" {
		return k
	}
	return strings.TrimSpace(c.OpenAIAPIKey)
}

// StripeReturnBase is the fallback base URL for checkout and portal redirects.
func (c *Config) StripeReturnBase() string {
	for _, u := range []string{c.StripeReturnURL, c.StripeBillingReturnURL, c.FrontendURL} {
		if u = strings.TrimSpace(u); u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return ""
}

// AllowedOrigins returns DefaultOrigins plus CORS_ORIGINS, de-duplicated.
func (c *Config) AllowedOrigins() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(o string) {
		o = strings.TrimSpace(o)
		if o == "" || seen[o] {
			return
		}
		seen[o] = true
		out = append(out, o)
	}
	for _, o := range DefaultOrigins {
		add(o)
	}
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		add(o)
	}
	return out
}

// StripeEnabled reports whether a Stripe secret key is configured.
func (c *Config) StripeEnabled() bool {
	return strings.TrimSpace(c.StripeSecretKey) != ""
}

// StripeMode is DISABLED, LIVE or TEST depending on the secret key.
func (c *Config) StripeMode() string {
	if !c.StripeEnabled() {
		return "DISABLED"
	}
	if strings.HasPrefix(c.StripeSecretKey, "sk_live") {
		return "LIVE"
	}
	return "TEST"
}

// IsRelease reports whether gin runs in release mode.
func (c *Config) IsRelease() bool {
	return strings.EqualFold(c.GinMode, "release")
}
