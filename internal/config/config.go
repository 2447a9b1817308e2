package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "CARGO"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "cargo888.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 60
	defaultBcryptCost      = 10
	defaultMaxBodyBytes    = 10 << 20
	defaultQRWidth         = 300
	defaultQRMargin        = 2
	defaultQRMaxWidth      = 1024
	defaultQRPlainBudget   = 2300
	defaultQRLogoBudget    = 1200
	defaultQRTruncateRunes = 100
	defaultNotifyTimeout   = 15
	defaultSMTPPort        = 587
	defaultWhatsAppAPIBase = "https://graph.facebook.com/v22.0"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	MaxBodyBytes   int64
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenTTL       time.Duration
	BcryptCost     int
	AllowedOrigins []string
	QR             QRConfig
	Notify         NotifyConfig
}

// QRConfig controls label image rendering.
type QRConfig struct {
	LogoPath      string
	Compositing   bool
	DefaultWidth  int
	DefaultMargin int
	MaxWidth      int
	// Byte budgets for encoded content; over-budget content is cut to TruncateRunes.
	PlainBudget   int
	LogoBudget    int
	TruncateRunes int
}

// NotifyConfig carries outbound notification credentials. Empty credentials disable a channel.
type NotifyConfig struct {
	Timeout  time.Duration
	SMTP     SMTPConfig
	WhatsApp WhatsAppConfig
}

// SMTPConfig configures the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// WhatsAppConfig configures the WhatsApp Business channel.
type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	APIBaseURL    string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.max_body_bytes", defaultMaxBodyBytes)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("qr.logo_path", "assets/888cargo-logo.png")
	configViper.SetDefault("qr.compositing", true)
	configViper.SetDefault("qr.default_width", defaultQRWidth)
	configViper.SetDefault("qr.default_margin", defaultQRMargin)
	configViper.SetDefault("qr.max_width", defaultQRMaxWidth)
	configViper.SetDefault("qr.plain_budget", defaultQRPlainBudget)
	configViper.SetDefault("qr.logo_budget", defaultQRLogoBudget)
	configViper.SetDefault("qr.truncate_runes", defaultQRTruncateRunes)
	configViper.SetDefault("notify.timeout_seconds", defaultNotifyTimeout)
	configViper.SetDefault("notify.smtp.port", defaultSMTPPort)
	configViper.SetDefault("notify.whatsapp.api_base_url", defaultWhatsAppAPIBase)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		MaxBodyBytes:   configViper.GetInt64("http.max_body_bytes"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		BcryptCost:     configViper.GetInt("auth.bcrypt_cost"),
		AllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		QR: QRConfig{
			LogoPath:      configViper.GetString("qr.logo_path"),
			Compositing:   configViper.GetBool("qr.compositing"),
			DefaultWidth:  configViper.GetInt("qr.default_width"),
			DefaultMargin: configViper.GetInt("qr.default_margin"),
			MaxWidth:      configViper.GetInt("qr.max_width"),
			PlainBudget:   configViper.GetInt("qr.plain_budget"),
			LogoBudget:    configViper.GetInt("qr.logo_budget"),
			TruncateRunes: configViper.GetInt("qr.truncate_runes"),
		},
		Notify: NotifyConfig{
			Timeout: time.Duration(configViper.GetInt("notify.timeout_seconds")) * time.Second,
			SMTP: SMTPConfig{
				Host:     configViper.GetString("notify.smtp.host"),
				Port:     configViper.GetInt("notify.smtp.port"),
				Username: configViper.GetString("notify.smtp.username"),
				Password: configViper.GetString("notify.smtp.password"),
				From:     configViper.GetString("notify.smtp.from"),
			},
			WhatsApp: WhatsAppConfig{
				Token:         configViper.GetString("notify.whatsapp.token"),
				PhoneNumberID: configViper.GetString("notify.whatsapp.phone_number_id"),
				APIBaseURL:    configViper.GetString("notify.whatsapp.api_base_url"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.QR.DefaultWidth <= 0 {
		return fmt.Errorf("qr.default_width must be positive")
	}
	if c.QR.DefaultMargin < 0 {
		return fmt.Errorf("qr.default_margin must not be negative")
	}
	if c.QR.MaxWidth < c.QR.DefaultWidth {
		return fmt.Errorf("qr.max_width must be at least qr.default_width")
	}
	if c.QR.PlainBudget <= 0 || c.QR.LogoBudget <= 0 || c.QR.TruncateRunes <= 0 {
		return fmt.Errorf("qr.plain_budget, qr.logo_budget and qr.truncate_runes must be positive")
	}
	return nil
}

// env values arrive as a single comma separated string
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
