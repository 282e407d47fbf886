// Package config builds the service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

type Config struct {
	Port        string
	Storage     StorageConfig
	JWTSecret   string
	Card        CardConfig
	MobileMoney MobileMoneyConfig
	MockEnabled bool
	Reconcile   ReconcileConfig
	RateLimit   RateLimitConfig

	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix

	// FilePlaceholders are fileRef values that mean "no real file uploaded yet".
	FilePlaceholders []string
}

type StorageConfig struct {
	Driver        string
	MongoURI      string
	MongoDatabase string
	SQLitePath    string
}

type CardConfig struct {
	SecretKey          string
	WebhookSecret      string
	BaseURL            string
	SignatureTolerance time.Duration
}

func (c CardConfig) Enabled() bool { return c.SecretKey != "" }

type MobileMoneyConfig struct {
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	BaseURL            string
	CallbackURL        string
	PhonePattern       string
	AllowedCallbackIPs []string
}

func (c MobileMoneyConfig) Enabled() bool { return c.ConsumerKey != "" }

type ReconcileConfig struct {
	PendingTTL    time.Duration
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// Load reads envFile (if it exists) into the process environment and then
// builds a Config from environment variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("env_file_not_loaded", "file", envFile, "error", err)
		}
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []error
	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Storage: StorageConfig{
			Driver:        strings.ToLower(getEnv("STORAGE_DRIVER", DriverSQLite)),
			MongoURI:      os.Getenv("MONGOURI"),
			MongoDatabase: getEnv("MONGO_DATABASE", "foliodb"),
			SQLitePath:    getEnv("SQLITE_PATH", "folio.db"),
		},
		JWTSecret: os.Getenv("JWT_SECRET"),
		Card: CardConfig{
			SecretKey:          os.Getenv("CARD_SECRET_KEY"),
			WebhookSecret:      os.Getenv("CARD_WEBHOOK_SECRET"),
			BaseURL:            strings.TrimRight(getEnv("CARD_BASE_URL", "https://api.stripe.com"), "/"),
			SignatureTolerance: getDuration("CARD_SIGNATURE_TOLERANCE", 5*time.Minute, &errs),
		},
		MobileMoney: MobileMoneyConfig{
			ConsumerKey:        os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:     os.Getenv("MPESA_CONSUMER_SECRET"),
			ShortCode:          os.Getenv("MPESA_SHORTCODE"),
			Passkey:            os.Getenv("MPESA_PASSKEY"),
			BaseURL:            strings.TrimRight(getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"), "/"),
			CallbackURL:        os.Getenv("MPESA_CALLBACK_URL"),
			PhonePattern:       getEnv("MPESA_PHONE_PATTERN", `^254\d{9}$`),
			AllowedCallbackIPs: getList("MPESA_CALLBACK_ALLOWED_IPS", nil),
		},
		MockEnabled: getBool("MOCK_PAYMENTS_ENABLED", false, &errs),
		Reconcile: ReconcileConfig{
			PendingTTL:    getDuration("PENDING_TTL", 30*time.Minute, &errs),
			SweepInterval: getDuration("SWEEP_INTERVAL", time.Minute, &errs),
		},
		RateLimit: RateLimitConfig{
			RPS:   getFloat("RATE_LIMIT_RPS", 5, &errs),
			Burst: getInt("RATE_LIMIT_BURST", 10, &errs),
		},
		FilePlaceholders: getList("FILE_PLACEHOLDERS", []string{"placeholder", "#", "about:blank", "https://via.placeholder.com"}),
		TrustedProxies:   getPrefixes("TRUSTED_PROXIES", &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Storage.MongoURI == "" {
			return errors.New("MONGOURI environment variable not set")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if _, err := regexp.Compile(c.MobileMoney.PhonePattern); err != nil {
		return fmt.Errorf("invalid MPESA_PHONE_PATTERN: %w", err)
	}
	if c.Card.SignatureTolerance <= 0 || c.Reconcile.PendingTTL <= 0 || c.Reconcile.SweepInterval <= 0 {
		return errors.New("durations must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate limit must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getPrefixes parses a comma list of CIDRs; a bare address is a single-host prefix.
func getPrefixes(key string, errs *[]error) []netip.Prefix {
	var out []netip.Prefix
	for _, v := range getList(key, nil) {
		if !strings.Contains(v, "/") {
			a, err := netip.ParseAddr(v)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		out = append(out, p.Masked())
	}
	return out
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}
