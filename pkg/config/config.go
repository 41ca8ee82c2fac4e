package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	GoCardless   GoCardlessConfig
	Twilio       TwilioConfig
	Sendgrid     SendgridConfig
	Season       SeasonConfig
	Chase        ChaseConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Season.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CLUBPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"CLUBPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CLUBPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CLUBPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CLUBPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CLUBPAY_DB_DSN"`
	Driver string `envconfig:"CLUBPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CLUBPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"CLUBPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CLUBPAY_DB_USER"`
	LegacyPassword string `envconfig:"CLUBPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CLUBPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CLUBPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CLUBPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CLUBPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CLUBPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CLUBPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CLUBPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CLUBPAY_REDIS_ADDR"`
	Password     string        `envconfig:"CLUBPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CLUBPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CLUBPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CLUBPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CLUBPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CLUBPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CLUBPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CLUBPAY_AUTO_MIGRATE" default:"false"`
}

// GoCardlessConfig configures the payment processor client and webhook
// verification. An empty WebhookSecret disables signature checks, which is
// only acceptable in local development.
type GoCardlessConfig struct {
	AccessToken   string        `envconfig:"CLUBPAY_GOCARDLESS_ACCESS_TOKEN"`
	BaseURL       string        `envconfig:"CLUBPAY_GOCARDLESS_BASE_URL" default:"https://api.gocardless.com"`
	WebhookSecret string        `envconfig:"CLUBPAY_GOCARDLESS_WEBHOOK_SECRET"`
	Env           string        `envconfig:"CLUBPAY_GOCARDLESS_ENV" default:"sandbox"`
	Timeout       time.Duration `envconfig:"CLUBPAY_GOCARDLESS_TIMEOUT" default:"30s"`
}

// Environment returns the normalized processor environment (sandbox/live).
func (g GoCardlessConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type TwilioConfig struct {
	AccountSID string `envconfig:"CLUBPAY_TWILIO_ACCOUNT_SID"`
	AuthToken  string `envconfig:"CLUBPAY_TWILIO_AUTH_TOKEN"`
	FromNumber string `envconfig:"CLUBPAY_TWILIO_FROM_NUMBER"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"CLUBPAY_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"CLUBPAY_SENDGRID_FROM_EMAIL"`
}

// SeasonConfig carries the billing policy for the current season.
type SeasonConfig struct {
	PolicyCutoffDate      string `envconfig:"CLUBPAY_SEASON_POLICY_CUTOFF" default:"2025-08-28"`
	ForcedStartMonth      int    `envconfig:"CLUBPAY_SEASON_FORCED_START_MONTH" default:"9"`
	ForcedStartYear       int    `envconfig:"CLUBPAY_SEASON_FORCED_START_YEAR" default:"2025"`
	BaseMonthlyAmount     string `envconfig:"CLUBPAY_SEASON_MONTHLY_AMOUNT" default:"20.00"`
	SigningFeeAmount      string `envconfig:"CLUBPAY_SEASON_SIGNING_FEE" default:"25.00"`
	SiblingDiscountFactor string `envconfig:"CLUBPAY_SEASON_SIBLING_DISCOUNT" default:"0.9"`
	BufferDays            int    `envconfig:"CLUBPAY_SEASON_BUFFER_DAYS" default:"5"`
	EarlyMonthCutoffDay   int    `envconfig:"CLUBPAY_SEASON_EARLY_MONTH_CUTOFF" default:"10"`
}

func (s SeasonConfig) validate() error {
	if _, err := s.CutoffDate(); err != nil {
		return err
	}
	if _, err := s.MonthlyAmount(); err != nil {
		return err
	}
	if _, err := s.SigningFee(); err != nil {
		return err
	}
	if _, err := s.SiblingDiscount(); err != nil {
		return err
	}
	if s.ForcedStartMonth < 1 || s.ForcedStartMonth > 12 {
		return fmt.Errorf("forced start month %d out of range", s.ForcedStartMonth)
	}
	return nil
}

// CutoffDate parses the season policy cutoff.
func (s SeasonConfig) CutoffDate() (time.Time, error) {
	cutoff, err := time.Parse("2006-01-02", s.PolicyCutoffDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing season policy cutoff: %w", err)
	}
	return cutoff, nil
}

// MonthlyAmount parses the base monthly subscription amount.
func (s SeasonConfig) MonthlyAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s.BaseMonthlyAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing monthly amount: %w", err)
	}
	return amount, nil
}

// SigningFee parses the one-off signing-on fee amount.
func (s SeasonConfig) SigningFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(s.SigningFeeAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing signing fee: %w", err)
	}
	return fee, nil
}

// SiblingDiscount parses the sibling discount multiplier.
func (s SeasonConfig) SiblingDiscount() (decimal.Decimal, error) {
	factor, err := decimal.NewFromString(s.SiblingDiscountFactor)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing sibling discount: %w", err)
	}
	return factor, nil
}

// ChaseConfig drives the non-payment chase sweep thresholds.
type ChaseConfig struct {
	Interval        time.Duration `envconfig:"CLUBPAY_CHASE_INTERVAL" default:"24h"`
	FirstChaseDays  int           `envconfig:"CLUBPAY_CHASE_FIRST_DAYS" default:"3"`
	SecondChaseDays int           `envconfig:"CLUBPAY_CHASE_SECOND_DAYS" default:"5"`
	SuspendDays     int           `envconfig:"CLUBPAY_CHASE_SUSPEND_DAYS" default:"7"`
}

const (
	EnvDBDSN  = "CLUBPAY_DB_DSN"
	EnvDBHost = "CLUBPAY_DB_HOST"
	EnvDBUser = "CLUBPAY_DB_USER"
	EnvDBName = "CLUBPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
