package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Polling      PollingConfig
	StatusCheck  StatusCheckConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.FeatureFlags.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PAYRECON_APP_ENV" required:"true"`
	Port         string `envconfig:"PAYRECON_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PAYRECON_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PAYRECON_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PAYRECON_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"PAYRECON_DB_DSN"`
	Driver string `envconfig:"PAYRECON_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PAYRECON_DB_HOST"`
	LegacyPort     int    `envconfig:"PAYRECON_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PAYRECON_DB_USER"`
	LegacyPassword string `envconfig:"PAYRECON_DB_PASSWORD"`
	LegacyName     string `envconfig:"PAYRECON_DB_NAME"`
	LegacySSLMode  string `envconfig:"PAYRECON_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PAYRECON_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PAYRECON_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PAYRECON_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PAYRECON_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PAYRECON_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PAYRECON_REDIS_ADDR"`
	Password     string        `envconfig:"PAYRECON_REDIS_PASSWORD"`
	DB           int           `envconfig:"PAYRECON_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PAYRECON_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PAYRECON_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PAYRECON_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PAYRECON_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PAYRECON_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool   `envconfig:"PAYRECON_AUTO_MIGRATE" default:"false"`
	LockBackend string `envconfig:"PAYRECON_LOCK_BACKEND" default:"memory"`
	// LockTTL bounds how long a distributed per-order lock may be held.
	LockTTL time.Duration `envconfig:"PAYRECON_LOCK_TTL" default:"15s"`
}

func (f FeatureFlagsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.LockBackend)) {
	case LockBackendMemory, LockBackendRedis:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvLockBackend, LockBackendMemory, LockBackendRedis)
	}
}

// GatewayConfig describes the signed HTTP payment gateway. The raw status
// code lists drive normalization of provider codes.
type GatewayConfig struct {
	Enabled     bool          `envconfig:"PAYRECON_GATEWAY_ENABLED" default:"false"`
	MerchantID  string        `envconfig:"PAYRECON_GATEWAY_MERCHANT_ID"`
	Secret      string        `envconfig:"PAYRECON_GATEWAY_SECRET"`
	BaseURL     string        `envconfig:"PAYRECON_GATEWAY_BASE_URL"`
	PaymentPath string        `envconfig:"PAYRECON_GATEWAY_PAYMENT_PATH" default:"/pay"`
	StatusPath  string        `envconfig:"PAYRECON_GATEWAY_STATUS_PATH" default:"/api/status"`
	CallbackURL string        `envconfig:"PAYRECON_GATEWAY_CALLBACK_URL"`
	ReturnURL   string        `envconfig:"PAYRECON_GATEWAY_RETURN_URL"`
	Currency    string        `envconfig:"PAYRECON_GATEWAY_CURRENCY" default:"USD"`
	Timeout     time.Duration `envconfig:"PAYRECON_GATEWAY_TIMEOUT" default:"10s"`

	SuccessCodes   []string `envconfig:"PAYRECON_GATEWAY_SUCCESS_CODES" default:"00"`
	PendingCodes   []string `envconfig:"PAYRECON_GATEWAY_PENDING_CODES" default:"01,09"`
	DeclinedCodes  []string `envconfig:"PAYRECON_GATEWAY_DECLINED_CODES" default:"05,51,54"`
	CancelledCodes []string `envconfig:"PAYRECON_GATEWAY_CANCELLED_CODES" default:"24"`
}

func (g GatewayConfig) validate() error {
	if !g.Enabled {
		return nil
	}
	missing := []string{}
	if strings.TrimSpace(g.MerchantID) == "" {
		missing = append(missing, EnvGatewayMerchantID)
	}
	if g.Secret == "" {
		missing = append(missing, EnvGatewaySecret)
	}
	if strings.TrimSpace(g.BaseURL) == "" {
		missing = append(missing, EnvGatewayBaseURL)
	}
	if strings.TrimSpace(g.CallbackURL) == "" {
		missing = append(missing, EnvGatewayCallback)
	}
	if len(missing) > 0 {
		return fmt.Errorf("gateway enabled but %s not set", strings.Join(missing, ", "))
	}
	return nil
}

type PollingConfig struct {
	Interval       time.Duration `envconfig:"PAYRECON_POLLING_INTERVAL" default:"15s"`
	InitialDelay   time.Duration `envconfig:"PAYRECON_POLLING_INITIAL_DELAY" default:"10s"`
	MaxAttempts    int           `envconfig:"PAYRECON_POLLING_MAX_ATTEMPTS" default:"40"`
	Window         time.Duration `envconfig:"PAYRECON_POLLING_WINDOW" default:"15m"`
	BackoffInitial time.Duration `envconfig:"PAYRECON_POLLING_BACKOFF_INITIAL" default:"5s"`
	BackoffMax     time.Duration `envconfig:"PAYRECON_POLLING_BACKOFF_MAX" default:"2m"`
	BackoffJitter  float64       `envconfig:"PAYRECON_POLLING_BACKOFF_JITTER" default:"0.2"`
	MaxConcurrent  int64         `envconfig:"PAYRECON_POLLING_MAX_CONCURRENT" default:"16"`
	ResumeOnBoot   bool          `envconfig:"PAYRECON_POLLING_RESUME_ON_BOOT" default:"true"`
}

type StatusCheckConfig struct {
	Window time.Duration `envconfig:"PAYRECON_STATUS_CHECK_WINDOW" default:"1m"`
	Limit  int           `envconfig:"PAYRECON_STATUS_CHECK_LIMIT" default:"6"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PAYRECON_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"PAYRECON_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PAYRECON_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentTopic string `envconfig:"PAYRECON_PUBSUB_PAYMENT_TOPIC" default:"payrecon-payment-events"`
	ReviewTopic  string `envconfig:"PAYRECON_PUBSUB_REVIEW_TOPIC" default:"payrecon-review-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"PAYRECON_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"PAYRECON_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"PAYRECON_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"PAYRECON_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"PAYRECON_CRON_INTERVAL" default:"1m"`
	LockTTL            time.Duration `envconfig:"PAYRECON_CRON_LOCK_TTL" default:"5m"`
	StaleLedgerGrace   time.Duration `envconfig:"PAYRECON_CRON_STALE_LEDGER_GRACE" default:"30m"`
	StaleLedgerBatch   int           `envconfig:"PAYRECON_CRON_STALE_LEDGER_BATCH" default:"200"`
	AuditRetentionDays int           `envconfig:"PAYRECON_CRON_AUDIT_RETENTION_DAYS" default:"90"`
}

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
