package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	JWT            JWTConfig
	RateLimit      RateLimitConfig
	FeatureFlags   FeatureFlagsConfig
	Eventing       EventingConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	Kafka          KafkaConfig
	Outbox         OutboxConfig
	Payments       PaymentsConfig
	Wallet         WalletConfig
	BankQR         BankQRConfig
	BankWebhook    BankWebhookConfig
	Reconciliation ReconciliationConfig
	Realtime       RealtimeConfig
	Carrier        CarrierConfig
	Mail           MailConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const minProdJWTSecret = 32

func (c *Config) validate() error {
	switch c.Eventing.Broker {
	case BrokerPubSub:
	case BrokerKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("%s is required when %s=%s", EnvKafkaBrokers, EnvEventingBroker, BrokerKafka)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvEventingBroker, c.Eventing.Broker)
	}
	if c.App.IsProd() && len(c.JWT.Secret) < minProdJWTSecret {
		return fmt.Errorf("%s must be at least %d bytes in %s", EnvJWTSecret, minProdJWTSecret, AppEnvProd)
	}
	if c.Wallet.Enabled && strings.TrimSpace(c.Wallet.SecretKey) == "" {
		return fmt.Errorf("%s is required when the wallet gateway is enabled", EnvWalletSecret)
	}
	if c.BankWebhook.Enabled && strings.TrimSpace(c.BankWebhook.SigningSecret) == "" {
		return fmt.Errorf("%s is required when the bank webhook gateway is enabled", EnvBankWebhookSecret)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"ORDERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERFLOW_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"ORDERFLOW_APP_PUBLIC_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"ORDERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERFLOW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ORDERFLOW_APP_CORS_ORIGINS"`
	// MetricsAddr serves /metrics from the worker processes. Empty disables it.
	MetricsAddr string `envconfig:"ORDERFLOW_METRICS_ADDR"`

	// Replay windows for Idempotency-Key. Placement keeps its record longer
	// because clients retry checkout across app restarts.
	IdempotencyTTL      time.Duration `envconfig:"ORDERFLOW_APP_IDEMPOTENCY_TTL" default:"24h"`
	PlaceIdempotencyTTL time.Duration `envconfig:"ORDERFLOW_APP_PLACE_IDEMPOTENCY_TTL" default:"168h"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ORDERFLOW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERFLOW_DB_DSN"`
	Driver string `envconfig:"ORDERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"ORDERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ORDERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"ORDERFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ORDERFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ORDERFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	Window               time.Duration `envconfig:"ORDERFLOW_RATE_LIMIT_WINDOW" default:"1m"`
	PlaceOrderIPLimit    int           `envconfig:"ORDERFLOW_RATE_LIMIT_PLACE_ORDER_IP" default:"60"`
	PlaceOrderUserLimit  int           `envconfig:"ORDERFLOW_RATE_LIMIT_PLACE_ORDER_USER" default:"10"`
	PaymentStatusIPLimit int           `envconfig:"ORDERFLOW_RATE_LIMIT_PAYMENT_STATUS_IP" default:"120"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ORDERFLOW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	Broker               string        `envconfig:"ORDERFLOW_EVENTING_BROKER" default:"pubsub"`
	OutboxIdempotencyTTL time.Duration `envconfig:"ORDERFLOW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	// ConsumerLease is how long a worker may hold an event before another
	// worker is allowed to take it over.
	ConsumerLease time.Duration `envconfig:"ORDERFLOW_EVENTING_CONSUMER_LEASE" default:"2m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERFLOW_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ORDERFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic               string `envconfig:"ORDERFLOW_PUBSUB_ORDERS_TOPIC" default:"orderflow-orders"`
	RealtimeSubscription      string `envconfig:"ORDERFLOW_PUBSUB_REALTIME_SUBSCRIPTION" default:"orderflow-orders-realtime"`
	NotificationSubscription  string `envconfig:"ORDERFLOW_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"orderflow-orders-notifications"`
	AnalyticsSubscription     string `envconfig:"ORDERFLOW_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"orderflow-orders-analytics"`
	ReceiveMaxOutstanding     int    `envconfig:"ORDERFLOW_PUBSUB_MAX_OUTSTANDING" default:"32"`
	VerifySubscriptionsOnBoot bool   `envconfig:"ORDERFLOW_PUBSUB_VERIFY_SUBSCRIPTIONS" default:"true"`
}

type BigQueryConfig struct {
	Enabled          bool   `envconfig:"ORDERFLOW_BIGQUERY_ENABLED" default:"false"`
	Dataset          string `envconfig:"ORDERFLOW_BIGQUERY_DATASET" default:"orderflow"`
	OrderEventsTable string `envconfig:"ORDERFLOW_BIGQUERY_ORDER_EVENTS_TABLE" default:"order_status_events"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"ORDERFLOW_KAFKA_BROKERS"`
	OrdersTopic   string   `envconfig:"ORDERFLOW_KAFKA_ORDERS_TOPIC" default:"orderflow.orders"`
	ConsumerGroup string   `envconfig:"ORDERFLOW_KAFKA_CONSUMER_GROUP" default:"orderflow-worker"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ORDERFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ORDERFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"ORDERFLOW_OUTBOX_RETENTION" default:"720h"`
}

// PaymentsConfig holds the TTL applied to each prepaid method and the
// idempotency window of inbound callbacks.
type PaymentsConfig struct {
	WalletTTL        time.Duration `envconfig:"ORDERFLOW_PAYMENTS_WALLET_TTL" default:"15m"`
	BankQRTTL        time.Duration `envconfig:"ORDERFLOW_PAYMENTS_BANK_QR_TTL" default:"15m"`
	BankWebhookTTL   time.Duration `envconfig:"ORDERFLOW_PAYMENTS_BANK_WEBHOOK_TTL" default:"24h"`
	CallbackGuardTTL time.Duration `envconfig:"ORDERFLOW_PAYMENTS_CALLBACK_GUARD_TTL" default:"72h"`
	// CallbackGuardLease bounds how long a crashed delivery blocks redelivery.
	CallbackGuardLease time.Duration `envconfig:"ORDERFLOW_PAYMENTS_CALLBACK_GUARD_LEASE" default:"30s"`
	StatusPollWindow   time.Duration `envconfig:"ORDERFLOW_PAYMENTS_STATUS_POLL_WINDOW" default:"5s"`
	QueryRatePerSec    float64       `envconfig:"ORDERFLOW_PAYMENTS_QUERY_RATE_PER_SEC" default:"5"`
	QueryTimeout       time.Duration `envconfig:"ORDERFLOW_PAYMENTS_QUERY_TIMEOUT" default:"10s"`
	SignatureMaxSkew   time.Duration `envconfig:"ORDERFLOW_PAYMENTS_SIGNATURE_MAX_SKEW" default:"5m"`
}

type WalletConfig struct {
	Enabled     bool   `envconfig:"ORDERFLOW_WALLET_ENABLED" default:"true"`
	PartnerCode string `envconfig:"ORDERFLOW_WALLET_PARTNER_CODE" default:"ORDERFLOW"`
	SecretKey   string `envconfig:"ORDERFLOW_WALLET_SECRET"`
	PayURL      string `envconfig:"ORDERFLOW_WALLET_PAY_URL" default:"https://wallet.example.com/v2/pay"`
	APIBaseURL  string `envconfig:"ORDERFLOW_WALLET_API_BASE_URL"`
	ReturnURL   string `envconfig:"ORDERFLOW_WALLET_RETURN_URL" default:"http://localhost:8080/api/v1/payments/wallet/return"`
}

type BankQRConfig struct {
	Enabled          bool   `envconfig:"ORDERFLOW_BANK_QR_ENABLED" default:"true"`
	BankCode         string `envconfig:"ORDERFLOW_BANK_QR_BANK_CODE" default:"970436"`
	AccountNumber    string `envconfig:"ORDERFLOW_BANK_QR_ACCOUNT_NUMBER" default:"0000000000"`
	AccountName      string `envconfig:"ORDERFLOW_BANK_QR_ACCOUNT_NAME" default:"ORDERFLOW"`
	AggregatorURL    string `envconfig:"ORDERFLOW_BANK_QR_AGGREGATOR_URL"`
	AggregatorAPIKey string `envconfig:"ORDERFLOW_BANK_QR_AGGREGATOR_API_KEY"`
	WebhookSecret    string `envconfig:"ORDERFLOW_BANK_QR_WEBHOOK_SECRET"`
	QRSize           int    `envconfig:"ORDERFLOW_BANK_QR_IMAGE_SIZE" default:"256"`
}

type BankWebhookConfig struct {
	Enabled       bool   `envconfig:"ORDERFLOW_BANK_WEBHOOK_ENABLED" default:"true"`
	SigningSecret string `envconfig:"ORDERFLOW_BANK_WEBHOOK_SECRET"`
	APIBaseURL    string `envconfig:"ORDERFLOW_BANK_WEBHOOK_API_BASE_URL"`
	APIKey        string `envconfig:"ORDERFLOW_BANK_WEBHOOK_API_KEY"`
	BeneficiaryID string `envconfig:"ORDERFLOW_BANK_WEBHOOK_BENEFICIARY" default:"ORDERFLOW"`
}

type ReconciliationConfig struct {
	IntervalSeconds int           `envconfig:"ORDERFLOW_RECONCILE_INTERVAL_SECONDS" default:"30"`
	GracePeriod     time.Duration `envconfig:"ORDERFLOW_RECONCILE_GRACE_PERIOD" default:"2m"`
	BatchSize       int           `envconfig:"ORDERFLOW_RECONCILE_BATCH_SIZE" default:"100"`
	Concurrency     int           `envconfig:"ORDERFLOW_RECONCILE_CONCURRENCY" default:"4"`
	MaxAttempts     uint64        `envconfig:"ORDERFLOW_RECONCILE_MAX_ATTEMPTS" default:"4"`
	BaseBackoff     time.Duration `envconfig:"ORDERFLOW_RECONCILE_BASE_BACKOFF" default:"500ms"`
	LockTTL         time.Duration `envconfig:"ORDERFLOW_RECONCILE_LOCK_TTL" default:"5m"`
}

// Interval returns the configured tick as a duration.
func (r ReconciliationConfig) Interval() time.Duration {
	if r.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.IntervalSeconds) * time.Second
}

type RealtimeConfig struct {
	PingInterval   time.Duration `envconfig:"ORDERFLOW_REALTIME_PING_INTERVAL" default:"30s"`
	SubscriberBuf  int           `envconfig:"ORDERFLOW_REALTIME_SUBSCRIBER_BUFFER" default:"16"`
	DispatchDedup  time.Duration `envconfig:"ORDERFLOW_REALTIME_DISPATCH_DEDUP_TTL" default:"24h"`
	AllowedOrigins []string      `envconfig:"ORDERFLOW_REALTIME_ALLOWED_ORIGINS"`
}

type CarrierConfig struct {
	BaseFee          int64    `envconfig:"ORDERFLOW_CARRIER_BASE_FEE" default:"15000"`
	PerKgFee         int64    `envconfig:"ORDERFLOW_CARRIER_PER_KG_FEE" default:"5000"`
	VolumetricFactor int      `envconfig:"ORDERFLOW_CARRIER_VOLUMETRIC_DIVISOR" default:"5000"`
	RemoteSurcharge  float64  `envconfig:"ORDERFLOW_CARRIER_REMOTE_SURCHARGE" default:"0.2"`
	RemoteProvinces  []string `envconfig:"ORDERFLOW_CARRIER_REMOTE_PROVINCES"`
}

type MailConfig struct {
	Enabled  bool   `envconfig:"ORDERFLOW_MAIL_ENABLED" default:"false"`
	Host     string `envconfig:"ORDERFLOW_SMTP_HOST"`
	Port     int    `envconfig:"ORDERFLOW_SMTP_PORT" default:"587"`
	Username string `envconfig:"ORDERFLOW_SMTP_USERNAME"`
	Password string `envconfig:"ORDERFLOW_SMTP_PASSWORD"`
	From     string `envconfig:"ORDERFLOW_MAIL_FROM" default:"orders@orderflow.local"`
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
