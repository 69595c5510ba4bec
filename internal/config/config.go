package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/sla"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	SLA          SLAConfig
	Notification NotificationConfig
	Audit        AuditConfig
	Sync         SyncConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"APP_NAME" env-default:"support-portal"`
	Env                   string `env:"APP_ENV" env-default:"development"`
	Host                  string `env:"APP_HOST" env-default:"0.0.0.0"`
	Port                  string `env:"APP_PORT" env-default:"8080"`
	Version               string `env:"APP_VERSION" env-default:"dev"`
	RequestTimeoutSeconds int    `env:"HTTP_REQUEST_TIMEOUT_SECONDS" env-default:"30"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `env:"POSTGRES_DSN"`
	MaxConns       int32  `env:"POSTGRES_MAX_CONNS" env-default:"10"`
	MinConns       int32  `env:"POSTGRES_MIN_CONNS" env-default:"2"`
	RunMigrations  bool   `env:"POSTGRES_RUN_MIGRATIONS" env-default:"true"`
	ConnMaxIdleSec int32  `env:"POSTGRES_CONN_MAX_IDLE_SECONDS" env-default:"30"`
	ConnMaxLifeSec int32  `env:"POSTGRES_CONN_MAX_LIFE_SECONDS" env-default:"300"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string `env:"LOG_LEVEL" env-default:"info"`
	Encoding    string `env:"LOG_ENCODING" env-default:"json"`
	Development bool   `env:"LOG_DEVELOPMENT" env-default:"false"`
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret             string `env:"AUTH_JWT_SECRET" env-default:"dev-secret"`
	AccessTokenTTLMinutes int    `env:"AUTH_ACCESS_TOKEN_TTL_MINUTES" env-default:"60"`
}

// SLAConfig holds the static part of the SLA policy.
type SLAConfig struct {
	UrgentWindow       time.Duration `env:"SLA_WINDOW_URGENT" env-default:"4h"`
	HighWindow         time.Duration `env:"SLA_WINDOW_HIGH" env-default:"24h"`
	MediumWindow       time.Duration `env:"SLA_WINDOW_MEDIUM" env-default:"48h"`
	LowWindow          time.Duration `env:"SLA_WINDOW_LOW" env-default:"72h"`
	PeakModeMultiplier int           `env:"SLA_PEAK_MULTIPLIER" env-default:"2"`
	PeakModeActive     bool          `env:"SLA_PEAK_MODE" env-default:"false"`
	MaxOpenTickets     int           `env:"SLA_MAX_OPEN_TICKETS" env-default:"5"`
	BreachScanInterval time.Duration `env:"SLA_BREACH_SCAN_INTERVAL" env-default:"1m"`
}

// NotificationConfig holds outbound channel endpoints.
type NotificationConfig struct {
	SMTPHost      string        `env:"NOTIFY_SMTP_HOST"`
	SMTPPort      int           `env:"NOTIFY_SMTP_PORT" env-default:"587"`
	SMTPUsername  string        `env:"NOTIFY_SMTP_USERNAME"`
	SMTPPassword  string        `env:"NOTIFY_SMTP_PASSWORD"`
	EmailFrom     string        `env:"NOTIFY_EMAIL_FROM" env-default:"noreply@example.com"`
	SMSGatewayURL string        `env:"NOTIFY_SMS_GATEWAY_URL"`
	SMSToken      string        `env:"NOTIFY_SMS_TOKEN"`
	SMSFrom       string        `env:"NOTIFY_SMS_FROM"`
	WhatsAppURL   string        `env:"NOTIFY_WHATSAPP_GATEWAY_URL"`
	WhatsAppToken string        `env:"NOTIFY_WHATSAPP_TOKEN"`
	WhatsAppFrom  string        `env:"NOTIFY_WHATSAPP_FROM"`
	SendTimeout   time.Duration `env:"NOTIFY_SEND_TIMEOUT" env-default:"10s"`
	QueueSize     int           `env:"NOTIFY_QUEUE_SIZE" env-default:"256"`
	PortalURL     string        `env:"NOTIFY_PORTAL_URL" env-default:"http://localhost:3000"`
}

// AuditConfig points the audit sink at RabbitMQ. Empty URL logs only.
type AuditConfig struct {
	RabbitURL  string `env:"AUDIT_RABBITMQ_URL"`
	Exchange   string `env:"AUDIT_RABBITMQ_EXCHANGE" env-default:"support.audit"`
	BufferSize int    `env:"AUDIT_BUFFER_SIZE" env-default:"512"`
}

// SyncConfig tunes conversation synchronization.
type SyncConfig struct {
	PollInterval time.Duration `env:"SYNC_POLL_INTERVAL" env-default:"5s"`
	Lookback     time.Duration `env:"SYNC_LOOKBACK" env-default:"2s"`
	TypingTTL    time.Duration `env:"SYNC_TYPING_TTL" env-default:"3s"`
}

// Load reads configuration from an optional .env file and environment
// variables, applying defaults from the struct tags.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}
	if _, err := cfg.SLA.Policy(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the bearer token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// Policy converts the static SLA settings into a validated policy.
func (s SLAConfig) Policy() (sla.Policy, error) {
	policy := sla.Policy{
		BaseWindows: map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityUrgent: s.UrgentWindow,
			domain.TicketPriorityHigh:   s.HighWindow,
			domain.TicketPriorityMedium: s.MediumWindow,
			domain.TicketPriorityLow:    s.LowWindow,
		},
		PeakModeMultiplier: s.PeakModeMultiplier,
		PeakModeActive:     s.PeakModeActive,
		MaxOpenTickets:     s.MaxOpenTickets,
	}
	if err := policy.Validate(); err != nil {
		return sla.Policy{}, err
	}
	return policy, nil
}
