package app

import (
	"time"

	"motionhub/cmd/internal/realtime"
	"motionhub/cmd/internal/timeseries"
)

// Config contains the server runtime configuration loaded from MOTION_* environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// DatabaseURL selects Postgres. Empty runs on in-memory stores.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, MOTION_TOKEN_HMAC_KEY must be set and opaque tokens are stored as HMAC digests.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	OwnerConflict        string
	IngestAllowAnonymous bool
	SeedFile             string

	Kafka  realtime.KafkaConfig
	Influx timeseries.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MOTION_HTTP_ADDR", "0.0.0.0:8000"),
		LogLevel:  EnvString("MOTION_LOG_LEVEL", "info"),
		LogFormat: EnvString("MOTION_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MOTION_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MOTION_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MOTION_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MOTION_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("MOTION_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    EnvInt("MOTION_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("MOTION_DATABASE_URL", ""),
		DBSchema:    EnvString("MOTION_DB_SCHEMA", "motion"),
		DBMaxConns:  EnvInt32("MOTION_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MOTION_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("MOTION_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("MOTION_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("MOTION_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("MOTION_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("MOTION_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("MOTION_CORS_MAX_AGE_SECONDS", 600),

		OwnerConflict:        EnvString("MOTION_ON_OWNER_CONFLICT", "reject"),
		IngestAllowAnonymous: EnvBool("MOTION_INGEST_ALLOW_ANONYMOUS", false),
		SeedFile:             EnvString("MOTION_SEED_FILE", ""),

		Kafka: realtime.KafkaConfig{
			Brokers:      EnvCSV("MOTION_KAFKA_BROKERS", nil),
			Topic:        EnvString("MOTION_KAFKA_TOPIC", "motion.broadcast"),
			GroupPrefix:  EnvString("MOTION_KAFKA_GROUP_PREFIX", "motionhub"),
			WriteTimeout: EnvDuration("MOTION_KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Influx: timeseries.Config{
			URL:          EnvString("MOTION_INFLUX_URL", ""),
			Token:        EnvString("MOTION_INFLUX_TOKEN", ""),
			Org:          EnvString("MOTION_INFLUX_ORG", ""),
			Bucket:       EnvString("MOTION_INFLUX_BUCKET", ""),
			WriteTimeout: EnvDuration("MOTION_INFLUX_WRITE_TIMEOUT", 3*time.Second),
		},
	}
}
