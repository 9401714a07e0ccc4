package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DispatchConfig holds the operational tuning of the offer coordinator and
// its collaborators. The search-radius policy and decision window are
// deployment knobs, not constants: they only need to be bounded and, for the
// radius, monotonically widening.
type DispatchConfig struct {
	OfferWindow    time.Duration // decision window per offer
	InitialRadiusM float64       // first candidate search radius
	RadiusGrowth   float64       // multiplier applied per re-scan
	MaxRescans     int           // re-scans after the initial scan
	RescanDelay    time.Duration // pause between empty scans

	StalenessWindow time.Duration // positions older than this are unknown
	AvgSpeedMps     float64       // ETA speed model
	EtaFloorSec     float64       // minimum reported ETA for nonzero distance
}

// ServerConfig captures all tunable parameters for the engine process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaEventTopic string

	AMQPURL      string
	AMQPExchange string

	// Road ETA provider; empty endpoint means straight-line estimates only.
	OSRMEndpoint string
	EtaCacheTTL  time.Duration

	PGDSN string

	Dispatch DispatchConfig

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "agents_geo",
		KafkaTopic:      "agent-positions",
		KafkaEventTopic: "dispatch-events",
		AMQPExchange:    "dispatch.events",
		EtaCacheTTL:     30 * time.Second,
		Dispatch: DispatchConfig{
			OfferWindow:     15 * time.Second,
			InitialRadiusM:  2000,
			RadiusGrowth:    2.0,
			MaxRescans:      3,
			RescanDelay:     5 * time.Second,
			StalenessWindow: 30 * time.Second,
			AvgSpeedMps:     10,
			EtaFloorSec:     60,
		},
		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaEventTopic, "KAFKA_EVENT_TOPIC")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.EtaCacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.Dispatch.OfferWindow, "DISPATCH_OFFER_WINDOW", &errs)
	setFloatFromEnv(&cfg.Dispatch.InitialRadiusM, "DISPATCH_INITIAL_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.Dispatch.RadiusGrowth, "DISPATCH_RADIUS_GROWTH", &errs)
	setIntFromEnv(&cfg.Dispatch.MaxRescans, "DISPATCH_MAX_RESCANS", &errs)
	setDurationFromEnv(&cfg.Dispatch.RescanDelay, "DISPATCH_RESCAN_DELAY", &errs)
	setDurationFromEnv(&cfg.Dispatch.StalenessWindow, "POSITION_STALENESS", &errs)
	setFloatFromEnv(&cfg.Dispatch.AvgSpeedMps, "ETA_AVG_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.Dispatch.EtaFloorSec, "ETA_FLOOR_SECONDS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.Dispatch.OfferWindow <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_OFFER_WINDOW must be > 0"))
	}
	if cfg.Dispatch.InitialRadiusM <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_INITIAL_RADIUS_M must be > 0"))
	}
	if cfg.Dispatch.RadiusGrowth < 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_GROWTH must be >= 1"))
	}
	if cfg.Dispatch.MaxRescans < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_RESCANS must be >= 0"))
	}
	if cfg.Dispatch.StalenessWindow <= 0 {
		errs = append(errs, fmt.Errorf("POSITION_STALENESS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
