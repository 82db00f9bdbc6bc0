package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBDSN     string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Provider detection
	DetectProbeTimeout time.Duration
	DetectCacheTTL     time.Duration

	// Event broadcast
	RabbitURL   string
	RabbitQueue string

	HTTPAddr string
}

func Load() Config {
	// Empty DSN means local sqlite (see internal/db).
	dsn := os.Getenv("DB_DSN")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	// Empty means the in-process detection cache.
	redisAddr := os.Getenv("REDIS_ADDR")

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	probeTimeout := 5 * time.Second
	if v := os.Getenv("DETECT_PROBE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			probeTimeout = time.Duration(n) * time.Second
		}
	}

	cacheTTL := 24 * time.Hour
	if v := os.Getenv("DETECT_CACHE_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cacheTTL = time.Duration(n) * time.Hour
		}
	}

	// Empty means events stay in-process.
	rabbitURL := os.Getenv("RABBIT_URL")
	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_events"
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	return Config{
		DBDSN:     dsn,
		JWTSecret: secret,

		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		DetectProbeTimeout: probeTimeout,
		DetectCacheTTL:     cacheTTL,

		RabbitURL:   rabbitURL,
		RabbitQueue: rabbitQueue,

		HTTPAddr: httpAddr,
	}
}
