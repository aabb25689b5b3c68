package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	JWTTTL    time.Duration

	// Empty RedisURL keeps room fan-out inside this process.
	RedisURL     string
	RedisChannel string
	InstanceID   string

	WSSendQueue        int
	WSHandshakeTimeout time.Duration
	WSPingInterval     time.Duration

	WorkerEnabled bool

	LogLevel  string
	LogFormat string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:          mustGetenv("DATABASE_URL"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",

		JWTTTL: getenvDuration("JWT_TTL", 7*24*time.Hour),

		RedisURL:     getenv("REDIS_URL", ""),
		RedisChannel: getenv("REDIS_CHANNEL", "taskflow:rooms"),
		InstanceID:   getenv("INSTANCE_ID", uuid.NewString()),

		WSSendQueue:        getenvInt("WS_SEND_QUEUE", 64),
		WSHandshakeTimeout: getenvDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		WSPingInterval:     getenvDuration("WS_PING_INTERVAL", 25*time.Second),

		WorkerEnabled: getenv("WORKER_ENABLED", "true") == "true",

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}

	origins := strings.Split(getenv("CORS_ALLOWED_ORIGINS", ""), ",")
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func getenvInt(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
