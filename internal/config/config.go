package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	SQLitePath             string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBConnMaxLifetime      time.Duration
	AllowNegativeStock     bool
	BatchTimeout           time.Duration
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	IdempotencyTTL         time.Duration
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	BootstrapAdminUsername string
	BootstrapAdminPassword string
	PrometheusEnabled      bool
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SQLitePath:             getEnv("SQLITE_PATH", "posledger.db"),
		DBMaxOpenConns:         getPositiveInt("DB_MAX_OPEN_CONNS", 30),
		DBMaxIdleConns:         getPositiveInt("DB_MAX_IDLE_CONNS", 8),
		DBConnMaxLifetime:      time.Duration(getPositiveInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		AllowNegativeStock:     getBool("ALLOW_NEGATIVE_STOCK", true),
		BatchTimeout:           time.Duration(getPositiveInt("BATCH_TIMEOUT_SECONDS", 5)) * time.Second,
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		IdempotencyTTL:         time.Duration(getPositiveInt("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  tokenTTL,
		ManagerPIN:             strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		BootstrapAdminUsername: strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_USERNAME")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		PrometheusEnabled:      getBool("PROMETHEUS_ENABLED", false),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}
