package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	AllowedOrigins []string
	JWTSecret      string
	TokenTTL       time.Duration
	PeerTTL        time.Duration
	Redis          RedisConfig
	Client         ClientConfig
}

type RedisConfig struct {
	// Store selects the presence backend: "redis" or "memory"
	Store    string
	Host     string
	Port     string
	Password string
	DB       int
}

// ClientConfig configures the screen share client
type ClientConfig struct {
	SignalURL         string
	ListenAddr        string
	DialTimeout       time.Duration
	ReconnectAttempts int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173,http://127.0.0.1:7070")
	var origins []string
	for _, origin := range strings.Split(originsStr, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTL:       getEnvDuration("TOKEN_TTL", 24*time.Hour),
		PeerTTL:        getEnvDuration("PEER_TTL", 24*time.Hour),
		Redis: RedisConfig{
			Store:    getEnv("PRESENCE_STORE", "redis"),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Client: ClientConfig{
			SignalURL:         getEnv("SIGNAL_URL", "http://localhost:8080"),
			ListenAddr:        getEnv("LISTEN_ADDR", "127.0.0.1:7070"),
			DialTimeout:       getEnvDuration("DIAL_TIMEOUT", 18*time.Second),
			ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", 5),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
