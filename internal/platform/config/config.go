package config

import (
	"os"
	"strings"
	"time"
)

// Server captures process level configuration. Policy content (rosters,
// lists, profiles) lives in the policy file, not here.
type Server struct {
	Addr            string
	PolicyPath      string
	PostgresDSN     string
	Redis           RedisConfig
	KafkaBrokers    []string
	TokenSigningKey string
	AdminToken      string
	OutboxInterval  time.Duration
}

// RedisConfig captures Redis connection settings. An empty URL disables
// Redis and stores fall back to in-memory implementations.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("BUILDGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	policyPath := os.Getenv("BUILDGATE_POLICY_PATH")
	if policyPath == "" {
		policyPath = "policy.yaml"
	}

	signingKey := os.Getenv("BUILDGATE_TOKEN_SIGNING_KEY")
	if signingKey == "" {
		// Development default, must be overridden in production
		signingKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("BUILDGATE_KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	outboxInterval := 2 * time.Second
	if raw := os.Getenv("BUILDGATE_OUTBOX_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			outboxInterval = d
		}
	}

	return Server{
		Addr:            addr,
		PolicyPath:      policyPath,
		PostgresDSN:     os.Getenv("BUILDGATE_POSTGRES_DSN"),
		Redis:           redisFromEnv(),
		KafkaBrokers:    brokers,
		TokenSigningKey: signingKey,
		AdminToken:      os.Getenv("BUILDGATE_ADMIN_TOKEN"),
		OutboxInterval:  outboxInterval,
	}
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("BUILDGATE_REDIS_URL"),
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
