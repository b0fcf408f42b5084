// Package config reads the client configuration from the environment.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend
	APIURL      string
	HTTPTimeout time.Duration

	// Local state (auth token and persisted payloads)
	StateDB string

	// Cache
	CacheMaxEntries int
	RedisAddr       string
	RedisPrefix     string
	CacheBloom      bool

	// Invalidation bus
	AMQPURL      string
	AMQPExchange string

	// Queries
	QueryRetry      int
	QueryRetryDelay time.Duration

	// Inspection API (serve)
	APIAddr string

	// invalid holds values that were set but did not parse.
	invalid []string
}

func Load() *Config {
	cfg := &Config{}

	cfg.APIURL = getEnv("FINANCE_API_URL", "http://localhost:8000/api/v1")
	cfg.HTTPTimeout = cfg.getEnvDuration("FINANCE_HTTP_TIMEOUT", 10*time.Second)
	cfg.StateDB = getEnv("FINANCE_STATE_DB", "./data/finclient.db")

	cfg.CacheMaxEntries = cfg.getEnvInt("CACHE_MAX_ENTRIES", 1000)
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPrefix = getEnv("REDIS_PREFIX", "finclient:")
	cfg.CacheBloom = cfg.getEnvBool("CACHE_BLOOM", false)

	cfg.AMQPURL = getEnv("AMQP_URL", "")
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", "finance.invalidations")

	cfg.QueryRetry = cfg.getEnvInt("QUERY_RETRY", 2)
	cfg.QueryRetryDelay = cfg.getEnvDuration("QUERY_RETRY_DELAY", time.Second)

	cfg.APIAddr = getEnv("API_ADDR", "127.0.0.1:8090")

	return cfg
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.invalid...)

	if c.APIURL == "" {
		problems = append(problems, "FINANCE_API_URL cannot be empty")
	} else if u, err := url.Parse(c.APIURL); err != nil {
		problems = append(problems, fmt.Sprintf("invalid FINANCE_API_URL '%s': %v", c.APIURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		problems = append(problems, fmt.Sprintf("invalid FINANCE_API_URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	} else if u.Host == "" {
		problems = append(problems, fmt.Sprintf("invalid FINANCE_API_URL '%s': missing host", c.APIURL))
	}

	if c.HTTPTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("invalid http timeout %v: must be positive", c.HTTPTimeout))
	}

	if c.StateDB == "" {
		problems = append(problems, "FINANCE_STATE_DB cannot be empty")
	}

	if c.CacheMaxEntries < 0 {
		problems = append(problems, fmt.Sprintf("invalid cache size %d: must not be negative", c.CacheMaxEntries))
	}

	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			problems = append(problems, fmt.Sprintf("invalid REDIS_ADDR '%s': %v", c.RedisAddr, err))
		}
	}
	if c.CacheBloom && c.RedisAddr == "" {
		problems = append(problems, "CACHE_BLOOM requires REDIS_ADDR")
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.QueryRetry > 10 {
		problems = append(problems, fmt.Sprintf("invalid query retry %d: must be at most 10", c.QueryRetry))
	}
	if c.QueryRetryDelay < 0 || c.QueryRetryDelay > 30*time.Second {
		problems = append(problems, fmt.Sprintf("invalid query retry delay %v: must be between 0 and 30s", c.QueryRetryDelay))
	}

	if c.APIAddr != "" {
		if _, port, err := net.SplitHostPort(c.APIAddr); err != nil {
			problems = append(problems, fmt.Sprintf("invalid API_ADDR '%s': %v", c.APIAddr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
			problems = append(problems, fmt.Sprintf("invalid API_ADDR port '%s': must be between 0 and 65535", port))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("invalid %s '%s': must be a number", key, value))
		return defaultValue
	}
	return i
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("invalid %s '%s': must be a duration like 10s", key, value))
		return defaultValue
	}
	return d
}

func (c *Config) getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		c.invalid = append(c.invalid, fmt.Sprintf("invalid %s '%s': must be true or false", key, value))
		return defaultValue
	}
	return b
}
