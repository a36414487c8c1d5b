package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	IdentityURL        string
	JWTSecret          string
	TokenCookieMaxAge  time.Duration
	CookieSecure       bool
	RedisAddr          string
	RedisPassword      string
	IdentityTimeout    time.Duration
	IdentityRetryDelay time.Duration
	LoginRatePerMinute int
	TrustedProxies     []string
	LogDevelopment     bool
}

// Load reads the portal configuration from the environment. JWT_SECRET has no
// default: an empty secret makes the gate deny every protected request.
func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":3000"),
		IdentityURL:        strings.TrimRight(getenv("IDENTITY_URL", "http://localhost:5000"), "/"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		TokenCookieMaxAge:  getenvDuration("TOKEN_COOKIE_MAX_AGE", time.Hour),
		CookieSecure:       getenvBool("COOKIE_SECURE", false),
		RedisAddr:          getenv("REDIS_ADDR", ""),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		IdentityTimeout:    getenvDuration("IDENTITY_TIMEOUT", 10*time.Second),
		IdentityRetryDelay: getenvDuration("IDENTITY_RETRY_DELAY", 250*time.Millisecond),
		LoginRatePerMinute: getenvInt("LOGIN_RATE_PER_MINUTE", 10),
		TrustedProxies:     getenvList("TRUSTED_PROXIES"),
		LogDevelopment:     getenvBool("LOG_DEVELOPMENT", false),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

// getenvList splits a comma-separated value, dropping empty items.
func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
