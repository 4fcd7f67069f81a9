package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultGatewayURL is the dev-mode gateway address used when nothing else
// is configured.
const DefaultGatewayURL = "http://127.0.0.1:8000"

// DefaultNotifyTimeout bounds fire-and-forget notification relays so they
// never block workflow progress.
const DefaultNotifyTimeout = 2 * time.Second

// Config holds gateway and worker configuration.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string
	// DatabasePath is the sqlite database file for the task store.
	DatabasePath string
	// MasterSecret signs control-API tokens.
	MasterSecret string
	// Debug enables verbose logging and gin debug mode.
	Debug bool
	// AllowedOrigins is the CORS origin allowlist.
	AllowedOrigins []string

	// GatewayURL is the base URL workers use to reach the gateway.
	GatewayURL string
	// GatewayToken is the shared secret for the internal relay endpoints.
	// Empty means the internal endpoints are unauthenticated (dev mode).
	GatewayToken string
	// NotifyTimeout bounds notification relays.
	NotifyTimeout time.Duration
	// RequestTimeout bounds synchronous request relays. Zero means no
	// timeout; the engine's own activity timeouts still apply.
	RequestTimeout time.Duration
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr           *string
	DatabasePath   *string
	MasterSecret   *string
	Debug          *bool
	GatewayURL     *string
	GatewayToken   *string
	NotifyTimeout  *time.Duration
	RequestTimeout *time.Duration
}

// Load loads configuration from a .env file (when present) and environment
// variables, then applies any explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	port := 8000
	if portStr := os.Getenv("PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil {
			port = p
		}
	}
	addr := fmt.Sprintf(":%d", port)
	if overrides.Addr != nil {
		addr = *overrides.Addr
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./taskgate.db"
	}
	if overrides.DatabasePath != nil {
		dbPath = *overrides.DatabasePath
	}

	masterSecret := os.Getenv("TASKGATE_MASTER_SECRET")
	if overrides.MasterSecret != nil {
		masterSecret = *overrides.MasterSecret
	}
	if masterSecret == "" {
		return nil, fmt.Errorf("TASKGATE_MASTER_SECRET environment variable is required")
	}

	debug := false
	if debugStr := os.Getenv("DEBUG"); debugStr == "true" || debugStr == "1" {
		debug = true
	}
	if overrides.Debug != nil {
		debug = *overrides.Debug
	}

	gatewayURL := os.Getenv("TASKGATE_GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	if overrides.GatewayURL != nil {
		gatewayURL = *overrides.GatewayURL
	}

	gatewayToken := os.Getenv("TASKGATE_GATEWAY_TOKEN")
	if overrides.GatewayToken != nil {
		gatewayToken = *overrides.GatewayToken
	}

	notifyTimeout := NotifyTimeoutFromEnv()
	if overrides.NotifyTimeout != nil {
		notifyTimeout = *overrides.NotifyTimeout
	}

	requestTimeout := RequestTimeoutFromEnv()
	if overrides.RequestTimeout != nil {
		requestTimeout = *overrides.RequestTimeout
	}

	return &Config{
		Addr:           addr,
		DatabasePath:   dbPath,
		MasterSecret:   masterSecret,
		Debug:          debug,
		AllowedOrigins: []string{"*"}, // Self-hosted deployments front their own proxy.
		GatewayURL:     gatewayURL,
		GatewayToken:   gatewayToken,
		NotifyTimeout:  notifyTimeout,
		RequestTimeout: requestTimeout,
	}, nil
}

// NotifyTimeoutFromEnv reads TASKGATE_NOTIFY_TIMEOUT (seconds, fractional
// allowed), defaulting to DefaultNotifyTimeout.
func NotifyTimeoutFromEnv() time.Duration {
	raw := os.Getenv("TASKGATE_NOTIFY_TIMEOUT")
	if raw == "" {
		return DefaultNotifyTimeout
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return DefaultNotifyTimeout
	}
	return time.Duration(secs * float64(time.Second))
}

// RequestTimeoutFromEnv reads TASKGATE_GATEWAY_REQUEST_TIMEOUT (seconds).
// Zero means unbounded: requests require a response and legitimately block
// until the upstream client answers.
func RequestTimeoutFromEnv() time.Duration {
	raw := os.Getenv("TASKGATE_GATEWAY_REQUEST_TIMEOUT")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
