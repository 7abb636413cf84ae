package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultAvatarURL = "https://i.pinimg.com/736x/22/48/0e/22480e75030c2722a99858b14c0d6e02.jpg"

// Config holds everything read from the environment.
type Config struct {
	Port       string
	BackendURL string

	// PushConnectURL is the SSE endpoint; LiveURL the websocket endpoint.
	// Both derive from BackendURL unless overridden.
	PushConnectURL string
	LiveURL        string

	DefaultAvatarURL string

	PushRetryDelay       time.Duration
	LiveReconnectDelay   time.Duration
	Heartbeat            time.Duration
	DeferredRefreshDelay time.Duration
	CloseRefreshDelay    time.Duration
}

// Load reads the configuration from environment variables, with defaults
// suitable for local development.
func Load() Config {
	backendURL := envOrDefault("BACKEND_URL", "http://localhost:8090")
	cfg := Config{
		Port:                 envOrDefault("PORT", "8080"),
		BackendURL:           backendURL,
		PushConnectURL:       envOrDefault("PUSH_URL", backendURL+"/api/v1/sse/connect"),
		LiveURL:              envOrDefault("LIVE_URL", wsScheme(backendURL)+"/ws"),
		DefaultAvatarURL:     envOrDefault("DEFAULT_AVATAR_URL", defaultAvatarURL),
		PushRetryDelay:       envDuration("PUSH_RETRY_DELAY_MS", 3000),
		LiveReconnectDelay:   envDuration("LIVE_RECONNECT_DELAY_MS", 5000),
		Heartbeat:            envDuration("HEARTBEAT_MS", 4000),
		DeferredRefreshDelay: envDuration("DEFERRED_REFRESH_DELAY_MS", 300),
		CloseRefreshDelay:    envDuration("CLOSE_REFRESH_DELAY_MS", 100),
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func envDuration(key string, fallbackMillis int) time.Duration {
	millis := fallbackMillis
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			millis = parsed
		}
	}
	return time.Duration(millis) * time.Millisecond
}

func wsScheme(url string) string {
	if strings.HasPrefix(url, "https") {
		return "wss" + strings.TrimPrefix(url, "https")
	}
	return "ws" + strings.TrimPrefix(url, "http")
}
