package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32
	wsDefaultWriteTimeout  = 5 * time.Second

	// Embedded devices connect without an Origin header; browsers send one and are checked against
	// the allowlist.
	wsDefaultOriginRequired = false
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig tunes the websocket gateway.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string
	// InsecureSkipVerify disables the websocket library's own origin check. Development only.
	InsecureSkipVerify bool

	WriteTimeout time.Duration
	// ReadIdleTimeout closes sessions that send nothing for this long. Zero disables it, which
	// suits dashboards that only listen; heartbeats still detect dead peers.
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	// Diagnostics adds the underlying error text to error replies.
	Diagnostics bool
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// GatewayConfigFromEnv reads MOTION_WS_* overrides on top of the defaults. Invalid values keep the
// default.
func GatewayConfigFromEnv() GatewayConfig {
	c := DefaultGatewayConfig()
	c.InsecureSkipVerify = envBoolWS("MOTION_WS_DEV_INSECURE", false)
	c.OriginRequired = envBoolWS("MOTION_WS_ORIGIN_REQUIRED", c.OriginRequired)
	c.AllowedOrigins = envCSVWS("MOTION_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	c.WriteTimeout = envDurationWS("MOTION_WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = envDurationWS("MOTION_WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = envIntWS("MOTION_WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatEvery = envDurationWS("MOTION_WS_HEARTBEAT_INTERVAL", c.HeartbeatEvery)
	c.HeartbeatTimeout = envDurationWS("MOTION_WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = envIntWS("MOTION_WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = envDurationWS("MOTION_WS_RATE_WINDOW", c.RateWindow)
	c.Diagnostics = envBoolWS("MOTION_WS_DIAGNOSTICS", false)
	return c
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.ReadIdleTimeout < 0 {
		c.ReadIdleTimeout = 0
	}
	return c
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
