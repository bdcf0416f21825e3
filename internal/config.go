package internal

import (
	"fmt"
	"meet-signal/domain"
	"strings"
	"time"
)

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=5002"`
	AdminPort int    `env:"ADMIN_PORT,default=5003"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=./data/badger"`
	BadgerInMemory bool   `env:"BADGER_IN_MEMORY,default=false"`

	CapacityPolicy       string        `env:"CAPACITY_POLICY,default=admit"`
	RoomQueueSize        int           `env:"ROOM_QUEUE_SIZE,default=16"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	MaxMessageSize       int           `env:"MAX_MESSAGE_SIZE,default=65536"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=100ms"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`

	TelemetryBufferSize  int           `env:"TELEMETRY_BUFFER_SIZE,default=1024"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=64"`

	TurnSharedSecret   string        `env:"TURN_SHARED_SECRET"`
	TurnUsernamePrefix string        `env:"TURN_USERNAME_PREFIX,default=meet"`
	TurnTTL            time.Duration `env:"TURN_TTL,default=24h"`
	TurnURLs           string        `env:"TURN_URLS"`
	StunURLs           string        `env:"STUN_URLS,default=stun:stun.l.google.com:19302"`
}

func (c Config) Policy() (domain.CapacityPolicy, error) {
	policy := domain.CapacityPolicy(strings.ToLower(c.CapacityPolicy))
	if !policy.Valid() {
		return "", fmt.Errorf(
			"CAPACITY_POLICY must be %q or %q, got %q",
			domain.AdmitOverCapacity, domain.RejectOverCapacity, c.CapacityPolicy,
		)
	}
	return policy, nil
}

// SplitURLs reads a comma separated list, ignoring blanks.
func SplitURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
