package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCacheTTL      = 30 * time.Second
	DefaultDebounce      = 10 * time.Second
	DefaultRateLimit     = 5.0
	DefaultRateBurst     = 10
	DefaultSessionBuffer = 64
	DefaultMaxPayload    = 4096
)

type Config struct {
	ServerAddr string
	Brokers    []string
	GuildDSN   string
	SigningKey []byte

	CacheTTL      time.Duration
	Debounce      time.Duration
	RateLimit     float64
	RateBurst     int
	SessionBuffer int
	MaxPayload    int

	// DropOldest selects the buffer-shedding overflow policy instead of
	// disconnecting slow consumers.
	DropOldest bool

	// Dev runs against the in-process bus instead of Kafka.
	Dev bool
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, brokers, guildDSN, base64Secret string, dev bool) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if brokers == "" && !dev {
		return nil, fmt.Errorf("broker list cannot be empty")
	}
	if guildDSN == "" {
		return nil, fmt.Errorf("guild DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:    serverAddr,
		GuildDSN:      guildDSN,
		SigningKey:    signingKey,
		CacheTTL:      DefaultCacheTTL,
		Debounce:      DefaultDebounce,
		RateLimit:     DefaultRateLimit,
		RateBurst:     DefaultRateBurst,
		SessionBuffer: DefaultSessionBuffer,
		MaxPayload:    DefaultMaxPayload,
		Dev:           dev,
	}

	if brokers != "" {
		cfg.Brokers = strings.Split(brokers, ",")
	}

	return cfg, nil
}
