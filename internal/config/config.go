package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain     = "warpmeet.qzz.io"
	DefaultSTUN       = "stun:stun.l.google.com:19302"
	DefaultSTUNBackup = "stun:stun1.l.google.com:19302"

	DefaultListenAddr        = ":8080"
	DefaultMessagesPerSecond = 50
	DefaultSendQueueSize     = 256
)

// Config holds client configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// SignalingURL is built from Domain unless overridden
	SignalingURL string

	// STUN servers for WebRTC
	STUNServers []string

	// Identity of the local participant; UserID may be empty
	Name   string
	UserID string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain       string
	SignalingURL string
	STUNServer   string
	Name         string
	UserID       string
}

// Load reads client configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	signalingURL := pick(opts.SignalingURL, "SIGNALING_URL", "")
	if signalingURL == "" {
		signalingURL = fmt.Sprintf("wss://%s/ws", domain)
	}
	if !strings.HasPrefix(signalingURL, "ws://") && !strings.HasPrefix(signalingURL, "wss://") {
		return nil, fmt.Errorf("signaling url %q must use ws:// or wss://", signalingURL)
	}

	// An explicit STUN server replaces both defaults.
	stunServers := []string{DefaultSTUN, DefaultSTUNBackup}
	if s := pick(opts.STUNServer, "STUN_SERVER", ""); s != "" {
		stunServers = strings.Split(s, ",")
		for i := range stunServers {
			stunServers[i] = strings.TrimSpace(stunServers[i])
		}
	}

	name := pick(opts.Name, "WARPMEET_NAME", "")
	if name == "" {
		name, _ = os.Hostname()
	}
	if name == "" {
		name = "guest"
	}

	return &Config{
		Domain:       domain,
		SignalingURL: signalingURL,
		STUNServers:  stunServers,
		Name:         name,
		UserID:       pick(opts.UserID, "WARPMEET_USER_ID", ""),
	}, nil
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	ListenAddr        string
	MessagesPerSecond float64
	SendQueueSize     int
}

// ServerOptions for loading server config with CLI flag overrides
type ServerOptions struct {
	ListenAddr string
}

// LoadServer reads relay configuration: flag > LISTEN_ADDR > PORT > default.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	addr := pick(opts.ListenAddr, "LISTEN_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		}
	}
	if addr == "" {
		addr = DefaultListenAddr
	}

	rate, err := envFloat("MAX_MESSAGES_PER_SECOND", DefaultMessagesPerSecond)
	if err != nil {
		return nil, err
	}
	queue, err := envInt("SEND_QUEUE_SIZE", DefaultSendQueueSize)
	if err != nil {
		return nil, err
	}

	return &ServerConfig{
		ListenAddr:        addr,
		MessagesPerSecond: rate,
		SendQueueSize:     queue,
	}, nil
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive number", key, v)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}
