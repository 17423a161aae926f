package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// BaseURLDefault is the upstream chat service origin.
	BaseURLDefault = "https://chat.z.ai"

	// ChatCompletionsPath is the upstream chat endpoint, relative to the base URL.
	ChatCompletionsPath = "/api/chat/completions"

	// GuestAuthPath is the anonymous token issuance endpoint.
	GuestAuthPath = "/api/v1/auths/"

	// FileUploadPath is the upstream file storage endpoint.
	FileUploadPath = "/api/v1/files/"

	// SigningSecretDefault is the built-in signing root key, used when no
	// secret is configured. Must stay in sync with the upstream frontend.
	SigningSecretDefault = "junjie"
)

// ThinkingMode selects how upstream reasoning blocks are presented.
type ThinkingMode string

const (
	ThinkingStrip    ThinkingMode = "strip"    // remove thinking entirely
	ThinkingThink    ThinkingMode = "think"    // rewrap in <think> tags
	ThinkingThinkFul ThinkingMode = "thinking" // rewrap in <thinking> tags
	ThinkingRaw      ThinkingMode = "raw"      // pass upstream markup through
	ThinkingSeparate ThinkingMode = "separate" // split into reasoning_content
)

// ParseThinkingMode maps a config string to a ThinkingMode, defaulting to strip.
func ParseThinkingMode(s string) ThinkingMode {
	switch ThinkingMode(strings.ToLower(strings.TrimSpace(s))) {
	case ThinkingThink:
		return ThinkingThink
	case ThinkingThinkFul:
		return ThinkingThinkFul
	case ThinkingRaw:
		return ThinkingRaw
	case ThinkingSeparate:
		return ThinkingSeparate
	default:
		return ThinkingStrip
	}
}

// ServerConfig holds all gateway configuration.
type ServerConfig struct {
	Host        string
	Port        int
	Verbose     bool
	Debug       bool
	AccessToken string // optional bearer token required on /v1 routes

	BaseURL       string
	SigningSecret string
	Tokens        []string // configured long-lived upstream credentials
	DefaultStream bool
	ThinkingMode  ThinkingMode
	ModelsFile    string // optional YAML model-registry override

	UpstreamTimeout time.Duration
	AuthTimeout     time.Duration
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:            envOrDefault("ZAIGATE_HOST", "0.0.0.0"),
		Port:            envInt("ZAIGATE_PORT", 8080),
		Verbose:         envBool("ZAIGATE_VERBOSE"),
		Debug:           envBool("ZAIGATE_DEBUG"),
		AccessToken:     strings.TrimSpace(os.Getenv("ZAIGATE_ACCESS_TOKEN")),
		BaseURL:         envOrDefaultRaw("ZAIGATE_UPSTREAM_URL", BaseURLDefault),
		SigningSecret:   strings.TrimSpace(os.Getenv("ZAIGATE_SIGNING_SECRET")),
		Tokens:          splitTokens(os.Getenv("ZAIGATE_UPSTREAM_TOKEN")),
		DefaultStream:   !envBool("ZAIGATE_NO_STREAM"),
		ThinkingMode:    ParseThinkingMode(os.Getenv("ZAIGATE_THINKING_MODE")),
		ModelsFile:      strings.TrimSpace(os.Getenv("ZAIGATE_MODELS_FILE")),
		UpstreamTimeout: envDuration("ZAIGATE_UPSTREAM_TIMEOUT", 120*time.Second),
		AuthTimeout:     envDuration("ZAIGATE_AUTH_TIMEOUT", 8*time.Second),
	}
}

// ChatURL returns the absolute upstream chat endpoint.
func (c *ServerConfig) ChatURL() string {
	return strings.TrimRight(c.BaseURL, "/") + ChatCompletionsPath
}

// GuestAuthURL returns the absolute guest issuance endpoint.
func (c *ServerConfig) GuestAuthURL() string {
	return strings.TrimRight(c.BaseURL, "/") + GuestAuthPath
}

// FileUploadURL returns the absolute file upload endpoint.
func (c *ServerConfig) FileUploadURL() string {
	return strings.TrimRight(c.BaseURL, "/") + FileUploadPath
}

func splitTokens(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return defaultVal
}

func envOrDefaultRaw(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
