// Package config assembles the gateway's typed configuration surface (§6
// "Configuration surface") from environment variables, with an optional
// YAML overlay for values easier to hand-edit as a file than as env vars.
// Seed-file loading of catalog/policy data is explicitly out of scope
// (§1); this package only covers runtime tuning knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's full runtime configuration, combining the
// orchestrator's turn-bounding knobs (§6), cache/rate-limit TTLs, and the
// external service endpoints needed to wire the core (§1 "out of scope"
// collaborators: identity provider, model vendor, stores).
type Config struct {
	// HTTPAddr is the control plane's listen address.
	HTTPAddr string `yaml:"http_addr"`

	// MaxContextMessages truncates conversation context at this length
	// (§6).
	MaxContextMessages int `yaml:"max_context_messages"`
	// MaxIterations caps reason/act iterations per user turn (§6).
	MaxIterations int `yaml:"max_iterations"`
	// MaxToolCallsPerIteration caps tool calls in one LLM response (§6).
	MaxToolCallsPerIteration int `yaml:"max_tool_calls_per_iteration"`
	// AgentTimeoutSeconds bounds a turn's wall clock (§6).
	AgentTimeoutSeconds int `yaml:"agent_timeout_seconds"`
	// ToolDefaultTimeoutSeconds bounds a dispatch lacking its own timeout
	// (§6).
	ToolDefaultTimeoutSeconds int `yaml:"tool_default_timeout_seconds"`
	// TokenCacheDefaultTTLSeconds bounds the token-exchange cache absent an
	// exp claim (§6).
	TokenCacheDefaultTTLSeconds int `yaml:"token_cache_default_ttl_seconds"`
	// ManifestCacheTTLSeconds is the group-manifest cache TTL (§4.3,
	// default 30 min).
	ManifestCacheTTLSeconds int `yaml:"manifest_cache_ttl_seconds"`
	// AccessCacheTTLSeconds is the agent-access cache TTL (§4.3, default 5
	// min).
	AccessCacheTTLSeconds int `yaml:"access_cache_ttl_seconds"`
	// RateLimitRequestsPerMinute bounds new LLM iterations per caller (§6).
	RateLimitRequestsPerMinute int `yaml:"rate_limit_requests_per_minute"`
	// RateLimitConcurrentRequests bounds concurrent sessions per caller
	// (§6).
	RateLimitConcurrentRequests int `yaml:"rate_limit_concurrent_requests"`

	// MongoURI, when set, backs the event store and read models with
	// MongoDB; empty uses the in-memory stores (teacher's store/memory
	// development pattern).
	MongoURI string `yaml:"mongo_uri"`
	MongoDB  string `yaml:"mongo_database"`

	// RedisURL, when set, backs the manifest/access caches; empty
	// disables caching (resolver/manifest cache accept a nil backing
	// cache and recompute on every call).
	RedisURL string `yaml:"redis_url"`

	// JWKSURL, Issuer, Audience configure the identity boundary's bearer
	// token verification (§6).
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// LLMProvider selects the vendor adapter: "anthropic", "openai", or
	// "bedrock".
	LLMProvider    string `yaml:"llm_provider"`
	LLMModel       string `yaml:"llm_model"`
	AnthropicKey   string `yaml:"-"`
	OpenAIKey      string `yaml:"-"`
	BedrockRegion  string `yaml:"bedrock_region"`
}

// Default returns the configuration §6 implies as sane defaults.
func Default() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MaxContextMessages:          50,
		MaxIterations:               8,
		MaxToolCallsPerIteration:    8,
		AgentTimeoutSeconds:         300,
		ToolDefaultTimeoutSeconds:   30,
		TokenCacheDefaultTTLSeconds: 300,
		ManifestCacheTTLSeconds:     1800,
		AccessCacheTTLSeconds:       300,
		RateLimitRequestsPerMinute:  60,
		RateLimitConcurrentRequests: 4,
		LLMProvider:                 "anthropic",
		LLMModel:                    "claude-sonnet-4-5",
	}
}

// Load builds a Config from Default, an optional YAML overlay file (path
// from the GATEWAY_CONFIG_FILE env var), and environment variable
// overrides, in that order of increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.HTTPAddr = envOr("GATEWAY_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MaxContextMessages = envIntOr("GATEWAY_MAX_CONTEXT_MESSAGES", cfg.MaxContextMessages)
	cfg.MaxIterations = envIntOr("GATEWAY_MAX_ITERATIONS", cfg.MaxIterations)
	cfg.MaxToolCallsPerIteration = envIntOr("GATEWAY_MAX_TOOL_CALLS_PER_ITERATION", cfg.MaxToolCallsPerIteration)
	cfg.AgentTimeoutSeconds = envIntOr("GATEWAY_AGENT_TIMEOUT_SECONDS", cfg.AgentTimeoutSeconds)
	cfg.ToolDefaultTimeoutSeconds = envIntOr("GATEWAY_TOOL_DEFAULT_TIMEOUT_SECONDS", cfg.ToolDefaultTimeoutSeconds)
	cfg.TokenCacheDefaultTTLSeconds = envIntOr("GATEWAY_TOKEN_CACHE_DEFAULT_TTL_SECONDS", cfg.TokenCacheDefaultTTLSeconds)
	cfg.ManifestCacheTTLSeconds = envIntOr("GATEWAY_MANIFEST_CACHE_TTL_SECONDS", cfg.ManifestCacheTTLSeconds)
	cfg.AccessCacheTTLSeconds = envIntOr("GATEWAY_ACCESS_CACHE_TTL_SECONDS", cfg.AccessCacheTTLSeconds)
	cfg.RateLimitRequestsPerMinute = envIntOr("GATEWAY_RATE_LIMIT_REQUESTS_PER_MINUTE", cfg.RateLimitRequestsPerMinute)
	cfg.RateLimitConcurrentRequests = envIntOr("GATEWAY_RATE_LIMIT_CONCURRENT_REQUESTS", cfg.RateLimitConcurrentRequests)
	cfg.MongoURI = envOr("MONGO_URI", cfg.MongoURI)
	cfg.MongoDB = envOr("MONGO_DATABASE", cfg.MongoDB)
	cfg.RedisURL = envOr("REDIS_URL", cfg.RedisURL)
	cfg.JWKSURL = envOr("GATEWAY_JWKS_URL", cfg.JWKSURL)
	cfg.Issuer = envOr("GATEWAY_ISSUER", cfg.Issuer)
	cfg.Audience = envOr("GATEWAY_AUDIENCE", cfg.Audience)
	cfg.LLMProvider = envOr("GATEWAY_LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = envOr("GATEWAY_LLM_MODEL", cfg.LLMModel)
	cfg.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	cfg.BedrockRegion = envOr("AWS_REGION", cfg.BedrockRegion)

	return cfg, nil
}

func (c Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
