package utils

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"HISTORY_BACKEND", "HISTORY_WINDOW", "HISTORY_MAX_TURNS", "GATEWAY_PROVIDER", "EVENTS_BACKEND", "EXCHANGE_TIMEOUT", "JWT_TTL", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.History.Backend != HistoryBackendMongo {
		t.Fatalf("expected default backend mongo, got %s", cfg.History.Backend)
	}
	if cfg.History.Window != 20 {
		t.Fatalf("expected default window 20, got %d", cfg.History.Window)
	}
	if cfg.History.MaxTurns != 0 {
		t.Fatalf("expected unbounded history by default, got %d", cfg.History.MaxTurns)
	}
	if cfg.Gateway.Provider != GatewayProviderGemini {
		t.Fatalf("expected gemini provider, got %s", cfg.Gateway.Provider)
	}
	if cfg.Relay.ExchangeTimeout != 2*time.Minute {
		t.Fatalf("expected 2m exchange timeout, got %s", cfg.Relay.ExchangeTimeout)
	}
	if cfg.JWTTTL != 30*24*time.Hour {
		t.Fatalf("expected 30 day token ttl, got %s", cfg.JWTTTL)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("expected redis to be disabled without REDIS_ADDR")
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("HISTORY_BACKEND", "cassandra")

	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "HISTORY_BACKEND") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestLoadConfigRedisEventsRequireAddr(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when redis events are enabled without an address")
	}

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Events.Backend != EventsBackendRedis {
		t.Fatalf("expected redis events backend, got %s", cfg.Events.Backend)
	}
}

func TestLoadConfigMaxTurnsBelowWindow(t *testing.T) {
	t.Setenv("HISTORY_WINDOW", "20")
	t.Setenv("HISTORY_MAX_TURNS", "5")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when HISTORY_MAX_TURNS is smaller than the window")
	}
}

func TestGatewayAPIKeyFollowsProvider(t *testing.T) {
	g := GatewayConfig{Provider: GatewayProviderOpenAI, OpenAIAPIKey: " sk-1 ", GeminiAPIKey: "g-1"}
	if g.APIKey() != "sk-1" {
		t.Fatalf("expected openai key, got %q", g.APIKey())
	}

	g.Provider = GatewayProviderGemini
	if g.APIKey() != "g-1" {
		t.Fatalf("expected gemini key, got %q", g.APIKey())
	}
}

func TestLoadConfigRejectsDisabledTimeouts(t *testing.T) {
	cases := []struct {
		key, value string
	}{
		{"EXCHANGE_TIMEOUT", "0"},
		{"EXCHANGE_TIMEOUT", "-5s"},
		{"PERSIST_TIMEOUT", "0s"},
		{"PERSIST_TIMEOUT", "-1m"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv("EXCHANGE_TIMEOUT", "")
			t.Setenv("PERSIST_TIMEOUT", "")
			t.Setenv(tc.key, tc.value)

			if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), tc.key) {
				t.Fatalf("expected %s validation error, got %v", tc.key, err)
			}
		})
	}
}
