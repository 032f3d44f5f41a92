// Tachikoma is a conversational Matrix relay bot.
//
// It keeps a bounded per-channel conversation memory, assembles each incoming
// message together with that memory and a persona prompt, and relays the
// result to an OpenRouter-compatible completion API. Administrators steer the
// bot at runtime with "tachi;" commands.
//
// All configuration is loaded from environment variables.
//
// Required environment variables:
//
//	MATRIX_HOMESERVER      - Matrix homeserver URL (e.g. "https://matrix.org")
//	MATRIX_USER_ID         - bot's Matrix ID (e.g. "@tachikoma:matrix.org")
//	MATRIX_ACCESS_TOKEN    - bot's Matrix access token
//	OPENROUTER_API_KEY     - API key for the completion provider
//	TACHIKOMA_ADMINS       - comma-separated Matrix IDs allowed to use admin commands
//
// Optional environment variables:
//
//	TACHIKOMA_DB_PATH      - path to the SQLite database (default: /data/tachikoma.db)
//	TACHIKOMA_PERSONA      - path to the persona YAML file (default: /data/persona.yaml)
//	TACHIKOMA_MODEL        - default model name (default: "openai/gpt-4o-mini")
//	TACHIKOMA_DEPTH        - default memory depth in turns (default: 69)
//	TACHIKOMA_FREQUENCY    - default unprompted reply probability (default: 0.05)
//	TACHIKOMA_SWEEP_EVERY  - idle sweep interval (default: "15m")
//	TACHIKOMA_IDLE_AFTER   - idle threshold before a conversation is released (default: "6h")
//	OPENROUTER_BASE_URL    - override the completion API base URL
//	OPENROUTER_REFERER     - HTTP-Referer header sent with completion calls
//	LOG_LEVEL              - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT             - "text" or "json" (default: "text")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/app"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/llm"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/matrix"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/observability"
)

func main() {
	observability.Setup(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "text"))

	cfg := &app.Config{
		Matrix: matrix.Config{
			Homeserver:  requireEnv("MATRIX_HOMESERVER"),
			UserID:      requireEnv("MATRIX_USER_ID"),
			AccessToken: requireEnv("MATRIX_ACCESS_TOKEN"),
		},
		OpenRouter: llm.OpenRouterConfig{
			APIKey:  requireEnv("OPENROUTER_API_KEY"),
			BaseURL: os.Getenv("OPENROUTER_BASE_URL"),
			Referer: os.Getenv("OPENROUTER_REFERER"),
			Title:   "Tachikoma",
		},
		Admins:         splitList(requireEnv("TACHIKOMA_ADMINS")),
		DBPath:         envOr("TACHIKOMA_DB_PATH", "/data/tachikoma.db"),
		PersonaPath:    envOr("TACHIKOMA_PERSONA", "/data/persona.yaml"),
		DefaultModel:   envOr("TACHIKOMA_MODEL", "openai/gpt-4o-mini"),
		MemoryDepth:    envInt("TACHIKOMA_DEPTH", 69),
		ReplyFrequency: envFloat("TACHIKOMA_FREQUENCY", 0.05),
		SweepInterval:  envDuration("TACHIKOMA_SWEEP_EVERY", app.DefaultSweepInterval),
		IdleThreshold:  envDuration("TACHIKOMA_IDLE_AFTER", app.DefaultIdleThreshold),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize Tachikoma", "err", err)
		os.Exit(1)
	}

	if err := relay.Run(ctx); err != nil {
		slog.Error("Tachikoma exited with error", "err", err)
		os.Exit(1)
	}
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "fatal: required environment variable %q is not set\n", key)
		os.Exit(1)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
