// Package auth parses configuration for the auth server command.
package auth

import (
	"context"
	"flag"
	"log"
	"strings"

	server "github.com/louisbranch/latchkey/internal/auth/app"
	"github.com/louisbranch/latchkey/internal/platform/otel"
)

// Config holds auth command configuration.
type Config struct {
	Addr string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Environment values seed the
// defaults; flags win.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		Addr: envOrDefault(lookup, []string{"LATCHKEY_AUTH_ADDR"}, "localhost:8086"),
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The auth HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth server.
func Run(ctx context.Context, cfg Config) error {
	shutdown, err := otel.Setup(ctx, "latchkey-auth")
	if err != nil {
		log.Printf("otel setup: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	return server.Run(ctx, cfg.Addr)
}

func envOrDefault(lookup EnvLookup, keys []string, fallback string) string {
	for _, key := range keys {
		if lookup == nil {
			break
		}
		value, ok := lookup(key)
		if ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}
