// Package server wires the auth storage, session manager, passkey service,
// and HTTP surface into one runnable server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/latchkey/internal/auth/api/web"
	"github.com/louisbranch/latchkey/internal/auth/api/web/sessiontoken"
	"github.com/louisbranch/latchkey/internal/auth/passkey"
	"github.com/louisbranch/latchkey/internal/auth/session"
	authsqlite "github.com/louisbranch/latchkey/internal/auth/storage/sqlite"
	"github.com/louisbranch/latchkey/internal/platform/config"
)

// appEnv holds server configuration beyond the relying party settings.
type appEnv struct {
	DBPath        string        `env:"LATCHKEY_AUTH_DB_PATH"`
	SessionMaxAge time.Duration `env:"LATCHKEY_SESSION_MAX_AGE" envDefault:"720h"`
	SecureCookies bool          `env:"LATCHKEY_SECURE_COOKIES"  envDefault:"false"`
}

// Server hosts the auth HTTP service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
}

// New creates a configured auth server listening on the provided address.
func New(addr string) (*Server, error) {
	var cfg appEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, fmt.Errorf("parse server env: %w", err)
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = session.DefaultMaxAge
	}

	tokenConfig, err := sessiontoken.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	codec, err := sessiontoken.NewCodec([]byte(tokenConfig.Key))
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessions := session.NewManager(store, cfg.SessionMaxAge)
	passkeys := passkey.NewService(store, store, store, sessions, passkey.LoadConfigFromEnv())
	webServer := web.NewServer(passkeys, sessions, store, codec, cfg.SecureCookies)

	mux := http.NewServeMux()
	webServer.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, addr string) error {
	authServer, err := New(addr)
	if err != nil {
		return err
	}
	return authServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}
