package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenAuthStoreInvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	path := filepath.Join(file, "auth.db")

	if _, err := openAuthStore(path); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestNewRequiresTokenKey(t *testing.T) {
	t.Setenv("LATCHKEY_SESSION_TOKEN_KEY", "")
	t.Setenv("LATCHKEY_AUTH_DB_PATH", filepath.Join(t.TempDir(), "auth.db"))

	if _, err := New("127.0.0.1:0"); err == nil {
		t.Fatal("expected error without a session token key")
	}
}

func TestServerServesAndShutsDown(t *testing.T) {
	t.Setenv("LATCHKEY_SESSION_TOKEN_KEY", "test-key")
	t.Setenv("LATCHKEY_AUTH_DB_PATH", filepath.Join(t.TempDir(), "auth.db"))

	authServer, err := New("127.0.0.1:0")
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if authServer.Addr() == "" {
		t.Fatal("expected listener address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- authServer.Serve(ctx)
	}()

	url := fmt.Sprintf("http://%s/up", authServer.Addr())
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became healthy: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
