package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"testing"
	"time"

	"rfm-dashboard/internal/config"
)

func newTestGracefulServer() *GracefulServer {
	cfg := &config.Config{Server: config.ServerConfig{ShutdownTimeout: time.Second}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGracefulServer(&http.Server{Addr: "127.0.0.1:0"}, logger, cfg)
}

func TestGracefulServer_HooksRunInOrder(t *testing.T) {
	gs := newTestGracefulServer()

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		gs.RegisterShutdownHook(name, func(ctx context.Context) error {
			calls = append(calls, name)
			return nil
		})
	}

	if err := gs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if want := []string{"first", "second", "third"}; !slices.Equal(calls, want) {
		t.Errorf("hooks ran as %v, want %v", calls, want)
	}
}

func TestGracefulServer_HookErrorsAreJoined(t *testing.T) {
	gs := newTestGracefulServer()
	errSweeper := errors.New("sweeper stuck")

	ran := false
	gs.RegisterShutdownHook("sweeper", func(ctx context.Context) error { return errSweeper })
	gs.RegisterShutdownHook("after", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := gs.Shutdown(context.Background())
	if !errors.Is(err, errSweeper) {
		t.Fatalf("Shutdown() error = %v, want it to wrap %v", err, errSweeper)
	}
	if !strings.Contains(err.Error(), "shutdown hook sweeper") {
		t.Errorf("error should name the hook, got %q", err)
	}
	if !ran {
		t.Error("hooks after a failing hook should still run")
	}
}

func TestGracefulServer_ExpiredContextSkipsHooks(t *testing.T) {
	gs := newTestGracefulServer()

	ran := false
	gs.RegisterShutdownHook("late", func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := gs.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("hook should not run after the context expired")
	}
}
