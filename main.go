//go:build !profile

// Command axys-mcp bridges MCP clients to the Axys AI search API, either
// over stdio or as a session-based HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/user/axys-mcp/internal/api"
	"github.com/user/axys-mcp/internal/axys"
	"github.com/user/axys-mcp/internal/cache"
	"github.com/user/axys-mcp/internal/config"
	"github.com/user/axys-mcp/internal/logger"
	"github.com/user/axys-mcp/internal/mcp"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	slog.SetDefault(log)

	env, err := config.FromEnv()
	if err != nil {
		log.Error("invalid environment", "error", err)
		os.Exit(1)
	}

	if err := run(env, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(env config.Env, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	respCache, err := cache.New(env.CachePath)
	if err != nil {
		log.Warn("response cache disabled", "error", err)
		respCache = nil
	} else {
		defer respCache.Close()
	}

	// The process-wide client backs stdio sessions and serves as the HTTP
	// default when a session brings no configuration of its own.
	var defClient *axys.Client
	if env.Key != "" {
		defClient, err = axys.New(axys.Config{Host: env.Host, Key: env.Key}, respCache, log)
		if err != nil {
			return err
		}
	}

	if env.Stdio() {
		if defClient == nil {
			return fmt.Errorf("MCP_KEY is required for the stdio transport")
		}
		log.Info("starting MCP server on stdio", "host", defClient.Host())
		// A canceled context is the signal-driven shutdown path, not a failure.
		if err := mcp.Serve(ctx, defClient, log); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	srv := api.New(api.Options{
		Addr:           fmt.Sprintf(":%d", env.Port),
		Log:            log,
		Resolve:        api.NewQueryResolver(defClient, respCache, log),
		SessionTimeout: env.SessionTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
