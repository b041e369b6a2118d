// Package app wires the relay's components together and owns the HTTP
// server lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"chatrelay/internal/retention"
	"chatrelay/pkg/auth"
	"chatrelay/pkg/config"
	"chatrelay/pkg/llm"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/registry"
	"chatrelay/pkg/session"
	"chatrelay/pkg/store"
	"chatrelay/pkg/userdb"
	"chatrelay/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	source    string
	version   string
	commit    string
	buildDate string

	store    *store.Store
	sessions *session.Index
	users    *userdb.DB
	registry *registry.Registry
	verifier *auth.Verifier
	llm      *llm.Client
	limits   validation.Limits

	srv *http.Server
}

// New validates the effective config and opens every store the server
// needs. It does not start serving; call Run for that.
func New(cfg *config.Config, source, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	verifier, err := auth.NewVerifier(cfg.Security.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}

	client, err := llm.New(cfg.LLM.BaseURL, cfg.LLM.Model, llm.Options{
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		TopK:        cfg.LLM.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}

	sessions, err := session.Open(cfg.Storage.IndexPath)
	if err != nil {
		return nil, err
	}
	users, err := userdb.Open(cfg.Storage.UsersPath)
	if err != nil {
		sessions.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		source:    source,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		store: store.Open(cfg.Storage.MessagesPath, store.RetryPolicy{
			Attempts: cfg.Storage.ReadRetry.Attempts,
			Delay:    cfg.Storage.ReadRetry.Delay.Duration(),
		}),
		sessions: sessions,
		users:    users,
		registry: registry.New(),
		verifier: verifier,
		llm:      client,
		limits:   validation.DefaultLimits(),
	}
	return a, nil
}

// Run starts the retention janitor and the HTTP server, blocking until
// ctx is cancelled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	janitor := retention.New(a.cfg.Retention, a.store, a.sessions)
	stopJanitor, err := janitor.Start(ctx)
	if err != nil {
		return err
	}
	defer stopJanitor()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http_shutdown_incomplete", "err", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close releases the on-disk stores. Call after Run returns.
func (a *App) Close() error {
	var first error
	if err := a.sessions.Close(); err != nil {
		first = err
	}
	if err := a.users.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
