package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hllvc/airvane/internal/airflow"
	"github.com/hllvc/airvane/internal/auth"
	"github.com/hllvc/airvane/internal/authflow"
	"github.com/hllvc/airvane/internal/proxy"
	"github.com/hllvc/airvane/internal/tokensource"
	"github.com/hllvc/airvane/internal/tokenstore"
)

// App orchestrates the lifecycle of the gateway server, the credential
// manager, and the background refresh loop.
type App struct {
	cfg     *Config
	store   tokenstore.Store
	manager *auth.Manager
	proxy   *proxy.Proxy
	client  *airflow.Client
}

// New creates a new App instance. No I/O happens here; credential loading is
// deferred to Start.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	manager, err := newManager(cfg.Auth, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential manager: %w", err)
	}

	session := airflow.NewSession(strings.TrimRight(cfg.Airflow.BaseURL, "/"),
		cfg.Airflow.Username, cfg.Airflow.Password, manager, nil)

	proxyServer, err := proxy.New(cfg.Airflow.BaseURL, manager, session, manager.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	client, err := airflow.NewClient(cfg.Airflow.BaseURL, manager, airflow.WithSession(session))
	if err != nil {
		return nil, fmt.Errorf("failed to create airflow client: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		manager: manager,
		proxy:   proxyServer,
		client:  client,
	}, nil
}

// Manager exposes the credential manager for the login/logout/status
// commands.
func (a *App) Manager() *auth.Manager {
	return a.manager
}

// Airflow exposes the typed API client for commands and startup checks.
func (a *App) Airflow() *airflow.Client {
	return a.client
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection
// for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	if err := a.initCredential(ctx); err != nil {
		return err
	}
	a.probeUpstream(ctx)

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Background refresh keeps the credential fresh independent of traffic.
	// Static tokens have nothing to refresh.
	if a.cfg.Auth.Method == AuthenticationMethodOAuth {
		g.Go(func() error {
			return a.manager.RunRefreshLoop(gCtx, a.cfg.Auth.RefreshInterval)
		})
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// initCredential brings a usable credential into memory before serving:
// persisted record if present, interactive consent otherwise. For the static
// method the token comes straight from the configured store.
func (a *App) initCredential(ctx context.Context) error {
	if a.cfg.Auth.Method == AuthenticationMethodStatic {
		record, err := a.store.Load(ctx)
		if err != nil {
			return fmt.Errorf("reading static token: %w", err)
		}
		a.manager.Set(&auth.Credential{
			AccessToken: strings.TrimSpace(string(record)),
			Audience:    a.cfg.Auth.Audience,
		})
		return nil
	}

	if a.manager.Load(ctx) {
		slog.InfoContext(ctx, "loaded persisted credential", "audience", a.cfg.Auth.Audience)
	}

	// Forces a refresh (or the one-time consent flow) when nothing usable
	// was loaded, so startup fails fast on authentication problems.
	if _, err := a.manager.Token(ctx); err != nil {
		return fmt.Errorf("acquiring initial credential: %w", err)
	}
	return nil
}

// probeUpstream makes one authenticated API call so the whole chain (IAP
// bearer, Airflow JWT) is verified at startup. Failure is logged, not fatal:
// the upstream being down does not make the gateway less worth serving.
func (a *App) probeUpstream(ctx context.Context) {
	version, err := a.client.Version(ctx)
	if err != nil {
		slog.WarnContext(ctx, "upstream verification failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "upstream verified", "airflow_version", version.Version)
}

// newManager wires the credential manager for the configured method.
func newManager(cfg AuthConfig, store tokenstore.Store) (*auth.Manager, error) {
	var (
		refresher auth.Refresher
		flow      auth.InteractiveFlow
	)

	switch cfg.Method {
	case AuthenticationMethodOAuth:
		refresher = tokensource.NewRefresher(cfg.ClientID, cfg.ClientSecret, cfg.Audience)
		flow = authflow.New(cfg.ClientID, cfg.ClientSecret, authflow.WithTimeout(cfg.LoginTimeout))
	case AuthenticationMethodStatic:
		// No refresh capability; the token is replaced out of band.
	default:
		return nil, fmt.Errorf("unsupported authentication method: %s", cfg.Method)
	}

	return auth.NewManager(store, refresher, flow, cfg.Audience, cfg.ExpiryMargin)
}
