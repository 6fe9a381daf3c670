// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the httpcat bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"httpcat/config"
	"httpcat/internal/bot"
	"httpcat/internal/cache"
	"httpcat/internal/catcache"
	"httpcat/internal/catfetch"
	"httpcat/internal/core"
	"httpcat/internal/httpclient"
	"httpcat/internal/matrix"
	"httpcat/internal/pluginconfig"
	"httpcat/internal/server"
)

// matrixTimeout bounds homeserver requests. It must exceed the sync long-poll.
const matrixTimeout = 180 * time.Second

// ChatClient is the chat server connection the bot runs on.
type ChatClient interface {
	core.MediaUploader
	bot.Messenger
	Run(ctx context.Context, handle matrix.MessageHandler) error
}

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config *config.Config
	plugin *pluginconfig.Config
	store  *cache.Result
	cats   *catcache.Cache
	chat   ChatClient
	bot    *bot.Handler
	server *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration.
	AppConfig *config.Config

	// Chat overrides the Matrix client built from AppConfig.Matrix.
	Chat ChatClient

	// HTTPClient overrides the client used to fetch images.
	HTTPClient *http.Client
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{config: appCfg}

	plugin, err := pluginconfig.LoadAndUpdate(appCfg.Plugin.Path, pluginconfig.Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin config: %w", err)
	}
	app.plugin = plugin

	chat := cfg.Chat
	if chat == nil {
		if err := appCfg.ValidateMatrix(); err != nil {
			return nil, err
		}
		matrixHTTP := httpclient.DefaultConfig()
		matrixHTTP.Timeout = matrixTimeout
		chat, err = matrix.New(matrix.Config{
			Homeserver:  appCfg.Matrix.Homeserver,
			UserID:      appCfg.Matrix.UserID,
			AccessToken: appCfg.Matrix.AccessToken,
			AutoJoin:    appCfg.Matrix.AutoJoin,
			HTTPClient:  httpclient.NewHTTPClient(&matrixHTTP),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize matrix client: %w", err)
		}
	}
	app.chat = chat

	fetchClient := cfg.HTTPClient
	if fetchClient == nil {
		fetchClient = httpclient.NewHTTPClient(fetchClientConfig(appCfg.HTTP))
	}
	fetcher, err := catfetch.New(fetchClient, plugin.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid plugin url: %w", err)
	}
	fetcher.SetMaxBodySize(appCfg.HTTP.MaxBodySize)

	storeResult, err := cache.New(ctx, appCfg, plugin)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cat store: %w", err)
	}
	app.store = storeResult

	cats, err := catcache.New(storeResult.Store, fetcher, chat, catcache.Options{Serial: appCfg.Cache.Serial})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize cat cache: %w", err), storeResult.Close())
	}
	app.cats = cats

	if appCfg.Cache.Warm {
		if _, err := cats.Warm(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to warm cat cache: %w", err), storeResult.Close())
		}
	}

	handler, err := bot.New(cats, chat, appCfg.Matrix.CommandPrefix, plugin.Command())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize command handler: %w", err), storeResult.Close())
	}
	app.bot = handler

	if appCfg.Server.Enabled {
		app.server = server.New(cats, &server.Config{
			MasterKey:       appCfg.Server.MasterKey,
			MetricsEnabled:  appCfg.Metrics.Enabled,
			MetricsEndpoint: appCfg.Metrics.Endpoint,
		})
	}

	app.logStartupInfo()
	return app, nil
}

func fetchClientConfig(cfg config.HTTPConfig) *httpclient.ClientConfig {
	c := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Second
	}
	if cfg.ResponseHeaderTimeout > 0 {
		c.ResponseHeaderTimeout = time.Duration(cfg.ResponseHeaderTimeout) * time.Second
	}
	return &c
}

// Cats returns the cat cache.
func (a *App) Cats() *catcache.Cache {
	return a.cats
}

// Bot returns the command handler.
func (a *App) Bot() *bot.Handler {
	return a.bot
}

// Server returns the admin HTTP server, or nil when it is disabled.
func (a *App) Server() *server.Server {
	return a.server
}

// Run serves the admin API (when enabled) and the chat sync loop until ctx
// is cancelled or either fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	if a.server != nil {
		addr := ":" + a.config.Server.Port
		go func() {
			err := a.Start(addr)
			errCh <- err
			if err != nil {
				cancel()
			}
		}()
	}

	err := a.chat.Run(ctx, a.bot.Handle)
	if err != nil {
		return fmt.Errorf("chat client: %w", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Start starts the admin HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting admin server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("admin server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. Admin HTTP server shutdown, honoring the passed context timeout/cancellation.
// 2. Durable store close (and the database connection it owns).
//
// The chat sync loop stops when the context passed to Run is cancelled.
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Error("cat store close error", "error", err)
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	slog.Info("command registered",
		"trigger", a.bot.Trigger(),
		"url", a.plugin.URL(),
	)
	slog.Info("cat store configured", "type", cfg.Store.Type, "serial", cfg.Cache.Serial, "warm", cfg.Cache.Warm)

	if !cfg.Server.Enabled {
		slog.Info("admin server disabled")
		return
	}

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: HTTPCAT_MASTER_KEY not set - admin API running without authentication",
			"security_risk", "anyone who can reach the port can trigger uploads",
			"recommendation", "set HTTPCAT_MASTER_KEY or keep the port private")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}
}
