// Package app provides application initialization and lifecycle.
package app

import (
	"github.com/gin-gonic/gin"
	"github.com/openmatrix/feedcache/config"
	"github.com/openmatrix/feedcache/internal/cachestore"
	"github.com/openmatrix/feedcache/internal/circuitbreaker"
	"github.com/openmatrix/feedcache/internal/consumption"
	httpapi "github.com/openmatrix/feedcache/internal/http"
	"github.com/openmatrix/feedcache/internal/logger"
	"github.com/openmatrix/feedcache/internal/metrics"
	"github.com/openmatrix/feedcache/internal/scheduler"
)

// App holds every long-lived component. It is created once at startup and
// passed by reference to whoever needs it; there is no global scheduler or
// cache singleton, and shutdown is explicit via [App.Shutdown].
type App struct {
	Config    config.Config
	Store     *cachestore.Store
	Recorder  *metrics.Recorder
	Scheduler *scheduler.Scheduler // nil when the background service is disabled
	Breakers  map[string]*circuitbreaker.CircuitBreaker
	Router    *gin.Engine

	clients map[string]*consumption.Client
}

// InitializeApp creates and wires all application dependencies.
func InitializeApp(cfg config.Config) (*App, error) {
	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	store, err := cachestore.New(cfg.Cache.Dir)
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder()

	var sched *scheduler.Scheduler
	if cfg.Background.Enabled {
		sched = scheduler.New(store, scheduler.Config{
			MaxWorkers:     cfg.Background.MaxWorkers,
			RequestTimeout: cfg.Background.RequestTimeout,
			MaxRetries:     cfg.Background.MaxRetries,
			BackoffBase:    cfg.Background.BackoffBase,
			BackoffMax:     cfg.Background.BackoffMax,
			BackoffJitter:  cfg.Background.BackoffJitter,
			BackgroundTTL:  cfg.Cache.BackgroundTTL,
			ResultTTL:      cfg.Cache.ResultTTL,
			RateLimit:      cfg.Background.RateLimit,
			RateBurst:      cfg.Background.RateBurst,
		})
	}

	app := &App{
		Config:    cfg,
		Store:     store,
		Recorder:  recorder,
		Scheduler: sched,
		Breakers:  make(map[string]*circuitbreaker.CircuitBreaker),
		clients:   make(map[string]*consumption.Client),
	}

	for domain, dc := range cfg.Domains {
		var breaker *circuitbreaker.CircuitBreaker
		if dc.BreakerEnabled {
			bcfg := circuitbreaker.DefaultConfig()
			bcfg.Name = domain
			breaker = circuitbreaker.New(bcfg)
			app.Breakers[domain] = breaker
		}
		app.clients[domain] = consumption.NewClient(consumption.Config{
			Domain:   domain,
			SyncTTL:  cfg.Cache.SyncTTL,
			Priority: dc.Priority,
		}, store, sched, recorder, breaker)
	}

	handler := httpapi.NewHandler(store, recorder, sched, app.Breakers)
	health := httpapi.NewHealthHandler()
	health.RegisterChecker("cachestore", store.Ping)
	if sched != nil {
		health.RegisterChecker("scheduler", func() error {
			if !sched.Accepting() {
				return scheduler.ErrShuttingDown
			}
			return nil
		})
	}

	app.Router = httpapi.NewRouter(handler, health, httpapi.RouterConfig{
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKeys:     cfg.Server.APIKeys,
	})

	return app, nil
}

// Client returns the consumption client for a configured domain, or nil.
// Managers receive their client at construction and keep it for life.
func (a *App) Client(domain string) *consumption.Client {
	return a.clients[domain]
}

// Shutdown drains the background scheduler and flushes the cache store.
// Safe to call once after the ops server has stopped.
func (a *App) Shutdown() {
	if a.Scheduler != nil {
		a.Scheduler.Shutdown(true, a.Config.Background.ShutdownTimeout)
	}
	a.Store.Close()
}
