package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/threadflow/internal/config"
	routesystem "github.com/chirino/threadflow/internal/plugin/route/system"
	storemetrics "github.com/chirino/threadflow/internal/plugin/store/metrics"
	registrycache "github.com/chirino/threadflow/internal/registry/cache"
	registrymigrate "github.com/chirino/threadflow/internal/registry/migrate"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	registrystore "github.com/chirino/threadflow/internal/registry/store"
	"github.com/chirino/threadflow/internal/security"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
)

// managementPaths are left out of the access log unless
// --management-access-log is set.
var managementPaths = []string{"/health", "/ready", "/metrics"}

// Server is a started ThreadFlow instance.
type Server struct {
	Config     *config.Config
	Store      registrystore.ConversationStore
	Providers  *registryprovider.Catalog
	Router     *gin.Engine
	Running    *RunningServers
	Management *RunningServers // nil when management routes share the main port
}

// Shutdown stops the management listener, then the main one, then releases
// the providers and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.Management != nil {
		errs = append(errs, s.Management.Close(ctx))
	}
	errs = append(errs, s.Running.Close(ctx))
	if s.Providers != nil {
		errs = append(errs, s.Providers.Close())
	}
	errs = append(errs, registrystore.Close(ctx, s.Store))
	return errors.Join(errs...)
}

// StartServer wires the store, cache, providers and routes named by cfg and
// starts listening. With cfg.Listener.Port 0 a free port is picked; read it
// back from Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	log.Info("Starting ThreadFlow",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"mode", cfg.Mode,
		"defaultProvider", cfg.DefaultProvider,
	)

	labels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(labels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	store, err := loadStore(ctx, cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = registrystore.Close(context.WithoutCancel(ctx), store)
		}
	}()
	providers, err := registryprovider.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = providers.Close()
		}
	}()
	if _, err := providers.Resolve(cfg.DefaultProvider, cfg.DefaultModelID); err != nil {
		log.Warn("Default model is not usable; chat requests must name a provider and model",
			"provider", cfg.DefaultProvider, "model", cfg.DefaultModelID, "err", err)
	}

	conversations := service.NewConversations(store, loadCache(ctx, cfg.CacheType), cfg.CacheTTL)
	services := registryroute.Services{
		Chat:          service.NewChat(conversations, providers, cfg.ProviderTimeout, cfg.DefaultProvider, cfg.DefaultModelID),
		Conversations: conversations,
		Providers:     providers,
		Auth:          security.AuthMiddleware(security.NewIdentityResolver(security.NewTokenResolver(cfg), store)),
	}

	router, err := newMainRouter(cfg, services)
	if err != nil {
		return nil, err
	}
	srv := &Server{Config: cfg, Store: store, Providers: providers, Router: router}

	if cfg.ManagementListenerEnabled {
		if srv.Management, err = startManagement(ctx, cfg, services); err != nil {
			return nil, err
		}
	}
	if srv.Running, err = StartSinglePortHTTP(ctx, cfg.Listener, router); err != nil {
		if srv.Management != nil {
			_ = srv.Management.Close(ctx)
		}
		return nil, err
	}
	log.Info("Server listening",
		"port", srv.Running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return srv, nil
}

func loadStore(ctx context.Context, kind string) (registrystore.ConversationStore, error) {
	loader, err := registrystore.Select(kind)
	if err != nil {
		return nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return storemetrics.Wrap(store), nil
}

// loadCache returns nil when the cache cannot be set up; lists are then read
// from the store on every request.
func loadCache(ctx context.Context, kind string) registrycache.MetadataCache {
	loader, err := registrycache.Select(kind)
	if err != nil {
		log.Warn("Cache not available", "cache", kind, "err", err)
		return nil
	}
	cache, err := loader(ctx)
	if err != nil {
		log.Warn("Failed to initialize cache", "cache", kind, "err", err)
		return nil
	}
	return cache
}

func newMainRouter(cfg *config.Config, services registryroute.Services) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware(managementPaths...))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(newCORSPolicy(cfg.CORSOrigins).handler())
	}

	if err := registryroute.Mount(router, registryroute.RouteTypeMain, services); err != nil {
		return nil, fmt.Errorf("failed to load routes: %w", err)
	}
	log.Debug("Routes mounted", "plugins", registryroute.Names(registryroute.RouteTypeMain))

	if !cfg.ManagementListenerEnabled {
		if err := registryroute.Mount(router, registryroute.RouteTypeManagement, services); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}
	return router, nil
}

// startManagement serves the management routes on their own port, reusing
// the main listener's certificate.
func startManagement(ctx context.Context, cfg *config.Config, services registryroute.Services) (*RunningServers, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	}
	if err := registryroute.Mount(router, registryroute.RouteTypeManagement, services); err != nil {
		return nil, fmt.Errorf("failed to load management routes: %w", err)
	}

	lc := cfg.ManagementListener
	lc.TLSCertFile = cfg.Listener.TLSCertFile
	lc.TLSKeyFile = cfg.Listener.TLSKeyFile
	if !lc.EnablePlainText && !lc.EnableTLS {
		lc.EnablePlainText = true
	}
	running, err := StartSinglePortHTTP(ctx, lc, router)
	if err != nil {
		return nil, fmt.Errorf("failed to start management server: %w", err)
	}
	log.Info("Management server listening", "addr", running.Addr)
	return running, nil
}
