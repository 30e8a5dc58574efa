// Package system serves the welcome page and the health and metrics
// endpoints used by orchestrators.
package system

import (
	"net/http"
	"sort"
	"sync/atomic"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ready atomic.Bool

// MarkReady flips /ready to 200. StartServer calls it once every listener
// is accepting connections.
func MarkReady() {
	ready.Store(true)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:   "welcome",
		Type:   registryroute.RouteTypeMain,
		Loader: mountWelcome,
	})
	registryroute.Register(registryroute.Plugin{
		Name:   "system",
		Type:   registryroute.RouteTypeManagement,
		Loader: mountHealthChecks,
	})
}

func mountWelcome(r *gin.Engine, _ registryroute.Services) error {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Welcome to ThreadFlow API"})
	})
	return nil
}

func mountHealthChecks(r *gin.Engine, svc registryroute.Services) error {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if !ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "providers": configuredProviders(svc.Providers)})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return nil
}

// configuredProviders lists the providers that have credentials. A service
// with none is still ready: it can serve history, only /chat fails.
func configuredProviders(catalog *registryprovider.Catalog) []string {
	names := []string{}
	if catalog == nil {
		return names
	}
	for name, a := range catalog.Describe() {
		if a.Available {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
