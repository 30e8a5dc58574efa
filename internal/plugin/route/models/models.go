package models

import (
	"net/http"

	"github.com/charmbracelet/log"
	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "models",
		Order: 40,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, svc registryroute.Services) error {
			MountRoutes(r, svc.Providers)
			return nil
		},
	})
}

// MountRoutes mounts the unauthenticated model catalog.
func MountRoutes(r *gin.Engine, catalog *registryprovider.Catalog) {
	r.GET("/models", func(c *gin.Context) {
		log.Debug("Models requested")
		c.JSON(http.StatusOK, catalog.Describe())
	})
}
