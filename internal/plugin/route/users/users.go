package users

import (
	"net/http"

	"github.com/chirino/threadflow/internal/plugin/route/apierror"
	registryroute "github.com/chirino/threadflow/internal/registry/route"
	"github.com/chirino/threadflow/internal/security"
	"github.com/gin-gonic/gin"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "users",
		Order: 30,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r *gin.Engine, svc registryroute.Services) error {
			MountRoutes(r, svc.Auth)
			return nil
		},
	})
}

// MountRoutes mounts GET /users/me behind auth.
func MountRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/users/me", auth, func(c *gin.Context) {
		user := security.GetUser(c)
		if user == nil {
			apierror.Write(c, security.ErrUnauthenticated)
			return
		}
		c.JSON(http.StatusOK, user)
	})
}
