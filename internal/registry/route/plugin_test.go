package route

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPlugins(t *testing.T, ps ...Plugin) {
	saved := plugins
	plugins = ps
	t.Cleanup(func() { plugins = saved })
}

func TestMount_OrdersByTypeAndOrder(t *testing.T) {
	var mounted []string
	loader := func(name string) RouterLoader {
		return func(r *gin.Engine, _ Services) error {
			mounted = append(mounted, name)
			r.GET("/"+name, func(c *gin.Context) { c.Status(http.StatusNoContent) })
			return nil
		}
	}
	withPlugins(t,
		Plugin{Name: "late", Order: 20, Type: RouteTypeMain, Loader: loader("late")},
		Plugin{Name: "health", Order: 0, Type: RouteTypeManagement, Loader: loader("health")},
		Plugin{Name: "early", Order: 10, Type: RouteTypeMain, Loader: loader("early")},
	)

	assert.Equal(t, []string{"early", "late"}, Names(RouteTypeMain))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, Mount(r, RouteTypeMain, Services{}))
	assert.Equal(t, []string{"early", "late"}, mounted)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMount_ReportsFailingPlugin(t *testing.T) {
	withPlugins(t, Plugin{Name: "broken", Type: RouteTypeMain, Loader: func(*gin.Engine, Services) error {
		return errors.New("boom")
	}})
	err := Mount(gin.New(), RouteTypeMain, Services{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
