package route

import (
	"fmt"
	"sort"

	registryprovider "github.com/chirino/threadflow/internal/registry/provider"
	"github.com/chirino/threadflow/internal/service"
	"github.com/gin-gonic/gin"
)

// Services is what route plugins mount handlers for.
type Services struct {
	Chat          *service.Chat
	Conversations *service.Conversations
	Providers     *registryprovider.Catalog
	// Auth resolves the caller. Protected routes put it in front of their handlers.
	Auth gin.HandlerFunc
}

// RouterLoader mounts a plugin's routes on the gin engine.
type RouterLoader func(r *gin.Engine, svc Services) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers routes on the management server (health, metrics).
	// When no dedicated management port is configured, these are mounted on the main server.
	RouteTypeManagement
)

// Plugin is a named set of routes. Plugins of one type mount in ascending Order.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names lists the registered plugins of type t in mount order.
func Names(t RouteType) []string {
	var names []string
	for _, p := range ofType(t) {
		names = append(names, p.Name)
	}
	return names
}

// Mount runs the loader of every plugin of type t against r.
func Mount(r *gin.Engine, t RouteType, svc Services) error {
	for _, p := range ofType(t) {
		if err := p.Loader(r, svc); err != nil {
			return fmt.Errorf("mount %s routes: %w", p.Name, err)
		}
	}
	return nil
}

func ofType(t RouteType) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
