package serve

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const corsPreflightMaxAge = 10 * 60

// corsPolicy answers browser cross-origin checks for the chat UI. The method
// and header lists cover what the public routes accept.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	maxAge    string
}

func newCORSPolicy(originsCSV string) *corsPolicy {
	p := &corsPolicy{
		origins: map[string]struct{}{},
		methods: strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", "),
		headers: "Authorization, Content-Type",
		maxAge:  strconv.Itoa(corsPreflightMaxAge),
	}
	for _, part := range strings.Split(originsCSV, ",") {
		origin := strings.TrimRight(strings.TrimSpace(part), "/")
		switch origin {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.anyOrigin = true
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.anyOrigin {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// handler echoes the request origin rather than "*" so credentialed requests
// are accepted by browsers.
func (p *corsPolicy) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		allowed := p.allows(origin)
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !preflight {
			c.Next()
			return
		}
		if allowed {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Methods", p.methods)
			h.Set("Access-Control-Allow-Headers", p.headers)
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}
