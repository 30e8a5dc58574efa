package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors stay nil until InitMetrics runs; every recorder below is then a no-op.
var (
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	storeLatency         *prometheus.HistogramVec
	providerLatency      *prometheus.HistogramVec
	conversationsCreated *prometheus.CounterVec
	cacheLookups         *prometheus.CounterVec
	dbPoolConnections    *prometheus.GaugeVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers the threadflow_* collectors with the given constant
// labels. Only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		f := promauto.With(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer))

		httpRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadflow_http_requests_total",
			Help: "HTTP requests by method, route template and status.",
		}, []string{"method", "route", "status"})
		httpRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadflow_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})
		storeLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadflow_store_latency_seconds",
			Help:    "Conversation store operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "outcome"})
		providerLatency = f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threadflow_provider_latency_seconds",
			Help:    "Model provider call latency by provider and outcome (ok, error, timeout).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"provider", "outcome"})
		conversationsCreated = f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadflow_conversations_created_total",
			Help: "Conversations created, by kind (root or branch).",
		}, []string{"kind"})
		cacheLookups = f.NewCounterVec(prometheus.CounterOpts{
			Name: "threadflow_metadata_cache_lookups_total",
			Help: "Conversation list cache lookups by result (hit or miss).",
		}, []string{"result"})
		dbPoolConnections = f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "threadflow_db_pool_connections",
			Help: "Relational database pool size by state (open or max).",
		}, []string{"state"})
	})
}

// ObserveStore records one store operation. err decides the outcome label.
func ObserveStore(operation string, start time.Time, err error) {
	if storeLatency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	storeLatency.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// ObserveProvider records one model provider call.
func ObserveProvider(provider, outcome string, start time.Time) {
	if providerLatency == nil {
		return
	}
	providerLatency.WithLabelValues(provider, outcome).Observe(time.Since(start).Seconds())
}

// RecordConversationCreated counts a new root conversation or branch.
func RecordConversationCreated(kind string) {
	if conversationsCreated == nil {
		return
	}
	conversationsCreated.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts a conversation list cache hit or miss.
func RecordCacheLookup(hit bool) {
	if cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// SetDBPool publishes the relational pool's open and maximum connections.
func SetDBPool(open, max int) {
	if dbPoolConnections == nil {
		return
	}
	dbPoolConnections.WithLabelValues("open").Set(float64(open))
	dbPoolConnections.WithLabelValues("max").Set(float64(max))
}

// MetricsMiddleware records HTTP request metrics for Prometheus. Requests that
// match no route share the "unmatched" label so scanners cannot grow the
// label space.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
