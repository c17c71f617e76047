package middleware

import (
	"strings"
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
)

var (
	promMu        sync.Mutex
	promInstances = map[string]*fiberprometheus.FiberPrometheus{}
)

// InitMetrics builds the HTTP metrics collector for the given service name.
// Collectors register on the default registry, so one instance is shared per
// service name.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promMu.Lock()
	defer promMu.Unlock()
	if p, ok := promInstances[serviceName]; ok {
		return p
	}
	p := fiberprometheus.New(serviceName)
	promInstances[serviceName] = p
	return p
}

// MetricsMiddleware records HTTP metrics, skipping the websocket upgrade path
// whose duration is the lifetime of the connection.
func MetricsMiddleware(prom *fiberprometheus.FiberPrometheus) fiber.Handler {
	handler := prom.Middleware
	return func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/api/ws") && c.Method() == fiber.MethodGet {
			return c.Next()
		}
		return handler(c)
	}
}
