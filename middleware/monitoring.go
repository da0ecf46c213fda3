// middleware/monitoring.go
package middleware

import (
	"errors"
	"strconv"
	"time"

	"challenge-engine/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MonitorMiddleware records request counts and latency per route template,
// so ids in paths do not explode label cardinality.
func MonitorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		path := c.Route().Path
		metrics.HTTPRequestsTotal.WithLabelValues(path, c.Method(), strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(path, c.Method()).Observe(time.Since(start).Seconds())
		return err
	}
}

// MetricsHandler serves the prometheus registry behind basic auth. With no
// credentials configured the endpoint answers 404.
func MetricsHandler(user, pass string) []fiber.Handler {
	if user == "" || pass == "" {
		return []fiber.Handler{func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNotFound)
		}}
	}
	return []fiber.Handler{
		basicauth.New(basicauth.Config{
			Users: map[string]string{user: pass},
			Realm: "Metrics",
		}),
		adaptor.HTTPHandler(promhttp.Handler()),
	}
}
