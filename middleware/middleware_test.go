package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func newTestApp(limiter *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret", "/health"))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	secured := app.Group("/", UserContextMiddleware())
	if limiter != nil {
		secured.Use(limiter.Handler())
	}
	secured.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c), "admin": HasRole(c, "admin")})
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp.StatusCode
}

func TestGatewayAndUserContext(t *testing.T) {
	app := newTestApp(nil)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"health is open", "/health", nil, http.StatusOK},
		{"missing token", "/whoami", map[string]string{"X-User-ID": "u1"}, http.StatusUnauthorized},
		{"wrong token", "/whoami", map[string]string{"Authorization": "Bearer nope", "X-User-ID": "u1"}, http.StatusUnauthorized},
		{"missing user", "/whoami", map[string]string{"Authorization": "Bearer secret"}, http.StatusUnauthorized},
		{"bearer token", "/whoami", map[string]string{"Authorization": "Bearer secret", "X-User-ID": "u1"}, http.StatusOK},
		{"raw token", "/whoami", map[string]string{"Authorization": "secret", "X-User-ID": "u1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doRequest(t, app, tt.path, tt.headers); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	app := newTestApp(NewRateLimiter(0.001, 2))
	alice := map[string]string{"Authorization": "Bearer secret", "X-User-ID": "alice"}
	bob := map[string]string{"Authorization": "Bearer secret", "X-User-ID": "bob"}

	for i := 0; i < 2; i++ {
		if got := doRequest(t, app, "/whoami", alice); got != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, got)
		}
	}
	if got := doRequest(t, app, "/whoami", alice); got != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", got)
	}
	if got := doRequest(t, app, "/whoami", bob); got != http.StatusOK {
		t.Fatalf("other users keep their own bucket, got %d", got)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.getLimiter("a")
	rl.evict(time.Now().Add(time.Minute))
	if len(rl.visitors) != 1 {
		t.Fatalf("recent visitor evicted")
	}
	rl.evict(time.Now().Add(time.Hour))
	if len(rl.visitors) != 0 {
		t.Fatalf("expected idle visitor evicted")
	}
}

func TestMetricsHandlerDisabledWithoutCredentials(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler("", "")...)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	app = fiber.New()
	app.Get("/metrics", MetricsHandler("prom", "pw")...)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("prom", "pw")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", resp.StatusCode)
	}
}
