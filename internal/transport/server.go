// Package transport builds the fiber application shared by every HTTP route.
package transport

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/practice-sync/internal/observability"
	"go.uber.org/zap"
)

const bodyLimit = 1 << 20

// NewApp returns a fiber app with request ids, panic recovery and JSON error
// bodies. When metrics is non-nil every request is measured and the registry
// is served on /metrics.
func NewApp(logger *zap.Logger, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "practice-sync",
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ErrorHandler:          ErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	if metrics != nil {
		app.Use(metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	return app
}
