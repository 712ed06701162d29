package main

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ilvar/espg/internal/catalog"
	"github.com/ilvar/espg/internal/eserr"
	"github.com/ilvar/espg/internal/logger"
	"github.com/ilvar/espg/internal/metrics"
	"github.com/ilvar/espg/internal/search"
)

type server struct {
	catalog  *catalog.Catalog
	searcher *search.Searcher
	ping     func(ctx context.Context) error
	// limiter throttles searches; nil means unlimited.
	limiter *rate.Limiter
}

func newServer(cat *catalog.Catalog, searcher *search.Searcher) *server {
	return &server{catalog: cat, searcher: searcher}
}

func (s *server) app() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		UnescapePath:          true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return writeJSON(c, fe.Code, eserr.New(fe.Code, "illegal_argument_exception", fe.Message, nil).Body())
			}
			return writeError(c, err)
		},
	})
	app.Use(recover.New())
	s.registerRoutes(app)
	return app
}

func (s *server) registerRoutes(app *fiber.App) {
	app.Get("/", s.handleRoot)
	app.Get("/_cluster/health", s.handleClusterHealth)
	app.Get("/_metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/_bulk", s.handleBulk)
	for _, path := range []string{"/_search", "/:index/_search", "/:index/:type/_search"} {
		app.Get(path, s.throttle, s.handleSearch)
		app.Post(path, s.throttle, s.handleSearch)
	}

	app.Head("/:index", s.handleHeadIndex)
	app.Get("/:index", s.handleGetIndex)
	app.Put("/:index", s.handleCreateIndex)
	app.Delete("/:index", s.handleDeleteIndex)

	app.Post("/:index/_bulk", s.handleBulk)
	app.Post("/:index/_delete_by_query", s.handleDeleteByQuery)
	app.Post("/:index/_doc", s.handleCreateDocument)
	app.Put("/:index/_doc/:id", s.handleUpsertDocument)
	app.Post("/:index/_doc/:id", s.handleUpsertDocument)
	app.Get("/:index/_doc/:id", s.handleGetDocument)
	app.Delete("/:index/_doc/:id", s.handleDeleteDocument)
}

// throttle rejects searches above the configured rate with a 429.
func (s *server) throttle(c *fiber.Ctx) error {
	if s.limiter == nil || s.limiter.Allow() {
		return c.Next()
	}
	err := eserr.RejectedExecution()
	observe(c, time.Now(), err)
	return writeError(c, err)
}

// requestLogger tags every log line of one request with a fresh search_id.
func requestLogger(c *fiber.Ctx) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	l := logger.Get().With("search_id", id, "method", c.Method(), "path", c.Path())
	return search.WithLogger(c.UserContext(), l), l
}

// observe records the search metrics for one finished request.
func observe(c *fiber.Ctx, start time.Time, err error) {
	path := c.Route().Path
	status := fiber.StatusOK
	if err != nil {
		status = eserr.From(err).Status
	}
	metrics.SearchTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	metrics.SearchDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

func writeJSON(c *fiber.Ctx, status int, payload any) error {
	c.Status(status)
	return c.JSON(payload)
}

// writeError renders err as an Elasticsearch error body. Failures that are not
// already typed are reported as shard failures.
func writeError(c *fiber.Ctx, err error) error {
	e := eserr.From(err)
	if e.Status >= fiber.StatusInternalServerError {
		logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return writeJSON(c, e.Status, e.Body())
}
