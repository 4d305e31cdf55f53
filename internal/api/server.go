// Package api serves the search engine and ingest coordinator over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// shutdownTimeout bounds graceful shutdown once the context is done.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP serving layer.
type Server struct {
	app        *fiber.App
	listenAddr string
	logger     *slog.Logger
}

// NewServer creates a server with every route registered. A nil logger uses
// slog.Default.
func NewServer(addr string, searcher Searcher, indexer Indexer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestLogger(logger))

	var (
		checkHandler    = NewCheckHandler()
		searchHandler   = NewSearchHandler(searcher)
		documentHandler = NewDocumentHandler(indexer)
		check           = app.Group("/check")
		apiv1           = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/search", searchHandler.HandleSearch(""))
	apiv1.Post("/search/vector", searchHandler.HandleSearch(search.ModeVectorOnly))
	apiv1.Post("/search/lexical", searchHandler.HandleSearch(search.ModeLexicalOnly))
	apiv1.Get("/citations/:chunk_id", searchHandler.HandleCitation)
	apiv1.Post("/citations/batch", searchHandler.HandleCitationBatch)
	apiv1.Get("/stats", searchHandler.HandleStats)

	apiv1.Post("/documents", documentHandler.HandleIngest)
	apiv1.Get("/documents/:id", documentHandler.HandleGet)
	apiv1.Delete("/documents/:id", documentHandler.HandleDelete)
	apiv1.Delete("/owners/:owner_id", documentHandler.HandleDeleteOwner)

	return &Server{app: app, listenAddr: addr, logger: logger}
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", slog.String("addr", s.listenAddr))
		errCh <- s.app.Listen(s.listenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("server_stopped")
	return nil
}

// requestLogger logs every request at debug, and failures at warn.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		level := slog.LevelDebug
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.UserContext(), level, "http_request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(start)))
		return err
	}
}
