// Package dashboard serves the burn workflow of one project over HTTP: an
// HTML page kept live by server-sent events, plus JSON routes for every
// workflow action.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ember/internal/app"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Console *app.Console
	Port    int
	Out     io.Writer
	Logger  *slog.Logger
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Console == nil {
		return fmt.Errorf("dashboard: console is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Console, opts.Logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard for %s running at http://localhost:%d\n", opts.Console.Project, opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the dashboard routes for console. The gin mode is left
// to the caller.
func NewRouter(console *app.Console, logger *slog.Logger) (*gin.Engine, error) {
	if console == nil {
		return nil, fmt.Errorf("dashboard: console is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	s := &server{console: console, logger: logger, now: time.Now}
	s.registerRoutes(router)
	return router, nil
}

// parseTemplates loads the embedded HTML templates.
func parseTemplates() (*template.Template, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

// server holds what the route handlers share.
type server struct {
	console *app.Console
	logger  *slog.Logger
	now     func() time.Time
}
