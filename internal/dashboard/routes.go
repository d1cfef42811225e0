package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/inflight"
	"github.com/zulandar/ember/internal/review"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func (s *server) registerRoutes(router *gin.Engine) {
	staticFS, _ := fs.Sub(assetsFS, "assets")
	router.StaticFS("/static", http.FS(staticFS))

	// Pages and fragments.
	router.GET("/", s.handleIndex)
	router.GET("/partials/main", s.handleMainPartial)
	router.GET("/partials/panel", s.handlePanelPartial)

	g := router.Group("/api")
	g.GET("/state", s.handleState)
	g.GET("/panel", s.handlePanel)
	g.GET("/events", s.handleEvents)

	// Select.
	g.POST("/select/:id/toggle", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Drain.Toggle(c.Param("id"))
	}))
	g.POST("/select/auto", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Drain.AutoPick()
	}))
	g.POST("/select/all", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Drain.SelectAllReady()
	}))
	g.POST("/select/clear", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		s.console.Drain.Clear()
		return nil, nil
	}))

	// Drain lifecycle.
	g.POST("/drain/begin", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return s.console.Drain.Begin(ctx)
	}))
	g.POST("/drain/abort", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Drain.Abort(ctx)
	}))
	g.POST("/drain/new", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		s.console.Drain.NewBurn()
		return nil, nil
	}))

	// Failures.
	g.POST("/jobs/:id/retry", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Remediator.RetryOne(ctx, c.Param("id"))
	}))
	g.POST("/jobs/:id/skip", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return nil, s.console.Skip(ctx, c.Param("id"))
	}))
	g.POST("/groups/:category/retry", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		failed, err := s.console.RetryGroup(ctx, c.Param("category"))
		return gin.H{"failed": failed}, err
	}))
	g.POST("/failed/retry", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		failed, err := s.console.RetryAllFailed(ctx)
		return gin.H{"failed": failed}, err
	}))

	// Pull requests and checklist.
	g.POST("/prs/:number/merge", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		n, err := intParam(c, "number")
		if err != nil {
			return nil, err
		}
		return nil, s.console.MergeOne(ctx, "", n)
	}))
	g.POST("/prs/merge-ready", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return gin.H{"failed": s.console.MergeReady(ctx)}, nil
	}))
	g.POST("/checklist/:index/toggle", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		i, err := intParam(c, "index")
		if err != nil {
			return nil, err
		}
		if items, _ := s.console.Checklist.Items(); i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: checklist item %d", app.ErrNotFound, i)
		}
		checked, err := s.console.Checklist.Toggle(ctx, i)
		return gin.H{"checked": checked}, err
	}))

	// Dispatch.
	g.POST("/beads/:id/dispatch", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		return s.console.Dispatch(ctx, c.Param("id"))
	}))
	g.POST("/autodispatch", s.action(func(ctx context.Context, c *gin.Context) (any, error) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, badRequest{err}
		}
		s.console.SetAutoDispatch(req.Enabled)
		return gin.H{"enabled": s.console.AutoDispatching()}, nil
	}))
}

func (s *server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "layout.html", gin.H{
		"project": s.console.Project,
		"state":   buildState(s.console, c.Query("q"), s.now()),
	})
}

func (s *server) handleMainPartial(c *gin.Context) {
	c.HTML(http.StatusOK, "main", buildState(s.console, c.Query("q"), s.now()))
}

func (s *server) handlePanelPartial(c *gin.Context) {
	v, err := s.panel(c)
	if err != nil {
		c.HTML(errorStatus(err), "panel-error", gin.H{"error": err.Error()})
		return
	}
	c.HTML(http.StatusOK, "panel", v)
}

func (s *server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, buildState(s.console, c.Query("q"), s.now()))
}

func (s *server) handlePanel(c *gin.Context) {
	v, err := s.panel(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *server) panel(c *gin.Context) (PanelView, error) {
	p, err := ParsePanel(c.Query("kind"), c.Query("id"))
	if err != nil {
		return PanelView{}, badRequest{err}
	}
	return buildPanel(c.Request.Context(), s.console, p)
}

// action adapts a workflow action to a JSON handler. The response carries
// the action's result and the state after it.
func (s *server) action(fn func(ctx context.Context, c *gin.Context) (any, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := fn(c.Request.Context(), c)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":     true,
			"result": result,
			"state":  buildState(s.console, c.Query("q"), s.now()),
		})
	}
}

func (s *server) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("dashboard action failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

// badRequest marks a malformed request.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func intParam(c *gin.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil {
		return 0, badRequest{err}
	}
	return n, nil
}

// errorStatus maps an action error to an HTTP status.
func errorStatus(err error) int {
	var br badRequest
	var apiErr *api.Error
	switch {
	case errors.As(err, &br), errors.Is(err, drain.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, drain.ErrWrongPhase), errors.Is(err, drain.ErrPending), errors.Is(err, inflight.ErrBusy),
		errors.Is(err, review.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
