// Package server exposes the run history and fingerprint state over a
// read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"synmigrate/internal/logger"
	"synmigrate/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRunLimit = 20

type Server struct {
	echo  *echo.Echo
	runs  *repository.RunRepository
	fps   *repository.FingerprintRepository
	addr  string
	errCh chan error
}

func New(runs *repository.RunRepository, fps *repository.FingerprintRepository, addr string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:  e,
		runs:  runs,
		fps:   fps,
		addr:  addr,
		errCh: make(chan error, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)

	g := s.echo.Group("/runs")
	g.GET("", s.handleListRuns)
	g.GET("/:id", s.handleGetRun)

	s.echo.GET("/fingerprints", s.handleFingerprints)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens in the background. Errors other than a clean shutdown are
// delivered on ErrCh.
func (s *Server) Start() {
	go func() {
		logger.Log.Info("history server started", zap.String("addr", s.addr))

		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("history server error", zap.Error(err))
			s.errCh <- err
		}
	}()
}

func (s *Server) ErrCh() <-chan error {
	return s.errCh
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func (s *Server) handleStatus(c echo.Context) error {
	stats, err := s.runs.GetStats()
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"stats":  stats,
	})
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := defaultRunLimit
	if n := c.QueryParam("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || v < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "n must be a positive integer"})
		}
		limit = v
	}

	runs, err := s.runs.GetRecent(limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.runs.GetByRunID(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleFingerprints(c echo.Context) error {
	repo := c.QueryParam("repo")
	if repo == "" {
		repos, err := s.fps.Repos()
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"repos": repos})
	}

	records, err := s.fps.GetByRepo(repo)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"repo":         repo,
		"fingerprints": records,
	})
}
