package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
	}

	Server struct {
		opts     Options
		conf     *core.Config
		logger   core.Logger
		services *shared.App
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ http.Handler = (*Server)(nil)

func NewServer(conf *core.Config, logger core.Logger, services *shared.App, opts Options) *Server {
	if opts.Address == "" {
		opts.Address = conf.Server.Address
	}
	s := &Server{
		opts:     opts,
		conf:     conf,
		logger:   logger,
		services: services,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.Debug = s.conf.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.logger, s.services.Translator)

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1", newKeyAuth(s.conf.Server.APIKeyHash))
	registerStatusAPI(v1, s.services)
	registerCourseAPI(v1, s.services)
	registerMappingAPI(v1, s.services)
	registerReportAPI(v1, s.services)
}

// Start blocks until the server stops. Failures other than a shutdown are sent to Errors.
func (s *Server) Start() {
	s.logger.Info("API listening on " + s.opts.Address)
	if err := s.app.Start(s.opts.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the "+s.conf.AppName+" API!")
}
