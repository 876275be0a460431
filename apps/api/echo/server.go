package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/notebook"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/ratelimit"
	"github.com/trezcool/coursekit/core/user"
	certsvc "github.com/trezcool/coursekit/services/certificate"
)

type ServerDeps struct {
	Conf        *core.Config
	Logger      core.Logger
	Validate    *validator.Validate
	Translator  ut.Translator
	UserSvc     *user.Service
	PurchaseSvc *purchase.Service
	Resolver    *access.Resolver
	Gate        *access.Gate
	ProgressSvc *progress.Service
	ChatSvc     *chat.Service
	NotebookSvc *notebook.Service
	CertSvc     *certsvc.Service
	Pipeline    *checkout.Pipeline
	Notifier    core.Notifier
	Limiter     *ratelimit.Limiter
}

type Server struct {
	app      *echo.Echo
	addr     string
	appName  string
	logger   core.Logger
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		app:      echo.New(),
		addr:     deps.Conf.Server.Address(),
		appName:  deps.Conf.AppName,
		logger:   deps.Logger,
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	conf := deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug && !conf.TestMode

	s.app.GET("/", s.home)

	auth := NewAuth(conf)
	jwt := auth.Middleware()

	registerWebhookAPI(s.app.Group("/webhooks"), deps.Pipeline, deps.Logger)
	registerDemoAPI(s.app.Group("/demo"), deps.ChatSvc, deps.Limiter)

	v1 := s.app.Group("/v1")
	registerUserAPI(v1, jwt, auth, deps.UserSvc, deps.Resolver, deps.Validate)
	registerCourseAPI(v1, jwt, auth.OptionalMiddleware(), deps.UserSvc, deps.Resolver, deps.Gate, deps.ProgressSvc, deps.CertSvc, deps.Notifier, deps.Logger)
	registerChatAPI(v1, jwt, deps.ChatSvc)
	registerNotebookAPI(v1, jwt, deps.NotebookSvc)
	registerAdminAPI(v1, jwt, deps.PurchaseSvc, deps.UserSvc, deps.Notifier, deps.Validate)
}

// Start blocks until the server stops. Listen errors are sent to Errors().
func (s *Server) Start() {
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.logger.Info(fmt.Sprintf("API listening on %s", s.addr))
	if err := s.app.Start(s.addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.appName+" API!")
}
