package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/handlers"
	"github.com/PortNumber53/saas-starter/internal/middleware"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

// Deps are the collaborators the routes are built from. Nil groups are not
// mounted.
type Deps struct {
	DB       handlers.Pinger
	Verifier handlers.EventVerifier
	Ingester handlers.EventIngester
	Accounts handlers.AccountStore
	Billing  handlers.BillingStore
	Checkout handlers.CheckoutProvider
	Jobs     handlers.JobStore
	Events   handlers.EventLog
	Worker   *worker.Worker
	Logger   *zap.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer      *http.Server
	worker          *worker.Worker
	feedbackLimiter *middleware.KeyedLimiter
	logger          *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeDone sync.Once
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.AccessLog(logger))
	router.Use(chimw.Recoverer)

	router.Get("/healthz", handlers.Health)
	if deps.DB != nil {
		router.Get("/readyz", handlers.Ready(deps.DB, logger))
	}

	if deps.Verifier != nil && deps.Ingester != nil {
		webhook := handlers.StripeWebhook(deps.Verifier, deps.Ingester, logger.Named("webhook"))
		router.Post("/api/webhooks", webhook)
		router.Post("/api/webhooks/stripe", webhook)
	}

	var billingHandler *handlers.BillingHandler
	if deps.Billing != nil {
		billingHandler = handlers.NewBillingHandler(deps.Billing, deps.Checkout, cfg.SiteURL, logger)
		billingHandler.RegisterPublicRoutes(router)
	}

	limiter := middleware.NewKeyedLimiter(cfg.FeedbackRatePerMinute, logger)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticator(cfg.AuthJWTSecret, logger))
		if deps.Accounts != nil {
			handlers.NewAccountHandler(deps.Accounts, limiter, logger).RegisterRoutes(r)
		}
		if billingHandler != nil && deps.Checkout != nil {
			billingHandler.RegisterRoutes(r)
		}
	})

	if cfg.AdminAPIToken != "" && deps.Jobs != nil {
		var runner handlers.JobRunner
		if deps.Worker != nil {
			runner = deps.Worker
		}
		router.Group(func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.AdminAPIToken))
			handlers.NewJobHandler(deps.Jobs, deps.Events, runner, logger).RegisterRoutes(r)
		})
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer:      srv,
		worker:          deps.Worker,
		feedbackLimiter: limiter,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}
}

// Start begins serving HTTP traffic and starts the worker. It blocks until
// Shutdown has finished, including the worker's release of in-flight jobs.
func (s *Server) Start() error {
	go s.feedbackLimiter.RunSweeper(s.ctx, 5*time.Minute, 10*time.Minute)
	if s.worker != nil {
		s.worker.Start(s.ctx)
	}

	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.stopBackground(context.Background())
		return err
	}

	<-s.done
	return nil
}

// Shutdown stops the worker, then the HTTP server. The worker goes first so
// that jobs it holds are back in pending before Start returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopBackground(ctx)
	err := s.httpServer.Shutdown(ctx)
	s.closeDone.Do(func() { close(s.done) })
	return err
}

func (s *Server) stopBackground(ctx context.Context) {
	if s.worker != nil {
		if err := s.worker.Stop(ctx); err != nil {
			s.logger.Error("worker shutdown", zap.Error(err))
		}
	}
	s.cancel()
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
