package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/hilthontt/escrow/internal/infrastructure/metrics"
	"github.com/hilthontt/escrow/internal/infrastructure/ratelimiter"
	healthHandler "github.com/hilthontt/escrow/internal/presentation/handler/health"
	messageHandler "github.com/hilthontt/escrow/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/escrow/internal/presentation/handler/rooms"
	userHandler "github.com/hilthontt/escrow/internal/presentation/handler/users"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Application struct {
	config         configs.Config
	roomHandler    *roomHandler.Handler
	messageHandler *messageHandler.Handler
	userHandler    *userHandler.Handler
	healthHandler  *healthHandler.Handler
	logger         logging.Logger
	metrics        *metrics.Metrics
	ratelimiter    ratelimiter.Limiter
}

func NewApplication(
	config configs.Config,
	roomHandler *roomHandler.Handler,
	messageHandler *messageHandler.Handler,
	userHandler *userHandler.Handler,
	healthHandler *healthHandler.Handler,
	logger logging.Logger,
	metrics *metrics.Metrics,
	ratelimiter ratelimiter.Limiter,
) *Application {
	return &Application{
		config:         config,
		roomHandler:    roomHandler,
		messageHandler: messageHandler,
		userHandler:    userHandler,
		healthHandler:  healthHandler,
		logger:         logger,
		metrics:        metrics,
		ratelimiter:    ratelimiter,
	}
}

// Mount builds the router. The websocket route sits outside the request
// timeout since its handler lives as long as the connection.
func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	r.Get("/ws/{phrase}/{userId}", app.roomHandler.ConnectHandler)
	if app.metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(app.rateLimiterMiddleware)

		r.Post("/register", app.userHandler.RegisterHandler)
		r.Get("/users/{userId}", app.userHandler.GetUserHandler)
		r.Get("/wallets/{userId}", app.userHandler.GetWalletHandler)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", app.roomHandler.ListRoomsHandler)
			r.Post("/", app.roomHandler.CreateRoomHandler)
			r.Get("/{phrase}", app.roomHandler.GetRoomHandler)
			r.Post("/{phrase}/evidence", app.roomHandler.SubmitEvidenceHandler)
			r.Get("/{phrase}/contract/signatures", app.roomHandler.SignaturesHandler)
			r.Post("/{phrase}/timeout", app.roomHandler.TimeoutHandler)
			r.Get("/{phrase}/audit", app.roomHandler.AuditHandler)
			r.Get("/{phrase}/messages", app.messageHandler.ListMessagesHandler)
			r.Post("/{phrase}/messages", app.messageHandler.CreateMessageHandler)
		})

		r.Get("/audit/events", app.roomHandler.EventsHandler)

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetHealth)
		r.Get("/live", app.healthHandler.GetHealth)
		r.Get("/ready", app.healthHandler.GetReady)
	})

	return otelhttp.NewHandler(r, "escrow.http")
}

// Run serves mux until ctx ends, then drains in-flight requests.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.HTTP.Addr(),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "server shutting down", map[logging.ExtraKey]any{
			logging.HostIp: srv.Addr,
		})
		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})
	return nil
}
