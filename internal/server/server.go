// Package server contains HTTP and WebSocket handlers for the matching and conversation API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "mazl/docs" // swagger docs registration
	"mazl/internal/bootstrap"
	"mazl/internal/config"
	"mazl/internal/events"
	"mazl/internal/featureflags"
	"mazl/internal/middleware"
	"mazl/internal/models"
	"mazl/internal/notifications"
	"mazl/internal/observability"
	"mazl/internal/repository"
	"mazl/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const serviceName = "mazl-api"

// Server holds all dependencies for the HTTP server
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	runtime        *bootstrap.Runtime
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	auth           *middleware.Authenticator
	featureFlags   *featureflags.Manager
	events         events.Publisher

	chatRepo     repository.ChatRepository
	chatService  *service.ChatService
	matchService *service.MatchService

	presence   *notifications.Presence
	registry   *notifications.Registry
	notifier   *notifications.Notifier
	dispatcher *notifications.Dispatcher
	wsLog      *observability.WSLogger

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// NewServer connects every runtime dependency and builds the server.
func NewServer(cfg *config.Config) (*Server, error) {
	rt, err := bootstrap.InitRuntime(cfg, bootstrap.Options{ConnectNATS: true})
	if err != nil {
		return nil, err
	}

	s, err := NewServerWithDeps(cfg, rt.DB, rt.Redis, rt.Publisher)
	if err != nil {
		rt.Close()
		return nil, err
	}
	s.runtime = rt
	return s, nil
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient and publisher may be nil: without Redis the server delivers
// realtime events to local channels only and issues no websocket tickets.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, publisher events.Publisher) (*Server, error) {
	if cfg == nil || db == nil {
		return nil, errors.New("server requires config and database")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics(serviceName),
		auth:           middleware.NewAuthenticator(cfg, redisClient),
		featureFlags:   featureflags.NewManager(cfg.FeatureFlags),
		events:         publisher,
		chatRepo:       repository.NewChatRepository(db),
		wsLog:          observability.NewWSLogger("realtime"),
	}

	s.presence = notifications.NewPresence(redisClient, notifications.PresenceConfig{})
	s.registry = notifications.NewRegistry(notifications.RegistryConfig{
		MaxConnsPerUser: cfg.WSMaxConnsPerUser,
		Presence:        s.presence,
	})
	s.notifier = notifications.NewNotifier(redisClient)
	s.dispatcher = notifications.NewDispatcher(s.chatRepo, s.registry, s.notifier)

	s.chatService = service.NewChatService(s.chatRepo, db, s.presence, publisher)
	s.matchService = service.NewMatchService(
		repository.NewSwipeRepository(db),
		repository.NewMatchRepository(db),
		s.chatService,
		db,
		redisClient,
		publisher,
	)

	return s, nil
}

// NewApp builds the fiber app with middleware and routes installed.
func (s *Server) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Mazl API",
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled error",
		slog.String("path", c.Path()),
		slog.String("error", err.Error()),
	)
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Propagate request and user ids into the request context
	app.Use(middleware.ContextMiddleware())
	app.Use(middleware.TracingMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// Global per-IP limit; per-user limits sit on the write routes.
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || s.config.Env == "test"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	protected := api.Group("", s.auth.Required())

	protected.Post("/swipes", middleware.RateLimit(
		s.redis, 120, time.Minute, "swipe"), s.RecordSwipe)

	matches := protected.Group("/matches")
	matches.Get("/", s.GetMatches)
	matches.Get("/:id", s.GetMatch)

	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(
		s.redis, 30, time.Minute, "send_message"), s.SendMessage)
	conversations.Post("/:id/read", s.MarkConversationRead)
	conversations.Post("/:id/typing", middleware.RateLimit(
		s.redis, 20, 10*time.Second, "typing"), s.SendTyping)

	protected.Get("/feature-flags", s.GetFeatureFlags)

	// Ticket issuance takes a bearer token; the channel itself takes only the ticket.
	protected.Post("/ws/ticket", s.IssueWSTicket)
	protected.Get("/ws", s.WebSocketHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now().UTC(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	healthy := true
	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus, healthy = "unhealthy", false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus, healthy = "unhealthy", false
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus, healthy = "unhealthy", false
		}
	}

	natsStatus := "disabled"
	if s.runtime != nil && s.runtime.NATS != nil {
		natsStatus = "healthy"
		if !s.runtime.NATS.IsConnected() {
			// Push events are best-effort; a reconnecting NATS does not fail readiness.
			natsStatus = "reconnecting"
		}
	}

	status := fiber.StatusOK
	overall := "ready"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		overall = "not_ready"
	}
	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"nats":     natsStatus,
		},
		"connections": s.registry.Count(),
	})
}

// Start wires cross-instance delivery and listens on the configured port.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	s.app = s.NewApp()

	if err := s.dispatcher.Start(s.shutdownCtx); err != nil {
		// Local delivery still works; other instances just will not see our events.
		middleware.Logger.Warn("realtime subscriber not started", slog.String("error", err.Error()))
	}

	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	var errs []error
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
	}

	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown realtime: %w", err))
	}

	if s.runtime != nil {
		s.runtime.Close()
	} else {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close db: %w", cerr))
			}
		}
		if s.redis != nil {
			if rerr := s.redis.Close(); rerr != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", rerr))
			}
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return errors.Join(errs...)
}
