// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/amirphl/Kura/app/dto"
	"github.com/amirphl/Kura/app/handlers"
	"github.com/amirphl/Kura/app/middleware"
	"github.com/amirphl/Kura/config"
	"github.com/amirphl/Kura/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthPath = "/api/v1/health"

// HealthCheck reports whether the stores behind the API are reachable
type HealthCheck func(ctx context.Context) error

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app                 *fiber.App
	cfg                 *config.ProductionConfig
	logger              *log.Logger
	collectionHandler   handlers.CollectionHandlerInterface
	counterAdminHandler handlers.CounterAdminHandlerInterface
	authMiddleware      *middleware.AuthMiddleware
	health              HealthCheck
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	lg *log.Logger,
	collectionHandler handlers.CollectionHandlerInterface,
	counterAdminHandler handlers.CounterAdminHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
	health HealthCheck,
) Router {
	if lg == nil {
		lg = log.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:          "Kura API",
		ServerHeader:     "Kura",
		ErrorHandler:     errorHandler(lg),
		BodyLimit:        cfg.Server.BodyLimit,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		IdleTimeout:      cfg.Server.IdleTimeout,
		ProxyHeader:      cfg.Server.ProxyHeader,
		TrustProxy:       len(cfg.Server.TrustedProxies) > 0,
		TrustProxyConfig: fiber.TrustProxyConfig{Proxies: cfg.Server.TrustedProxies},
		JSONEncoder:      json.Marshal,
		JSONDecoder:      json.Unmarshal,
	})

	return &FiberRouter{
		app:                 app,
		cfg:                 cfg,
		logger:              lg,
		collectionHandler:   collectionHandler,
		counterAdminHandler: counterAdminHandler,
		authMiddleware:      authMiddleware,
		health:              health,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.logger.Println("Setting up routes...")

	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	if r.cfg.Deployment.Environment == "development" || r.cfg.Deployment.Environment == "local" {
		api.Get("/docs", r.getAPIDocumentation)
	}

	if r.cfg.Security.GlobalRateLimit > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        r.cfg.Security.GlobalRateLimit,
			Expiration: r.cfg.Security.RateLimitWindow,
			KeyGenerator: func(c fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
					Success: false,
					Message: "Too many requests. Please try again later.",
					Error:   &dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
				})
			},
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}

	collections := api.Group("/collections/:collection")
	collections.Get("/count", r.collectionHandler.Count)
	collections.Get("/export", r.collectionHandler.Export)
	collections.Get("/", r.collectionHandler.List)
	collections.Post("/", r.collectionHandler.Create)
	collections.Get("/:id", r.collectionHandler.Get)
	collections.Put("/:id", r.collectionHandler.Update)
	collections.Delete("/:id", r.collectionHandler.Delete)

	admin := api.Group("/admin", r.authMiddleware.AdminAuthenticate())
	counters := admin.Group("/counters/:collection")
	counters.Get("/", r.counterAdminHandler.GetCounter)
	counters.Put("/", r.counterAdminHandler.SetCounter)
	counters.Post("/next-id", r.counterAdminHandler.NextID)

	r.app.Use(r.notFoundHandler)

	r.logger.Println("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: uuid.NewString,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				requestid.FromContext(c),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        "nosniff",
		XFrameOptions:             "DENY",
		HSTSMaxAge:                31536000,
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none';",
		ReferrerPolicy:            "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "same-site",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	allowCredentials := r.cfg.Security.AllowCredentials
	if allowCredentials && slices.Contains(r.cfg.Security.AllowedOrigins, "*") {
		r.logger.Println("CORS credentials disabled: wildcard origin configured")
		allowCredentials = false
	}
	maxAge := r.cfg.Security.CORSMaxAge
	if maxAge == 0 {
		maxAge = utils.CORSMaxAge
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	}))

	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
			Next: func(c fiber.Ctx) bool {
				// xlsx exports are already zip archives
				return strings.HasSuffix(c.Path(), "/export")
			},
		}))
	}

	if r.cfg.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","pid":"${pid}","request_id":"${respHeader:X-Request-ID}","level":"info","method":"${method}","path":"${path}","protocol":"${protocol}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Stream:     r.logger.Writer(),
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}

	r.app.Use(middleware.Metrics())
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	data := fiber.Map{
		"status":           "ok",
		"timestamp":        utils.UTCNow().Unix(),
		"version":          r.cfg.Deployment.Version,
		"service":          "kura-api",
		"document_backend": r.cfg.Store.DocumentBackend,
		"counter_backend":  r.cfg.Store.CounterBackend,
	}

	if r.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.health(ctx); err != nil {
			r.logger.Printf("Health check failed: %v", err)
			data["status"] = "degraded"
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.APIResponse{
				Success: false,
				Message: "Store is unavailable",
				Data:    data,
				Error:   &dto.ErrorDetail{Code: "STORE_UNAVAILABLE"},
			})
		}
	}

	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    data,
	})
}

// API documentation endpoint
func (r *FiberRouter) getAPIDocumentation(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "API documentation retrieved successfully",
		Data: fiber.Map{
			"title":       "Kura API Documentation",
			"version":     r.cfg.Deployment.Version,
			"description": "Document CRUD with collision-free record identifiers",
			"endpoints":   GetRouteDocumentation(),
		},
	})
}

// Not found handler
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: &dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":   c.Path(),
				"method": c.Method(),
			},
		},
		RequestID: requestid.FromContext(c),
	})
}

// errorHandler renders errors escaping the handlers
func errorHandler(lg *log.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "An internal server error occurred"
		errCode := "INTERNAL_ERROR"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			if code < fiber.StatusInternalServerError {
				message = e.Message
				errCode = "REQUEST_ERROR"
			}
		}

		lg.Printf("Error %d: %v", code, err)

		return c.Status(code).JSON(dto.APIResponse{
			Success: false,
			Message: message,
			Error: &dto.ErrorDetail{
				Code: errCode,
				Details: fiber.Map{
					"timestamp": utils.UTCNow().Unix(),
				},
			},
			RequestID: requestid.FromContext(c),
		})
	}
}

// GetRouteDocumentation returns API documentation
func GetRouteDocumentation() []map[string]any {
	return []map[string]any{
		{
			"method":      "GET",
			"path":        "/api/v1/collections/:collection",
			"description": "List documents of a collection",
			"parameters": map[string]any{
				"filter": "string (optional) - JSON object of field equality conditions, dotted paths allowed",
				"sort":   "string (optional) - comma separated fields, '-' prefix for descending",
				"page":   "number (optional) - page number starting at 1 (default: 1)",
				"count":  "number (optional) - page size (default: 30), -1 returns everything",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/collections/:collection/count",
			"description": "Count documents matching an optional filter",
			"parameters":  map[string]any{"filter": "string (optional) - JSON object"},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/collections/:collection/export",
			"description": "Download matching documents as an xlsx workbook",
			"parameters":  map[string]any{"filter": "string (optional) - JSON object"},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/collections/:collection/:id",
			"description": "Get one document",
			"parameters":  map[string]any{},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/collections/:collection",
			"description": "Insert a document (object body) or a batch (array body); identifiers are generated for collections with custom ids",
			"parameters":  map[string]any{},
		},
		{
			"method":      "PUT",
			"path":        "/api/v1/collections/:collection/:id",
			"description": "Merge fields into a document and return it",
			"parameters":  map[string]any{},
		},
		{
			"method":      "DELETE",
			"path":        "/api/v1/collections/:collection/:id",
			"description": "Delete a document and return it",
			"parameters":  map[string]any{},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/admin/counters/:collection",
			"description": "Read the next counter value (Bearer token required)",
			"parameters":  map[string]any{},
		},
		{
			"method":      "PUT",
			"path":        "/api/v1/admin/counters/:collection",
			"description": "Overwrite the next counter value (Bearer token required)",
			"parameters":  map[string]any{"next": "number (required) - at least 1"},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/admin/counters/:collection/next-id",
			"description": "Allocate one identifier (Bearer token required)",
			"parameters":  map[string]any{},
		},
		{
			"method":      "GET",
			"path":        healthPath,
			"description": "Health check endpoint",
			"parameters":  map[string]any{},
		},
	}
}
