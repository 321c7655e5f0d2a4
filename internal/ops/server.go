// Package ops exposes a read-only introspection API on its own listener:
// room occupancy, the issue-tracking set, and runtime stats.
package ops

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/fleet-dashboard/internal/dispatch"
	"github.com/p-blackswan/fleet-dashboard/internal/hub"
)

// Config holds ops server settings.
type Config struct {
	ListenAddr  string
	APIKey      string
	CORSOrigins string
}

// Server is the ops Fiber application.
type Server struct {
	app        *fiber.App
	cfg        Config
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// NewServer creates and configures the ops server.
func NewServer(cfg Config, h *hub.Hub, d *dispatch.Dispatcher, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:        app,
		cfg:        cfg,
		hub:        h,
		dispatcher: d,
		logger:     logger.With().Str("component", "ops_server").Logger(),
	}

	app.Use(recover.New())
	if cfg.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET, OPTIONS",
		}))
	}
	app.Use(s.authMiddleware())

	app.Get("/api/rooms", s.handleRooms)
	app.Get("/api/issues", s.handleIssues)
	app.Get("/api/stats", s.handleStats)

	return s
}

// authMiddleware validates the Authorization header against the configured
// API key. An empty key fails closed.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return unauthorized(c, "Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if s.cfg.APIKey == "" || token != s.cfg.APIKey {
			s.logger.Warn().Str("path", c.Path()).Str("ip", c.IP()).Msg("unauthorized ops request")
			return unauthorized(c, "invalid API key")
		}
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":  "unauthorized",
		"detail": detail,
	})
}

func (s *Server) handleRooms(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"rooms": s.hub.Occupancy()})
}

func (s *Server) handleIssues(c *fiber.Ctx) error {
	tracked := s.dispatcher.TrackedIssues()
	issues := make([]fiber.Map, 0, len(tracked))
	for uid, key := range tracked {
		issues = append(issues, fiber.Map{
			"uid":       string(uid),
			"namespace": key.Namespace,
			"name":      key.Name,
		})
	}
	return c.JSON(fiber.Map{"count": len(issues), "issues": issues})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	occ := s.hub.Occupancy()
	members := 0
	for _, n := range occ {
		members += n
	}
	return c.JSON(fiber.Map{
		"rooms":          len(occ),
		"memberships":    members,
		"tracked_issues": len(s.dispatcher.TrackedIssues()),
	})
}

// Start listens on the configured address, blocking until shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("ops API listening")
	return s.app.Listen(s.cfg.ListenAddr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying fiber app (for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
