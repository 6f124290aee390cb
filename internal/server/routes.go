package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// RegisterRoutes wires every route named in spec.md §6, plus the
// register/login pair needed to exercise "user"-authenticated routes
// (token issuance itself stays an external collaborator, SPEC_FULL.md §1).
func (s *FiberServer) RegisterRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type,X-User-Id",
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	auth := s.App.Group("/auth")
	auth.Post("/register", s.authRateLimit, s.registerHandler)
	auth.Post("/login", s.authRateLimit, s.loginHandler)

	s.App.Post("/bet", s.requireUser, s.placeBetHandler)
	s.App.Post("/cashout", s.requireUser, s.cashoutHandler)

	s.App.Get("/round/status", s.roundStatusHandler)
	s.App.Get("/round/history", s.roundHistoryHandler)
	s.App.Get("/round/:roundId", s.roundDetailHandler)
	s.App.Get("/commitments/latest", s.latestCommitmentHandler)
	s.App.Get("/reveal/:roundId", s.revealHandler)

	s.App.Post("/payments/deposit", s.requireUser, s.depositHandler)
	s.App.Post("/payments/withdraw", s.requireUser, s.withdrawHandler)
	s.App.Get("/payments/status/:transactionId", s.requireUser, s.paymentStatusHandler)
	s.App.Get("/payments/history", s.requireUser, s.paymentHistoryHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

// requireUser extracts the caller's identity from X-User-Id, the header
// an upstream auth gateway is expected to set (token issuance is out of
// scope here per SPEC_FULL.md §1).
func (s *FiberServer) requireUser(c *fiber.Ctx) error {
	userID := c.Get("X-User-Id")
	if userID == "" {
		return errorResponse(c, fiber.StatusUnauthorized, "missing X-User-Id")
	}
	c.Locals("userID", userID)
	return c.Next()
}

// authRateLimit enforces the per-IP register/login ceiling (C7).
func (s *FiberServer) authRateLimit(c *fiber.Ctx) error {
	if !s.authLimiter.Allow(c.IP()) {
		return errorResponse(c, fiber.StatusTooManyRequests, "too many auth attempts")
	}
	return c.Next()
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message, "errorCode": status})
}
