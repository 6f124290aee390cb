// Package server implements the thin Fiber HTTP/WS surface (spec.md §6),
// adapted from the teacher's internal/server/{routes,handlers,server}.go:
// same fiber.New/middleware/shutdown shape, routes rewritten against
// betcoordinator/roundengine/ledger/payments instead of Redis, and every
// mines/plinko/dice route dropped (DESIGN.md).
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"aviator/internal/account"
	"aviator/internal/betcoordinator"
	"aviator/internal/cache"
	"aviator/internal/config"
	"aviator/internal/database"
	"aviator/internal/gateway"
	"aviator/internal/ledger"
	"aviator/internal/payments"
	"aviator/internal/ratelimit"
	"aviator/internal/roundengine"
	"aviator/internal/seedstore"
)

// FiberServer bundles the HTTP transport with every domain collaborator
// it dispatches to. Unlike the teacher's single game.Manager/game.Hub
// pair, this wires the full C1-C8 component set.
type FiberServer struct {
	*fiber.App

	db    database.Service
	cache cache.Service

	history *cache.TTLCache

	seeds       *seedstore.Store
	engine      *roundengine.Engine
	broadcaster *roundengine.Broadcaster
	ledger      *ledger.Ledger
	coordinator *betcoordinator.Coordinator
	reconciler  *payments.Reconciler
	accounts    *account.Account

	authLimiter *ratelimit.Limiter

	log *zap.Logger
	cfg config.Config
}

// New wires every component per SPEC_FULL.md's module map, registers the
// routes, and returns a server ready to have its
// engine/broadcaster/reconciler started.
func New(cfg config.Config, log *zap.Logger) *FiberServer {
	db := database.New()
	redisService := cache.New()

	pool := db.Pool()

	seeds := seedstore.New(pool, cfg.SeedMaster, log)
	engine := roundengine.New(seeds, roundengine.Config{
		InterRoundGap:       cfg.InterRoundGap,
		AllowDegradedRounds: cfg.AllowDegradedRounds,
	}, log)
	broadcaster := roundengine.NewBroadcaster(engine, cfg.BroadcastInterval)

	l := ledger.New(pool, cfg.MaxRoundAge, log)
	coordinator := betcoordinator.New(l, engine, cfg.MinBetAmount, cfg.MaxBetAmount,
		cfg.CashoutMinInterval, cfg.CashoutPruneAge, cfg.MaxCashoutEntries, log)

	gw := gateway.New(cfg.GatewayCollectionsBaseURL, cfg.GatewayDisbursementsBaseURL, cfg.GatewayToken)
	reconciler := payments.New(l, gw, payments.Config{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		MinDeposit:   cfg.MinDepositAmount,
		MaxDeposit:   cfg.MaxDepositAmount,
		MinWithdraw:  cfg.MinWithdrawAmount,
		MaxWithdraw:  cfg.MaxWithdrawAmount,
	}, log)

	accounts := account.New(pool)
	authLimiter := ratelimit.New(cfg.LoginRateLimitCount, cfg.LoginRateLimitWindow, cfg.LoginRateLimitWindow*10, cfg.LoginRateLimitMaxEntries)
	history := cache.NewTTLCache(2 * time.Second)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "aviator",
			AppName:       "aviator",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:          db,
		cache:       redisService,
		history:     history,
		seeds:       seeds,
		engine:      engine,
		broadcaster: broadcaster,
		ledger:      l,
		coordinator: coordinator,
		reconciler:  reconciler,
		accounts:    accounts,
		authLimiter: authLimiter,
		log:         log.Named("server"),
		cfg:         cfg,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	server.RegisterRoutes()
	return server
}

// Start launches every background component: the round engine's actor
// loop, the tick broadcaster, the rate limiter's pruning loop, the
// history cache's sweep, and the payment reconciler's recovery sweep.
func (s *FiberServer) Start(ctx context.Context) error {
	s.engine.Start(ctx)
	s.broadcaster.Start()
	s.authLimiter.Start()
	s.history.Start()
	go s.consumeRoundEvents(ctx)

	if err := s.reconciler.Recover(ctx); err != nil {
		s.log.Warn("payment reconciler recovery sweep failed", zap.Error(err))
	}
	return nil
}

// consumeRoundEvents persists every round lifecycle event the engine
// emits, since the engine itself only owns in-memory round state
// (spec.md §3's ownership note: "the engine authors Round
// creation/mutation through Ledger").
func (s *FiberServer) consumeRoundEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case started, ok := <-s.engine.Started():
			if !ok {
				return
			}
			meta := ledgerRoundMetaFromStarted(started, int(s.cfg.SettlementWindow/time.Second))
			if err := s.ledger.PersistRoundStart(ctx, meta); err != nil {
				s.log.Error("failed to persist round start", zap.String("round_id", started.RoundID), zap.Error(err))
			}
			s.history.InvalidatePrefix("round:history:")
		case crashed, ok := <-s.engine.Crashed():
			if !ok {
				return
			}
			seedHex := fmt.Sprintf("%x", crashed.Seed)
			if err := s.ledger.PersistRoundCrash(ctx, crashed.RoundID, seedHex, crashed.EndedAt, int(s.cfg.SettlementWindow/time.Second)); err != nil {
				s.log.Error("failed to persist round crash", zap.String("round_id", crashed.RoundID), zap.Error(err))
			}
			s.history.InvalidatePrefix("round:history:")
			s.history.Invalidate("round:detail:" + crashed.RoundID)
		}
	}
}

// Shutdown stops every background component in dependency order: the
// HTTP listener, the broadcaster, the engine (so no new rounds start),
// the reconciler's in-flight polls, the rate limiter and cache sweeps,
// then the pool.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	if err := s.App.ShutdownWithContext(ctx); err != nil {
		s.log.Warn("fiber shutdown error", zap.Error(err))
	}

	s.broadcaster.Stop()
	s.engine.Dispose()
	s.reconciler.Stop()
	s.authLimiter.Stop()
	s.history.Stop()

	if s.cache != nil {
		_ = s.cache.Close()
	}
	return s.db.Close()
}

func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	unsub := func() {}

	ticks, cancel := s.broadcaster.Subscribe(8)
	unsub = cancel
	defer unsub()

	s.log.Info("websocket connected", zap.String("user_id", userID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			if err := conn.WriteJSON(tick); err != nil {
				return
			}
		}
	}
}
