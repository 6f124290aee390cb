package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"aviator/internal/account"
	"aviator/internal/betcoordinator"
	"aviator/internal/ledger"
	"aviator/internal/money"
	"aviator/internal/payments"
	"aviator/internal/roundengine"
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"round":    s.engine.GetStatus(),
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

// --- auth ---

type registerRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (s *FiberServer) registerHandler(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil || req.Phone == "" || req.Password == "" {
		return errorResponse(c, fiber.StatusBadRequest, "phone and password are required")
	}

	userID, err := s.accounts.Register(c.Context(), req.Phone, req.Password)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"userId": userID})
}

func (s *FiberServer) loginHandler(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil || req.Phone == "" || req.Password == "" {
		return errorResponse(c, fiber.StatusBadRequest, "phone and password are required")
	}

	userID, balance, err := s.accounts.Login(c.Context(), req.Phone, req.Password)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{"userId": userID, "balance": balance.String()})
}

// --- bet / cashout ---

type placeBetRequest struct {
	BetAmount string `json:"betAmount"`
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req placeBetRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	amount, err := money.New(req.BetAmount)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid bet amount")
	}

	res, err := s.coordinator.PlaceBet(c.Context(), userID, amount)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}

	return c.JSON(fiber.Map{
		"betId":          res.BetID,
		"roundId":        res.RoundID,
		"serverSeedHash": res.ServerSeedHash,
		"startedAt":      res.StartedAt.UnixMilli(),
		"balance":        res.Balance.String(),
	})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	res, err := s.coordinator.Cashout(c.Context(), userID)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}

	return c.JSON(fiber.Map{
		"success":    res.Success,
		"payout":     res.Payout.String(),
		"multiplier": res.Multiplier,
		"balance":    res.Balance.String(),
		"idempotent": res.Idempotent,
	})
}

// --- round read surface ---

func (s *FiberServer) roundStatusHandler(c *fiber.Ctx) error {
	status := s.engine.GetStatus()
	return c.JSON(fiber.Map{
		"roundId":        status.RoundID,
		"status":         status.Status,
		"multiplier":     status.Multiplier.StringFixed(2),
		"startedAt":      status.StartedAt.UnixMilli(),
		"commitIdx":      status.CommitIdx,
		"serverSeedHash": status.SeedHash,
	})
}

func (s *FiberServer) roundHistoryHandler(c *fiber.Ctx) error {
	limit := parseIntQuery(c, "limit", 20)
	cacheKey := "round:history:" + strconv.Itoa(limit)

	if cached, ok := s.history.Get(cacheKey); ok {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	rounds, err := s.ledger.ListRounds(c.Context(), limit)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "failed to load round history")
	}

	out := make([]fiber.Map, 0, len(rounds))
	for _, r := range rounds {
		entry := fiber.Map{"roundId": r.RoundID, "commitIdx": r.CommitIdx, "startedAt": r.StartedAt.UnixMilli()}
		if r.CrashPoint != nil {
			entry["crashPoint"] = r.CrashPoint.StringFixed(2)
		}
		if r.EndedAt != nil {
			entry["endedAt"] = r.EndedAt.UnixMilli()
		}
		out = append(out, entry)
	}

	body := fiber.Map{"rounds": out}
	if data, err := c.App().Config().JSONEncoder(body); err == nil {
		s.history.Set(cacheKey, string(data))
	}
	return c.JSON(body)
}

func (s *FiberServer) roundDetailHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	cacheKey := "round:detail:" + roundID

	if cached, ok := s.history.Get(cacheKey); ok {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	round, bets, err := s.ledger.GetRound(c.Context(), roundID)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}

	betsOut := make([]fiber.Map, 0, len(bets))
	for _, b := range bets {
		entry := fiber.Map{
			"id": b.ID, "userId": b.UserID, "betAmount": b.BetAmount.String(),
			"status": b.Status, "betPlacedAt": b.BetPlacedAt.UnixMilli(),
		}
		if b.Payout != nil {
			entry["payout"] = b.Payout.String()
		}
		if b.ClaimedAt != nil {
			entry["claimedAt"] = b.ClaimedAt.UnixMilli()
		}
		betsOut = append(betsOut, entry)
	}

	roundOut := fiber.Map{"roundId": round.RoundID, "commitIdx": round.CommitIdx, "startedAt": round.StartedAt.UnixMilli()}
	if round.CrashPoint != nil {
		roundOut["crashPoint"] = round.CrashPoint.StringFixed(2)
	}
	if round.EndedAt != nil {
		roundOut["endedAt"] = round.EndedAt.UnixMilli()
	}

	body := fiber.Map{"round": roundOut, "bets": betsOut}
	if round.EndedAt != nil {
		if data, err := c.App().Config().JSONEncoder(body); err == nil {
			s.history.Set(cacheKey, string(data))
		}
	}
	return c.JSON(body)
}

func (s *FiberServer) latestCommitmentHandler(c *fiber.Ctx) error {
	commit, ok, err := s.seeds.Latest(c.Context())
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "failed to load latest commitment")
	}
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "no commitment yet")
	}
	return c.JSON(fiber.Map{
		"idx":       commit.Idx,
		"seedHash":  commit.SeedHash,
		"createdAt": commit.CreatedAt.UnixMilli(),
	})
}

func (s *FiberServer) revealHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	reveal, err := s.ledger.GetReveal(c.Context(), roundID)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{
		"roundId":        reveal.RoundID,
		"commitIdx":      reveal.CommitIdx,
		"serverSeed":     reveal.ServerSeed,
		"serverSeedHash": reveal.ServerSeedHash,
		"revealedAt":     time.Now().UnixMilli(),
		"crashPoint":     reveal.CrashPoint.StringFixed(2),
		"startedAt":      reveal.StartedAt.UnixMilli(),
		"endedAt":        reveal.EndedAt.UnixMilli(),
	})
}

// --- payments ---

type paymentRequest struct {
	Amount          string `json:"amount"`
	TransactionUUID string `json:"transactionUUID"`
	Phone           string `json:"phone"`
}

func (s *FiberServer) depositHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	amount, err := money.New(req.Amount)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid amount")
	}

	paymentID, err := s.reconciler.InitiateDeposit(c.Context(), userID, req.Phone, amount)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}

	rec, err := s.ledger.GetPayment(c.Context(), paymentID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "failed to read payment status")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"paymentId":     paymentID,
		"transactionId": req.TransactionUUID,
		"amount":        amount.String(),
		"status":        rec.Status,
	})
}

func (s *FiberServer) withdrawHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)

	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	amount, err := money.New(req.Amount)
	if err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid amount")
	}

	paymentID, newBalance, err := s.reconciler.InitiateWithdrawal(c.Context(), userID, req.Phone, amount)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}

	rec, err := s.ledger.GetPayment(c.Context(), paymentID)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "failed to read payment status")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"paymentId":     paymentID,
		"transactionId": req.TransactionUUID,
		"amount":        amount.String(),
		"status":        rec.Status,
		"newBalance":    newBalance.String(),
	})
}

func (s *FiberServer) paymentStatusHandler(c *fiber.Ctx) error {
	paymentID := c.Params("transactionId")
	rec, err := s.ledger.GetPayment(c.Context(), paymentID)
	if err != nil {
		return errorResponse(c, mapErrorToStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{
		"status":  rec.Status,
		"details": rec,
	})
}

func (s *FiberServer) paymentHistoryHandler(c *fiber.Ctx) error {
	userID := c.Locals("userID").(string)
	limit := parseIntQuery(c, "limit", 20)
	offset := parseIntQuery(c, "offset", 0)

	transactions, count, err := s.reconciler.GetHistory(c.Context(), userID, limit, offset)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "failed to load payment history")
	}

	return c.JSON(fiber.Map{
		"transactions": transactions,
		"count":        count,
		"limit":        limit,
		"offset":       offset,
	})
}

// --- helpers ---

func parseIntQuery(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func ledgerRoundMetaFromStarted(started roundengine.RoundStarted, settlementWindowSeconds int) ledger.RoundMeta {
	return ledger.RoundMeta{
		RoundID:                 started.RoundID,
		CommitIdx:               started.CommitIdx,
		ServerSeedHash:          started.SeedHash,
		CrashPoint:              started.CrashPoint,
		StartedAt:               started.StartedAt,
		SettlementWindowSeconds: settlementWindowSeconds,
	}
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.StatusPaymentRequired
	case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrRoundNotFound),
		errors.Is(err, ledger.ErrBetNotFound), errors.Is(err, ledger.ErrPaymentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateBet), errors.Is(err, payments.ErrPendingIntentOpen):
		return fiber.StatusConflict
	case errors.Is(err, ledger.ErrRoundStale), errors.Is(err, ledger.ErrSettlementClosed),
		errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrRoundStillRunning),
		errors.Is(err, betcoordinator.ErrInvalidAmount), errors.Is(err, betcoordinator.ErrNoRunningRound),
		errors.Is(err, roundengine.ErrNoRunningRound), errors.Is(err, roundengine.ErrNotJoined),
		errors.Is(err, roundengine.ErrAlreadyJoined), errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, account.ErrPhoneTaken):
		return fiber.StatusBadRequest
	case errors.Is(err, betcoordinator.ErrTooFrequent):
		return fiber.StatusTooManyRequests
	case errors.Is(err, ledger.ErrAlreadyCashed), errors.Is(err, roundengine.ErrAlreadyCashed):
		return fiber.StatusConflict
	case errors.Is(err, account.ErrInvalidCredentials):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}
