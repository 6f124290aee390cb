// Package payments implements the payment reconciler (C6): it wraps the
// ledger's payment-intent transitions with the external gateway's
// asynchronous confirmation flow. Grounded on
// rias-glitch-telegram-webapp's deposit_repo.go/withdrawal_repo.go for
// the intent lifecycle (pending/processing → confirmed/failed/expired,
// refund-on-non-confirm-for-withdrawals) and on the teacher's
// internal/game/manager.go for running one supervised goroutine per
// in-flight unit of work rather than a shared background loop.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aviator/internal/gateway"
	"aviator/internal/ledger"
	"aviator/internal/money"
)

var (
	ErrInvalidAmount     = errors.New("payments: amount out of range")
	ErrPendingIntentOpen = errors.New("payments: a pending intent of this type already exists")
)

// Reconciler owns the gateway client and supervises one goroutine per
// in-flight payment intent, polling the gateway for a terminal status.
type Reconciler struct {
	ledger  *ledger.Ledger
	gateway *gateway.Client
	log     *zap.Logger

	pollInterval time.Duration
	maxAttempts  int
	minDeposit   money.Amount
	maxDeposit   money.Amount
	minWithdraw  money.Amount
	maxWithdraw  money.Amount

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	MinDeposit   money.Amount
	MaxDeposit   money.Amount
	MinWithdraw  money.Amount
	MaxWithdraw  money.Amount
}

func New(l *ledger.Ledger, gw *gateway.Client, cfg Config, log *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:       l,
		gateway:      gw,
		log:          log.Named("payments"),
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		minDeposit:   cfg.MinDeposit,
		maxDeposit:   cfg.MaxDeposit,
		minWithdraw:  cfg.MinWithdraw,
		maxWithdraw:  cfg.MaxWithdraw,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Recover resumes polling for every intent left pending/processing from a
// prior process lifetime (e.g. after a restart mid-reconciliation).
func (r *Reconciler) Recover(ctx context.Context) error {
	pending, err := r.ledger.GetPendingPayments(ctx)
	if err != nil {
		return fmt.Errorf("payments: recover: %w", err)
	}
	for _, p := range pending {
		r.log.Info("resuming poll for recovered intent", zap.String("payment_id", p.ID), zap.String("type", string(p.Type)))
		r.supervise(p.ID, p.Type)
	}
	return nil
}

// Stop cancels every in-flight poll and waits for the goroutines to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// InitiateDeposit creates a pending deposit intent and kicks off the
// gateway collection request plus its supervised poll.
func (r *Reconciler) InitiateDeposit(ctx context.Context, userID, phone string, amount money.Amount) (string, error) {
	if amount.Cmp(r.minDeposit) < 0 || amount.Cmp(r.maxDeposit) > 0 {
		return "", ErrInvalidAmount
	}

	exists, err := r.ledger.HasPendingIntent(ctx, userID, ledger.PaymentDeposit)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrPendingIntentOpen
	}

	externalID := uuid.NewString()
	paymentID, err := r.ledger.CreateDepositIntent(ctx, userID, amount, externalID)
	if err != nil {
		return "", err
	}

	resp, err := r.gateway.InitiateDeposit(ctx, gateway.Request{
		Amount:      amount.String(),
		Sender:      phone,
		Receiver:    phone,
		UUID:        externalID,
		Description: "aviator deposit",
	})
	if err != nil {
		r.log.Warn("deposit gateway initiation failed, leaving pending for the poller to expire",
			zap.String("payment_id", paymentID), zap.Error(err))
		r.supervise(paymentID, ledger.PaymentDeposit)
		return paymentID, nil
	}

	if err := r.ledger.SetGatewayTxnID(ctx, paymentID, resp.GatewayTxnID); err != nil {
		return "", err
	}

	if gateway.MapStatus(resp.Status) == gateway.StatusSuccessful {
		if _, err := r.ledger.ConfirmDeposit(ctx, paymentID); err != nil {
			return "", err
		}
		return paymentID, nil
	}

	r.supervise(paymentID, ledger.PaymentDeposit)
	return paymentID, nil
}

// InitiateWithdrawal debits the user immediately (processing state),
// then asks the gateway to disburse, refunding on synchronous rejection.
func (r *Reconciler) InitiateWithdrawal(ctx context.Context, userID, phone string, amount money.Amount) (string, money.Amount, error) {
	if amount.Cmp(r.minWithdraw) < 0 || amount.Cmp(r.maxWithdraw) > 0 {
		return "", money.Zero, ErrInvalidAmount
	}

	exists, err := r.ledger.HasPendingIntent(ctx, userID, ledger.PaymentWithdraw)
	if err != nil {
		return "", money.Zero, err
	}
	if exists {
		return "", money.Zero, ErrPendingIntentOpen
	}

	externalID := uuid.NewString()
	paymentID, newBalance, err := r.ledger.CreateWithdrawalIntent(ctx, userID, amount, externalID)
	if err != nil {
		return "", money.Zero, err
	}

	resp, err := r.gateway.InitiateWithdrawal(ctx, gateway.Request{
		Amount:      amount.String(),
		Sender:      phone,
		Receiver:    phone,
		UUID:        externalID,
		Description: "aviator withdrawal",
	})
	if err != nil {
		r.log.Warn("withdrawal gateway initiation failed, leaving processing for the poller to expire and refund",
			zap.String("payment_id", paymentID), zap.Error(err))
		r.supervise(paymentID, ledger.PaymentWithdraw)
		return paymentID, newBalance, nil
	}

	if err := r.ledger.SetGatewayTxnID(ctx, paymentID, resp.GatewayTxnID); err != nil {
		return "", money.Zero, err
	}

	switch gateway.MapStatus(resp.Status) {
	case gateway.StatusSuccessful:
		if _, err := r.ledger.ConfirmWithdrawal(ctx, paymentID); err != nil {
			return "", money.Zero, err
		}
	case gateway.StatusFailed:
		if _, err := r.ledger.FailOrExpireWithdrawal(ctx, paymentID, ledger.PaymentFailed, "gateway rejected"); err != nil {
			return "", money.Zero, err
		}
	default:
		r.supervise(paymentID, ledger.PaymentWithdraw)
	}

	return paymentID, newBalance, nil
}

func (r *Reconciler) GetStatus(ctx context.Context, paymentID string) (ledger.PaymentRecord, error) {
	return r.ledger.GetPayment(ctx, paymentID)
}

func (r *Reconciler) GetHistory(ctx context.Context, userID string, limit, offset int) ([]ledger.PaymentRecord, int, error) {
	return r.ledger.GetPaymentHistory(ctx, userID, limit, offset)
}

// supervise launches one cancellable goroutine that polls the gateway
// for paymentID's terminal status, per spec.md §4.6 (default 60
// attempts at a 5s interval).
func (r *Reconciler) supervise(paymentID string, t ledger.PaymentType) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if _, inFlight := r.cancels[paymentID]; inFlight {
		r.mu.Unlock()
		cancel()
		return
	}
	r.cancels[paymentID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, paymentID)
			r.mu.Unlock()
			cancel()
		}()
		r.poll(ctx, paymentID, t)
	}()
}

func (r *Reconciler) poll(ctx context.Context, paymentID string, t ledger.PaymentType) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p, err := r.ledger.GetPayment(ctx, paymentID)
		if err != nil {
			r.log.Error("poll: failed to read payment", zap.String("payment_id", paymentID), zap.Error(err))
			continue
		}
		if isTerminal(p.Status) {
			return
		}
		if p.GatewayTxnID == nil {
			continue
		}

		resp, err := r.gateway.GetStatus(ctx, *p.GatewayTxnID)
		if err != nil {
			r.log.Warn("poll: gateway status check failed", zap.String("payment_id", paymentID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		switch gateway.MapStatus(resp.Status) {
		case gateway.StatusSuccessful:
			r.confirm(ctx, paymentID, t)
			return
		case gateway.StatusFailed:
			r.failOrExpire(ctx, paymentID, t, ledger.PaymentFailed, "gateway reported failure")
			return
		default:
			continue
		}
	}

	r.log.Warn("poll: exhausted attempts, expiring intent", zap.String("payment_id", paymentID))
	r.failOrExpire(context.Background(), paymentID, t, ledger.PaymentExpired, "polling attempts exhausted")
}

func (r *Reconciler) confirm(ctx context.Context, paymentID string, t ledger.PaymentType) {
	var err error
	if t == ledger.PaymentDeposit {
		_, err = r.ledger.ConfirmDeposit(ctx, paymentID)
	} else {
		_, err = r.ledger.ConfirmWithdrawal(ctx, paymentID)
	}
	if err != nil {
		r.log.Error("failed to confirm payment", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (r *Reconciler) failOrExpire(ctx context.Context, paymentID string, t ledger.PaymentType, terminal ledger.PaymentStatus, reason string) {
	var err error
	if t == ledger.PaymentDeposit {
		_, err = r.ledger.FailOrExpireDeposit(ctx, paymentID, terminal, reason)
	} else {
		_, err = r.ledger.FailOrExpireWithdrawal(ctx, paymentID, terminal, reason)
	}
	if err != nil {
		r.log.Error("failed to close out payment", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func isTerminal(s ledger.PaymentStatus) bool {
	return s == ledger.PaymentConfirmed || s == ledger.PaymentFailed || s == ledger.PaymentExpired
}
