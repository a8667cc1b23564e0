package service

import (
	"context"
	"fmt"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/ledger"
	"github.com/qrpay/reconciler/internal/lockmgr"
	"github.com/qrpay/reconciler/internal/matcher"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/qrpay/reconciler/internal/observability"
	"go.uber.org/zap"
)

// Notifier delivers a settlement callback and reports acknowledgement.
type Notifier interface {
	Notify(ctx context.Context, order *models.Order) bool
}

// MonitorConfig carries the tunables of the reconciliation cycle.
type MonitorConfig struct {
	OrderTimeout  time.Duration
	QueryWindow   time.Duration
	AutoCleanup   bool
	CycleLockTTL  time.Duration
	LedgerTimeout time.Duration
}

// MonitorService runs reconciliation cycles: expire stale orders, pull the
// settlement ledger, match records to pending orders, settle, and notify.
type MonitorService struct {
	store    QueryStore
	ledger   ledger.Client
	matcher  *matcher.Matcher
	notifier Notifier
	locks    *lockmgr.Manager
	cfg      MonitorConfig
}

func NewMonitorService(store QueryStore, client ledger.Client, m *matcher.Matcher, notifier Notifier, locks *lockmgr.Manager, cfg MonitorConfig) *MonitorService {
	return &MonitorService{
		store:    store,
		ledger:   client,
		matcher:  m,
		notifier: notifier,
		locks:    locks,
		cfg:      cfg,
	}
}

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	Trigger    string    `json:"trigger"`
	Expired    int64     `json:"expired_orders"`
	Pending    int       `json:"pending_orders"`
	Records    int       `json:"ledger_records"`
	Matches    int       `json:"matches"`
	Settled    int       `json:"settled"`
	Notified   int       `json:"notified"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunCycle executes one reconciliation pass. A ledger query failure aborts
// the cycle; pending orders are retried on the next pass. trigger labels the
// invocation origin for metrics ("api", "loop").
func (s *MonitorService) RunCycle(ctx context.Context, trigger string) (*CycleResult, error) {
	result := &CycleResult{Trigger: trigger, StartedAt: time.Now()}
	queries := s.store.Queries()

	if s.cfg.AutoCleanup {
		expired, err := queries.DeleteExpired(ctx, result.StartedAt.Add(-s.cfg.OrderTimeout))
		if err != nil {
			observability.IncrementCycleRun(trigger, "error")
			return nil, fmt.Errorf("expire stale orders: %w", err)
		}
		result.Expired = expired
		if expired > 0 {
			observability.AddExpiredOrders(expired)
			zap.L().Info("expired stale pending orders", zap.Int64("count", expired))
		}
	}

	pending, err := queries.ListPendingOrders(ctx)
	if err != nil {
		observability.IncrementCycleRun(trigger, "error")
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	result.Pending = len(pending)
	observability.SetPendingOrders(int64(len(pending)))
	if len(pending) == 0 {
		result.FinishedAt = time.Now()
		observability.IncrementCycleRun(trigger, "ok")
		return result, nil
	}

	queryCtx := ctx
	if s.cfg.LedgerTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.cfg.LedgerTimeout)
		defer cancel()
	}
	records, err := s.ledger.Query(queryCtx, result.StartedAt.Add(-s.cfg.QueryWindow), result.StartedAt)
	if err != nil {
		observability.IncrementCycleRun(trigger, "error")
		zap.L().Error("ledger query failed, aborting cycle", zap.Error(err))
		return nil, fmt.Errorf("query settlement ledger: %w", err)
	}
	result.Records = len(records)

	matches := s.matcher.Match(records, pending)
	result.Matches = len(matches)

	for _, match := range matches {
		settled, err := queries.MarkPaidIfPending(ctx, match.Order.TradeNo, time.Now())
		if err != nil {
			observability.IncrementCycleRun(trigger, "error")
			return nil, fmt.Errorf("settle order %s: %w", match.Order.TradeNo, err)
		}
		if !settled {
			zap.L().Info("order already settled by a concurrent path",
				zap.String("trade_no", match.Order.TradeNo),
			)
			continue
		}
		result.Settled++
		observability.IncrementMatch(s.matcher.Strategy())
		zap.L().Info("order settled",
			zap.String("trade_no", match.Order.TradeNo),
			zap.String("out_trade_no", match.Order.MerchantOrderRef),
			zap.String("external_ref", match.Record.ExternalRef),
			zap.String("strategy", s.matcher.Strategy()),
		)

		if s.notifier.Notify(ctx, &match.Order) {
			result.Notified++
			observability.IncrementNotify("ok")
		} else {
			observability.IncrementNotify("failed")
		}
	}

	observability.SetPendingOrders(int64(result.Pending - result.Settled))
	result.FinishedAt = time.Now()
	observability.IncrementCycleRun(trigger, "ok")
	return result, nil
}

// RunCycleLocked runs one cycle under the short-cycle lock. ran is false
// when another instance holds the lock; that is not an error.
func (s *MonitorService) RunCycleLocked(ctx context.Context, trigger string) (result *CycleResult, ran bool, err error) {
	lease, ok, err := s.locks.TryAcquire(ctx, domain.LockMonitorCycle, s.cfg.CycleLockTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		zap.L().Debug("cycle already running elsewhere, skipping")
		return nil, false, nil
	}
	defer func() {
		if releaseErr := lease.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			zap.L().Warn("cycle lock release failed", zap.Error(releaseErr))
		}
	}()

	result, err = s.RunCycle(ctx, trigger)
	if err != nil {
		return nil, true, err
	}
	return result, true, nil
}

// LockStatus reports one named lease as seen by the status endpoint.
type LockStatus struct {
	Name       string `json:"name"`
	Held       bool   `json:"held"`
	HolderID   string `json:"holder_id,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

// MonitorStatus is the operator-facing health summary.
type MonitorStatus struct {
	Pending        int64        `json:"pending_orders"`
	ExpiredPending int64        `json:"expired_pending_orders"`
	Strategy       string       `json:"strategy"`
	AutoCleanup    bool         `json:"auto_cleanup"`
	Locks          []LockStatus `json:"locks"`
}

// Status reports pending/expired order counts and scheduler lock freshness.
func (s *MonitorService) Status(ctx context.Context) (*MonitorStatus, error) {
	queries := s.store.Queries()
	pending, err := queries.CountByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	expired, err := queries.CountExpiredPending(ctx, time.Now().Add(-s.cfg.OrderTimeout))
	if err != nil {
		return nil, err
	}

	status := &MonitorStatus{
		Pending:        pending,
		ExpiredPending: expired,
		Strategy:       s.matcher.Strategy(),
		AutoCleanup:    s.cfg.AutoCleanup,
	}
	for _, name := range []string{domain.LockMonitorCycle, domain.LockMonitorLoop} {
		ls := LockStatus{Name: name}
		holder, held, err := s.locks.Holder(ctx, name)
		if err != nil {
			return nil, err
		}
		if held {
			ls.Held = true
			ls.HolderID = holder
			if ttl, ok, err := s.locks.RemainingTTL(ctx, name); err == nil && ok {
				ls.TTLSeconds = int64(ttl.Seconds())
			}
		}
		status.Locks = append(status.Locks, ls)
	}
	return status, nil
}
