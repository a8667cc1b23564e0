// Package matcher pairs external ledger records with pending orders. It is
// pure: callers load the pending set and apply the resulting matches.
package matcher

import (
	"strings"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memoAmountTolerance is the maximum display-amount deviation the memo
// strategy accepts, in currency units.
var memoAmountTolerance = decimal.RequireFromString("0.01")

// Match pairs one ledger record with one order. Each record consumes at most
// one order per cycle and vice versa.
type Match struct {
	Order  models.Order
	Record models.LedgerRecord
}

// Matcher applies one configured strategy; strategies are never mixed within
// a cycle.
type Matcher struct {
	strategy  string
	tolerance time.Duration
}

// New creates a matcher. tolerance only applies to the amount strategy.
func New(strategy string, tolerance time.Duration) *Matcher {
	return &Matcher{strategy: strategy, tolerance: tolerance}
}

// Strategy returns the configured strategy name.
func (m *Matcher) Strategy() string {
	return m.strategy
}

// Match returns the (order, record) pairs the configured strategy accepts.
// pending must be sorted oldest-first; the amount strategy resolves
// same-amount ambiguity by age.
func (m *Matcher) Match(records []models.LedgerRecord, pending []models.Order) []Match {
	switch m.strategy {
	case domain.StrategyAmount:
		return m.matchByAmount(records, pending)
	default:
		return m.matchByMemo(records, pending)
	}
}

// matchByMemo matches a credit record whose trimmed memo equals a pending
// order's merchant reference, with the display amount within tolerance.
func (m *Matcher) matchByMemo(records []models.LedgerRecord, pending []models.Order) []Match {
	var out []Match
	taken := make(map[string]bool, len(pending))

	for _, rec := range records {
		if !rec.Credit() {
			continue
		}
		memo := strings.TrimSpace(rec.Memo)
		if memo == "" {
			continue
		}
		for _, order := range pending {
			if taken[order.TradeNo] || order.MerchantOrderRef != memo {
				continue
			}
			diff := rec.Amount.Sub(order.DisplayAmount.ToDecimal()).Abs()
			if diff.GreaterThanOrEqual(memoAmountTolerance) {
				zap.L().Warn("memo matched but amount did not",
					zap.String("trade_no", order.TradeNo),
					zap.String("out_trade_no", order.MerchantOrderRef),
					zap.String("expected", order.DisplayAmount.String()),
					zap.String("got", rec.Amount.String()),
				)
				continue
			}
			taken[order.TradeNo] = true
			out = append(out, Match{Order: order, Record: rec})
			break
		}
	}
	return out
}

// matchByAmount matches a credit record to the oldest pending order with the
// exact settlement amount, then validates the record's timing against the
// order. Only the single oldest candidate per amount is considered within a
// cycle: ambiguity is resolved by age, not by trying all candidates, so once
// an amount has been processed further records with the same amount are
// skipped until the next cycle. A record outside tolerance consumes nothing
// and the order stays eligible.
func (m *Matcher) matchByAmount(records []models.LedgerRecord, pending []models.Order) []Match {
	var out []Match
	taken := make(map[string]bool, len(pending))
	seenAmounts := make(map[domain.Amount]bool)

	for _, rec := range records {
		if !rec.Credit() {
			continue
		}
		cents := domain.AmountFromDecimal(rec.Amount)
		if seenAmounts[cents] {
			continue
		}
		seenAmounts[cents] = true

		var candidate *models.Order
		for i := range pending {
			if taken[pending[i].TradeNo] || pending[i].SettlementAmount != cents {
				continue
			}
			candidate = &pending[i]
			break
		}
		if candidate == nil {
			continue
		}

		lag := rec.OccurredAt.Sub(candidate.CreatedAt)
		if lag < 0 || lag > m.tolerance {
			zap.L().Warn("amount matched but record timing outside tolerance",
				zap.String("trade_no", candidate.TradeNo),
				zap.String("out_trade_no", candidate.MerchantOrderRef),
				zap.Time("order_created", candidate.CreatedAt),
				zap.Time("record_occurred", rec.OccurredAt),
				zap.Duration("tolerance", m.tolerance),
			)
			continue
		}

		taken[candidate.TradeNo] = true
		out = append(out, Match{Order: *candidate, Record: rec})
	}
	return out
}
