package matcher

import (
	"testing"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingOrder(tradeNo, ref string, display, settlement int64, createdAt time.Time) models.Order {
	return models.Order{
		TradeNo:          tradeNo,
		MerchantOrderRef: ref,
		MerchantID:       "1001",
		PayType:          domain.PayTypeAlipay,
		DisplayAmount:    domain.Amount(display),
		SettlementAmount: domain.Amount(settlement),
		Status:           domain.OrderStatusPending,
		CreatedAt:        createdAt,
	}
}

func creditRecord(amount, memo string, occurredAt time.Time) models.LedgerRecord {
	return models.LedgerRecord{
		ExternalRef: "ext-" + memo + amount,
		Amount:      decimal.RequireFromString(amount),
		Memo:        memo,
		OccurredAt:  occurredAt,
		Direction:   domain.DirectionCredit,
	}
}

func TestMemoStrategyMatchesByReference(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyMemo, 0)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1000, now.Add(-time.Minute))}
	records := []models.LedgerRecord{creditRecord("10.00", "ORDER1", now)}

	matches := m.Match(records, orders)
	require.Len(t, matches, 1)
	assert.Equal(t, "T1", matches[0].Order.TradeNo)
}

func TestMemoStrategyTrimsMemo(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyMemo, 0)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1000, now.Add(-time.Minute))}
	records := []models.LedgerRecord{creditRecord("10.00", "  ORDER1 ", now)}

	matches := m.Match(records, orders)
	require.Len(t, matches, 1)
}

func TestMemoStrategySkipsDebits(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyMemo, 0)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1000, now.Add(-time.Minute))}
	rec := creditRecord("10.00", "ORDER1", now)
	rec.Direction = domain.DirectionDebit

	assert.Empty(t, m.Match([]models.LedgerRecord{rec}, orders))
}

func TestMemoStrategyRejectsAmountMismatch(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyMemo, 0)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1000, now.Add(-time.Minute))}
	records := []models.LedgerRecord{creditRecord("10.02", "ORDER1", now)}

	assert.Empty(t, m.Match(records, orders))
}

func TestMemoStrategyOneRecordPerOrder(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyMemo, 0)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1000, now.Add(-time.Minute))}
	records := []models.LedgerRecord{
		creditRecord("10.00", "ORDER1", now),
		creditRecord("10.00", "ORDER1", now.Add(time.Second)),
	}

	matches := m.Match(records, orders)
	require.Len(t, matches, 1)
}

func TestAmountStrategyPrefersOldestOrder(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	older := pendingOrder("T1", "ORDER1", 1000, 1001, now.Add(-2*time.Minute))
	younger := pendingOrder("T2", "ORDER2", 1000, 1001, now.Add(-2*time.Minute).Add(time.Second))
	records := []models.LedgerRecord{creditRecord("10.01", "", now)}

	matches := m.Match(records, []models.Order{older, younger})
	require.Len(t, matches, 1)
	assert.Equal(t, "T1", matches[0].Order.TradeNo)
}

func TestAmountStrategyDoesNotFallThroughToYounger(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	// The oldest order fails the tolerance check; the same-amount younger
	// order must not be consumed by the record either.
	older := pendingOrder("T1", "ORDER1", 1000, 1001, now.Add(-time.Hour))
	younger := pendingOrder("T2", "ORDER2", 1000, 1001, now.Add(-time.Minute))
	records := []models.LedgerRecord{creditRecord("10.01", "", now)}

	assert.Empty(t, m.Match(records, []models.Order{older, younger}))
}

func TestAmountStrategyRejectsRecordBeforeOrder(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1001, now)}
	records := []models.LedgerRecord{creditRecord("10.01", "", now.Add(-time.Second))}

	assert.Empty(t, m.Match(records, orders))
}

func TestAmountStrategyOutOfToleranceKeepsOrderEligible(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	orders := []models.Order{pendingOrder("T1", "ORDER1", 1000, 1001, now.Add(-10*time.Minute))}
	late := creditRecord("10.01", "", now)
	inTime := creditRecord("10.01", "", now.Add(-9*time.Minute))

	// The late record is skipped without consuming the order...
	assert.Empty(t, m.Match([]models.LedgerRecord{late}, orders))

	// ...so a tolerance-satisfying record still matches it.
	matches := m.Match([]models.LedgerRecord{inTime}, orders)
	require.Len(t, matches, 1)
	assert.Equal(t, "T1", matches[0].Order.TradeNo)
}

func TestAmountStrategySecondIdenticalRecordSkipped(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	older := pendingOrder("T1", "ORDER1", 1000, 1001, now.Add(-2*time.Minute))
	younger := pendingOrder("T2", "ORDER2", 1000, 1001, now.Add(-2*time.Minute).Add(time.Second))
	records := []models.LedgerRecord{
		creditRecord("10.01", "", now),
		creditRecord("10.01", "", now.Add(time.Second)),
	}

	// An amount is processed once per cycle: only the older order settles.
	matches := m.Match(records, []models.Order{older, younger})
	require.Len(t, matches, 1)
	assert.Equal(t, "T1", matches[0].Order.TradeNo)
}

func TestAmountStrategyDistinctAmountsBothMatch(t *testing.T) {
	now := time.Now()
	m := New(domain.StrategyAmount, 5*time.Minute)

	first := pendingOrder("T1", "ORDER1", 1000, 1001, now.Add(-2*time.Minute))
	second := pendingOrder("T2", "ORDER2", 1000, 1002, now.Add(-time.Minute))
	records := []models.LedgerRecord{
		creditRecord("10.01", "", now),
		creditRecord("10.02", "", now),
	}

	matches := m.Match(records, []models.Order{first, second})
	require.Len(t, matches, 2)
}
