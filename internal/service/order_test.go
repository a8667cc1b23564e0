package service

import (
	"context"
	"testing"
	"time"

	"github.com/qrpay/reconciler/internal/allocator"
	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/repository"
	"github.com/qrpay/reconciler/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderMemoMode(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)

	order, err := svc.CreateOrder(context.Background(), signedOrderParams("memo-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)

	assert.Equal(t, "memo-1", order.MerchantOrderRef)
	assert.Equal(t, domain.Amount(500), order.DisplayAmount)
	assert.Equal(t, domain.Amount(500), order.SettlementAmount, "memo mode never offsets the amount")
	assert.True(t, order.Pending())
	assert.Len(t, order.TradeNo, 20)
}

func TestCreateOrderAmountModeOffsetsDuplicates(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	alloc := allocator.New(store, 1, 10*time.Minute)
	svc := NewOrderService(store, alloc, testMerchantID, testMerchantKey, domain.StrategyAmount)
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, signedOrderParams("amt-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500), first.SettlementAmount)
	assert.Equal(t, domain.Amount(500), first.DisplayAmount)

	second, err := svc.CreateOrder(ctx, signedOrderParams("amt-2", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(501), second.SettlementAmount, "identical concurrent amount must be offset")
	assert.Equal(t, domain.Amount(500), second.DisplayAmount, "the advertised price never changes")
}

func TestCreateOrderRejectsBadRequests(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)
	ctx := context.Background()

	t.Run("tampered signature", func(t *testing.T) {
		params := signedOrderParams("bad-1", "5.00", "http://merchant.local/notify")
		params["money"] = "0.01"
		_, err := svc.CreateOrder(ctx, params)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unknown merchant", func(t *testing.T) {
		params := signedOrderParams("bad-2", "5.00", "http://merchant.local/notify")
		params["pid"] = "9999"
		params[signature.SignKey] = signature.Sign(params, testMerchantKey)
		_, err := svc.CreateOrder(ctx, params)
		assert.ErrorIs(t, err, ErrUnknownMerchant)
	})

	t.Run("missing field", func(t *testing.T) {
		params := signedOrderParams("bad-3", "5.00", "http://merchant.local/notify")
		delete(params, "money")
		_, err := svc.CreateOrder(ctx, params)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unsupported pay type", func(t *testing.T) {
		params := map[string]string{
			"pid":          testMerchantID,
			"type":         "wxpay",
			"out_trade_no": "bad-4",
			"notify_url":   "http://merchant.local/notify",
			"name":         "test goods",
			"money":        "5.00",
		}
		params[signature.SignKey] = signature.Sign(params, testMerchantKey)
		_, err := svc.CreateOrder(ctx, params)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("negative money", func(t *testing.T) {
		params := map[string]string{
			"pid":          testMerchantID,
			"type":         "alipay",
			"out_trade_no": "bad-5",
			"notify_url":   "http://merchant.local/notify",
			"name":         "test goods",
			"money":        "-5.00",
		}
		params[signature.SignKey] = signature.Sign(params, testMerchantKey)
		_, err := svc.CreateOrder(ctx, params)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestCreateOrderResubmissionReturnsExisting(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, signedOrderParams("resub-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)

	second, err := svc.CreateOrder(ctx, signedOrderParams("resub-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)
	assert.Equal(t, first.TradeNo, second.TradeNo)

	count, err := store.Queries().CountByStatus(ctx, domain.OrderStatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestQueryAndListOrders(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, signedOrderParams("query-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)

	got, err := svc.QueryOrder(ctx, testMerchantID, testMerchantKey, "query-1")
	require.NoError(t, err)
	assert.Equal(t, created.TradeNo, got.TradeNo)

	_, err = svc.QueryOrder(ctx, testMerchantID, "wrong-key", "query-1")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.QueryOrder(ctx, "9999", testMerchantKey, "query-1")
	assert.ErrorIs(t, err, ErrUnknownMerchant)

	orders, err := svc.ListOrders(ctx, testMerchantID, testMerchantKey, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	info, err := svc.GetMerchantInfo(ctx, testMerchantID, testMerchantKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Pending)
	assert.Equal(t, int64(0), info.Paid)
}

func TestHandleNotifyCallbackSettlesOnce(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, signedOrderParams("cb-1", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)

	params := map[string]string{
		"trade_no":     order.TradeNo,
		"out_trade_no": order.MerchantOrderRef,
		"trade_status": domain.TradeStatusSuccess,
	}
	params[signature.SignKey] = signature.Sign(params, testMerchantKey)
	params[signature.SignTypeKey] = signature.SignType

	settledOrder, settled, err := svc.HandleNotifyCallback(ctx, params)
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, domain.OrderStatusPaid, settledOrder.Status)
	require.NotNil(t, settledOrder.PaidAt)

	// Replaying the callback is acknowledged but settles nothing.
	_, settled, err = svc.HandleNotifyCallback(ctx, params)
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestHandleNotifyCallbackRejectsBadSignature(t *testing.T) {
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	svc := NewOrderService(store, nil, testMerchantID, testMerchantKey, domain.StrategyMemo)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, signedOrderParams("cb-2", "5.00", "http://merchant.local/notify"))
	require.NoError(t, err)

	params := map[string]string{
		"trade_no":     order.TradeNo,
		"trade_status": domain.TradeStatusSuccess,
		"sign":         "deadbeef",
		"sign_type":    signature.SignType,
	}
	_, _, err = svc.HandleNotifyCallback(ctx, params)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := store.Queries().GetOrderByTradeNo(ctx, order.TradeNo)
	require.NoError(t, err)
	assert.True(t, stored.Pending(), "a forged callback must not settle the order")
}
