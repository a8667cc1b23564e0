package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/qrpay/reconciler/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMerchantID = "1001"
	testSecret     = "notify-secret"
)

func testOrder() *models.Order {
	return &models.Order{
		TradeNo:          "20260115093045123456",
		MerchantOrderRef: "shop-order-77",
		MerchantID:       testMerchantID,
		PayType:          "alipay",
		Label:            "Coffee beans",
		DisplayAmount:    domain.Amount(500),
	}
}

func TestNotifyDeliversSignedParams(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte("success"))
	}))
	defer srv.Close()

	order := testOrder()
	order.NotifyURL = srv.URL + "/callback"

	d := NewDispatcher(testMerchantID, testSecret, 2*time.Second)
	require.True(t, d.Notify(context.Background(), order))

	require.NotNil(t, got)
	assert.Equal(t, testMerchantID, got["pid"])
	assert.Equal(t, order.TradeNo, got["trade_no"])
	assert.Equal(t, order.MerchantOrderRef, got["out_trade_no"])
	assert.Equal(t, "alipay", got["type"])
	assert.Equal(t, "Coffee beans", got["name"])
	assert.Equal(t, "5.00", got["money"])
	assert.Equal(t, "TRADE_SUCCESS", got["trade_status"])
	assert.Equal(t, signature.SignType, got[signature.SignTypeKey])
	assert.True(t, signature.Verify(got, testSecret))
}

func TestNotifyAcceptsCaseInsensitiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("SUCCESS"))
	}))
	defer srv.Close()

	order := testOrder()
	order.NotifyURL = srv.URL

	d := NewDispatcher(testMerchantID, testSecret, 2*time.Second)
	assert.True(t, d.Notify(context.Background(), order))
}

func TestNotifyRejectsOtherBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	order := testOrder()
	order.NotifyURL = srv.URL

	d := NewDispatcher(testMerchantID, testSecret, 2*time.Second)
	assert.False(t, d.Notify(context.Background(), order))
}

func TestNotifyFailsOnUnreachableEndpoint(t *testing.T) {
	order := testOrder()
	order.NotifyURL = "http://127.0.0.1:1/callback"

	d := NewDispatcher(testMerchantID, testSecret, 500*time.Millisecond)
	assert.False(t, d.Notify(context.Background(), order))
}

func TestNotifyFailsWithoutEndpoint(t *testing.T) {
	order := testOrder()
	d := NewDispatcher(testMerchantID, testSecret, time.Second)
	assert.False(t, d.Notify(context.Background(), order))
}

func TestNotifySingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	order := testOrder()
	order.NotifyURL = srv.URL

	d := NewDispatcher(testMerchantID, testSecret, 2*time.Second)
	assert.False(t, d.Notify(context.Background(), order))
	assert.Equal(t, 1, attempts)
}
