// Package notify delivers signed settlement callbacks to merchant endpoints.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/qrpay/reconciler/internal/signature"
	"go.uber.org/zap"
)

// maxResponseBytes caps how much of the merchant response is read. The
// protocol only cares about the literal body "success".
const maxResponseBytes = 1024

// Dispatcher sends one signed GET per Notify call. Retry policy belongs to
// the caller; an unsettled order is naturally retried on the next cycle.
type Dispatcher struct {
	client     *http.Client
	merchantID string
	secret     string
}

// NewDispatcher creates a dispatcher with a bounded per-attempt timeout.
func NewDispatcher(merchantID, secret string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		client:     &http.Client{Timeout: timeout},
		merchantID: merchantID,
		secret:     secret,
	}
}

// Params builds the canonical callback parameter set for a paid order,
// including the digest.
func (d *Dispatcher) Params(order *models.Order) map[string]string {
	params := map[string]string{
		"pid":          d.merchantID,
		"trade_no":     order.TradeNo,
		"out_trade_no": order.MerchantOrderRef,
		"type":         order.PayType,
		"name":         order.Label,
		"money":        order.DisplayAmount.String(),
		"trade_status": domain.TradeStatusSuccess,
	}
	params[signature.SignKey] = signature.Sign(params, d.secret)
	params[signature.SignTypeKey] = signature.SignType
	return params
}

// Notify issues one signed GET against the order's notify endpoint and
// reports whether the merchant acknowledged with the body "success".
func (d *Dispatcher) Notify(ctx context.Context, order *models.Order) bool {
	if order.NotifyURL == "" {
		zap.L().Warn("order has no notify endpoint", zap.String("trade_no", order.TradeNo))
		return false
	}

	target, err := buildURL(order.NotifyURL, d.Params(order))
	if err != nil {
		zap.L().Error("invalid notify endpoint",
			zap.Error(err),
			zap.String("trade_no", order.TradeNo),
			zap.String("notify_url", order.NotifyURL),
		)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		zap.L().Error("build notify request failed", zap.Error(err), zap.String("trade_no", order.TradeNo))
		return false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		zap.L().Warn("merchant notification delivery failed",
			zap.Error(err),
			zap.String("trade_no", order.TradeNo),
		)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		zap.L().Warn("read notification response failed", zap.Error(err), zap.String("trade_no", order.TradeNo))
		return false
	}

	if !strings.EqualFold(strings.TrimSpace(string(body)), "success") {
		zap.L().Warn("merchant rejected notification",
			zap.String("trade_no", order.TradeNo),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return false
	}

	zap.L().Info("merchant notification delivered", zap.String("trade_no", order.TradeNo))
	return true
}

func buildURL(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse notify url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
