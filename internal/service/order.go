package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/qrpay/reconciler/internal/allocator"
	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/qrpay/reconciler/internal/repository"
	"github.com/qrpay/reconciler/internal/signature"
	"go.uber.org/zap"
)

var (
	ErrUnknownMerchant  = errors.New("unknown merchant")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrValidation       = errors.New("invalid request")
)

// OrderService handles order submission, lookup, and inbound settlement
// callbacks for the configured merchant.
type OrderService struct {
	store       QueryStore
	alloc       *allocator.Allocator
	merchantID  string
	merchantKey string
	amountMode  string
}

// NewOrderService creates an order service. alloc is only consulted when
// amountMode selects settlement-amount matching.
func NewOrderService(store QueryStore, alloc *allocator.Allocator, merchantID, merchantKey, amountMode string) *OrderService {
	return &OrderService{
		store:       store,
		alloc:       alloc,
		merchantID:  merchantID,
		merchantKey: merchantKey,
		amountMode:  amountMode,
	}
}

// requiredOrderFields are the form fields an order submission must carry.
var requiredOrderFields = []string{"pid", "type", "out_trade_no", "notify_url", "name", "money", signature.SignKey}

// CreateOrder validates a signed submission and persists a pending order.
// Resubmitting a reference that already has an order returns the existing
// order unchanged.
func (s *OrderService) CreateOrder(ctx context.Context, params map[string]string) (*models.Order, error) {
	for _, field := range requiredOrderFields {
		if strings.TrimSpace(params[field]) == "" {
			return nil, fmt.Errorf("%w: %s is required", ErrValidation, field)
		}
	}
	if params["pid"] != s.merchantID {
		return nil, ErrUnknownMerchant
	}
	if !signature.Verify(params, s.merchantKey) {
		return nil, ErrInvalidSignature
	}
	if params["type"] != domain.PayTypeAlipay {
		return nil, fmt.Errorf("%w: unsupported pay type %q", ErrValidation, params["type"])
	}

	display, err := domain.ParseAmount(params["money"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if display <= 0 {
		return nil, fmt.Errorf("%w: money must be positive", ErrValidation)
	}

	ref := params["out_trade_no"]
	existing, err := s.store.Queries().GetOrderByRef(ctx, s.merchantID, ref)
	if err == nil {
		zap.L().Info("order resubmitted, returning existing",
			zap.String("out_trade_no", ref),
			zap.String("trade_no", existing.TradeNo),
		)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, err
	}

	order := &models.Order{
		TradeNo:          newTradeNo(),
		MerchantOrderRef: ref,
		MerchantID:       s.merchantID,
		PayType:          params["type"],
		Label:            params["name"],
		DisplayAmount:    display,
		SettlementAmount: display,
		Status:           domain.OrderStatusPending,
		CreatedAt:        time.Now(),
		NotifyURL:        params["notify_url"],
		ReturnURL:        params["return_url"],
	}

	if s.amountMode == domain.StrategyAmount {
		final, err := s.alloc.Allocate(ctx, display, func(q *repository.Queries, final domain.Amount) error {
			order.SettlementAmount = final
			return q.CreateOrder(ctx, order)
		})
		if err != nil {
			return nil, err
		}
		order.SettlementAmount = final
	} else {
		if err := s.store.Queries().CreateOrder(ctx, order); err != nil {
			return nil, err
		}
	}

	zap.L().Info("order created",
		zap.String("trade_no", order.TradeNo),
		zap.String("out_trade_no", order.MerchantOrderRef),
		zap.String("display", order.DisplayAmount.String()),
		zap.String("settlement", order.SettlementAmount.String()),
	)
	return order, nil
}

// QueryOrder returns one of the merchant's orders by its reference.
func (s *OrderService) QueryOrder(ctx context.Context, merchantID, key, ref string) (*models.Order, error) {
	if err := s.authenticate(merchantID, key); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("%w: out_trade_no is required", ErrValidation)
	}
	return s.store.Queries().GetOrderByRef(ctx, merchantID, ref)
}

// ListOrders returns the merchant's most recent orders.
func (s *OrderService) ListOrders(ctx context.Context, merchantID, key string, limit int32) ([]models.Order, error) {
	if err := s.authenticate(merchantID, key); err != nil {
		return nil, err
	}
	return s.store.Queries().ListOrdersByMerchant(ctx, merchantID, limit)
}

// MerchantInfo summarizes the merchant's order book.
type MerchantInfo struct {
	MerchantID string `json:"pid"`
	PayType    string `json:"type"`
	Pending    int64  `json:"pending_orders"`
	Paid       int64  `json:"paid_orders"`
}

// GetMerchantInfo returns account details for the configured merchant.
func (s *OrderService) GetMerchantInfo(ctx context.Context, merchantID, key string) (*MerchantInfo, error) {
	if err := s.authenticate(merchantID, key); err != nil {
		return nil, err
	}
	queries := s.store.Queries()
	pending, err := queries.CountByStatus(ctx, domain.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	paid, err := queries.CountByStatus(ctx, domain.OrderStatusPaid)
	if err != nil {
		return nil, err
	}
	return &MerchantInfo{
		MerchantID: merchantID,
		PayType:    domain.PayTypeAlipay,
		Pending:    pending,
		Paid:       paid,
	}, nil
}

// HandleNotifyCallback settles an order from a signed inbound callback. It
// shares the conditional mark-paid path with the monitoring cycle, so the
// two can never settle the same order twice. settled is false when the order
// was already paid.
func (s *OrderService) HandleNotifyCallback(ctx context.Context, params map[string]string) (order *models.Order, settled bool, err error) {
	if !signature.Verify(params, s.merchantKey) {
		return nil, false, ErrInvalidSignature
	}
	tradeNo := strings.TrimSpace(params["trade_no"])
	if tradeNo == "" {
		return nil, false, fmt.Errorf("%w: trade_no is required", ErrValidation)
	}
	if status := params["trade_status"]; status != "" && status != domain.TradeStatusSuccess {
		return nil, false, fmt.Errorf("%w: unexpected trade_status %q", ErrValidation, status)
	}

	queries := s.store.Queries()
	order, err = queries.GetOrderByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, false, err
	}

	settled, err = queries.MarkPaidIfPending(ctx, tradeNo, time.Now())
	if err != nil {
		return nil, false, err
	}
	if settled {
		zap.L().Info("order settled via inbound callback", zap.String("trade_no", tradeNo))
		order, err = queries.GetOrderByTradeNo(ctx, tradeNo)
		if err != nil {
			return nil, true, err
		}
	}
	return order, settled, nil
}

func (s *OrderService) authenticate(merchantID, key string) error {
	if merchantID != s.merchantID {
		return ErrUnknownMerchant
	}
	if key != s.merchantKey {
		return ErrInvalidSignature
	}
	return nil
}

// newTradeNo generates an internal trade number: a second-resolution
// timestamp followed by six random digits.
func newTradeNo() string {
	return time.Now().Format("20060102150405") + fmt.Sprintf("%06d", rand.Intn(1000000))
}
