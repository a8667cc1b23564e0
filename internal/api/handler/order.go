package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qrpay/reconciler/internal/allocator"
	"github.com/qrpay/reconciler/internal/models"
	"github.com/qrpay/reconciler/internal/repository"
	"github.com/qrpay/reconciler/internal/service"
	"go.uber.org/zap"
)

// OrderHandler exposes the legacy merchant protocol: form-encoded signed
// requests, JSON envelopes with an in-band status code.
type OrderHandler struct {
	orderSvc *service.OrderService
}

func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// orderView shapes an order for protocol responses, with money fields as
// two-decimal strings.
type orderView struct {
	TradeNo          string     `json:"trade_no"`
	MerchantOrderRef string     `json:"out_trade_no"`
	PayType          string     `json:"type"`
	Label            string     `json:"name"`
	Money            string     `json:"money"`
	PaymentAmount    string     `json:"payment_amount"`
	Status           int16      `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
}

func viewOf(o *models.Order) orderView {
	return orderView{
		TradeNo:          o.TradeNo,
		MerchantOrderRef: o.MerchantOrderRef,
		PayType:          o.PayType,
		Label:            o.Label,
		Money:            o.DisplayAmount.String(),
		PaymentAmount:    o.SettlementAmount.String(),
		Status:           o.Status,
		CreatedAt:        o.CreatedAt,
		PaidAt:           o.PaidAt,
	}
}

// CreateOrder handles POST /api/v1/order/create (form-encoded, signed).
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		RespondProtocol(w, protocolError, "invalid form body", nil)
		return
	}

	order, err := h.orderSvc.CreateOrder(r.Context(), params)
	if err != nil {
		h.respondProtocolError(w, err, "create order")
		return
	}
	RespondProtocol(w, protocolOK, "success", viewOf(order))
}

// QueryOrder handles GET /api/v1/order.
func (h *OrderHandler) QueryOrder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := h.orderSvc.QueryOrder(r.Context(), q.Get("pid"), q.Get("key"), q.Get("out_trade_no"))
	if err != nil {
		h.respondProtocolError(w, err, "query order")
		return
	}
	RespondProtocol(w, protocolOK, "success", viewOf(order))
}

// ListOrders handles GET /api/v1/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := int64(0)
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 32)
		if err != nil || parsed <= 0 {
			RespondProtocol(w, protocolError, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	orders, err := h.orderSvc.ListOrders(r.Context(), q.Get("pid"), q.Get("key"), int32(limit))
	if err != nil {
		h.respondProtocolError(w, err, "list orders")
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOf(&orders[i]))
	}
	RespondProtocol(w, protocolOK, "success", views)
}

// MerchantInfo handles GET /api/v1/merchant.
func (h *OrderHandler) MerchantInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	info, err := h.orderSvc.GetMerchantInfo(r.Context(), q.Get("pid"), q.Get("key"))
	if err != nil {
		h.respondProtocolError(w, err, "merchant info")
		return
	}
	RespondProtocol(w, protocolOK, "success", info)
}

// NotifyCallback handles GET/POST /api/v1/notify: an inbound signed
// settlement callback. The reply is the literal body the upstream expects.
func (h *OrderHandler) NotifyCallback(w http.ResponseWriter, r *http.Request) {
	params, err := formParams(r)
	if err != nil {
		http.Error(w, "fail", http.StatusBadRequest)
		return
	}

	_, settled, err := h.orderSvc.HandleNotifyCallback(r.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrValidation):
			http.Error(w, "fail", http.StatusBadRequest)
		case errors.Is(err, repository.ErrOrderNotFound):
			http.Error(w, "fail", http.StatusNotFound)
		default:
			zap.L().Error("inbound notify failed", zap.Error(err))
			http.Error(w, "fail", http.StatusInternalServerError)
		}
		return
	}
	if !settled {
		zap.L().Info("inbound notify for already-settled order")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("success"))
}

func (h *OrderHandler) respondProtocolError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		RespondProtocol(w, protocolError, err.Error(), nil)
	case errors.Is(err, service.ErrUnknownMerchant):
		RespondProtocol(w, protocolError, "unknown merchant", nil)
	case errors.Is(err, service.ErrInvalidSignature):
		RespondProtocol(w, protocolError, "signature verification failed", nil)
	case errors.Is(err, repository.ErrOrderNotFound):
		RespondProtocol(w, protocolError, "order not found", nil)
	case errors.Is(err, allocator.ErrAmountExhausted):
		RespondProtocol(w, protocolError, "no settlement amount available, retry later", nil)
	default:
		if _, _, msg, ok := mapDBError(err); ok {
			RespondProtocol(w, protocolError, msg, nil)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err))
		RespondProtocol(w, protocolError, "internal error", nil)
	}
}

// formParams flattens query and form values into the protocol's flat
// parameter map. Form values win over query values on conflict.
func formParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.Form))
	for k := range r.Form {
		params[k] = r.Form.Get(k)
	}
	return params, nil
}
