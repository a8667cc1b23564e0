package models

import (
	"time"

	"github.com/qrpay/reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// Order is a merchant-originated payment request awaiting settlement.
type Order struct {
	TradeNo          string        `json:"trade_no"`
	MerchantOrderRef string        `json:"out_trade_no"`
	MerchantID       string        `json:"pid"`
	PayType          string        `json:"type"`
	Label            string        `json:"name"`
	DisplayAmount    domain.Amount `json:"money"`
	SettlementAmount domain.Amount `json:"payment_amount"`
	Status           int16         `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	NotifyURL        string        `json:"notify_url"`
	ReturnURL        string        `json:"return_url"`
}

// Pending reports whether the order still awaits payment.
func (o *Order) Pending() bool {
	return o.Status == domain.OrderStatusPending
}

// LedgerRecord is one transaction entry from the external settlement ledger.
// Records are consumed transiently per monitoring cycle and never persisted.
type LedgerRecord struct {
	ExternalRef string          `json:"external_ref"`
	Amount      decimal.Decimal `json:"amount"`
	Memo        string          `json:"memo"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Direction   string          `json:"direction"`
}

// Credit reports whether the record is an inbound credit.
func (r *LedgerRecord) Credit() bool {
	return r.Direction == domain.DirectionCredit
}
