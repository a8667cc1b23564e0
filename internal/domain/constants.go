package domain

const (
	// Ledger record directions. Only credits are eligible for matching.
	DirectionCredit = "credit"
	DirectionDebit  = "debit"

	// Order statuses as persisted.
	OrderStatusPending int16 = 0
	OrderStatusPaid    int16 = 1

	// Matching strategies.
	StrategyMemo   = "memo"
	StrategyAmount = "amount"

	// Payment type accepted by the order-submission protocol.
	PayTypeAlipay = "alipay"

	// Trade status reported in merchant callbacks.
	TradeStatusSuccess = "TRADE_SUCCESS"

	// Named scheduler locks.
	LockMonitorCycle = "monitor:cycle"
	LockMonitorLoop  = "monitor:loop"
)

// ValidStrategy reports whether s names a known matching strategy.
func ValidStrategy(s string) bool {
	return s == StrategyMemo || s == StrategyAmount
}
