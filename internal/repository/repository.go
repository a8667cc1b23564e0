package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/qrpay/reconciler/internal/domain"
	"github.com/qrpay/reconciler/internal/models"
)

// ErrOrderNotFound is returned by point lookups when no row matches.
var ErrOrderNotFound = errors.New("order not found")

// Queries bundles all order-table operations. It runs against either the
// pool or a transaction, mirroring how Store.RunInTx scopes it.
type Queries struct {
	db DBTX
}

// DBTX is the subset of pgx the queries need, satisfied by both *pgxpool.Pool
// and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New creates a query set bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a query set scoped to the given transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const orderColumns = `trade_no, out_trade_no, pid, pay_type, label, display_cents, settlement_cents, status, created_at, paid_at, notify_url, return_url`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var display, settlement int64
	err := row.Scan(
		&o.TradeNo, &o.MerchantOrderRef, &o.MerchantID, &o.PayType, &o.Label,
		&display, &settlement, &o.Status, &o.CreatedAt, &o.PaidAt,
		&o.NotifyURL, &o.ReturnURL,
	)
	if err != nil {
		return nil, err
	}
	o.DisplayAmount = domain.Amount(display)
	o.SettlementAmount = domain.Amount(settlement)
	return &o, nil
}

// CreateOrder inserts a new pending order.
func (q *Queries) CreateOrder(ctx context.Context, o *models.Order) error {
	sql := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := q.db.Exec(ctx, sql,
		o.TradeNo, o.MerchantOrderRef, o.MerchantID, o.PayType, o.Label,
		o.DisplayAmount.Cents(), o.SettlementAmount.Cents(), o.Status,
		o.CreatedAt, o.PaidAt, o.NotifyURL, o.ReturnURL,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrderByRef returns an order by merchant reference regardless of status.
func (q *Queries) GetOrderByRef(ctx context.Context, merchantID, ref string) (*models.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE pid = $1 AND out_trade_no = $2`
	o, err := scanOrder(q.db.QueryRow(ctx, sql, merchantID, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by ref: %w", err)
	}
	return o, nil
}

// GetOrderByTradeNo returns an order by its internal trade number.
func (q *Queries) GetOrderByTradeNo(ctx context.Context, tradeNo string) (*models.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE trade_no = $1`
	o, err := scanOrder(q.db.QueryRow(ctx, sql, tradeNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by trade no: %w", err)
	}
	return o, nil
}

// ListPendingOrders returns all pending orders oldest-first. The matcher
// relies on this ordering to resolve amount ambiguity by age.
func (q *Queries) ListPendingOrders(ctx context.Context) ([]models.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at ASC`
	rows, err := q.db.Query(ctx, sql, domain.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// PendingAmountExists reports whether any pending order created at or after
// since already holds the given settlement amount.
func (q *Queries) PendingAmountExists(ctx context.Context, cents int64, since time.Time) (bool, error) {
	sql := `SELECT EXISTS (
		SELECT 1 FROM orders
		WHERE settlement_cents = $1 AND status = $2 AND created_at >= $3
	)`
	var exists bool
	if err := q.db.QueryRow(ctx, sql, cents, domain.OrderStatusPending, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check pending amount: %w", err)
	}
	return exists, nil
}

// MarkPaidIfPending flips an order to paid iff it is still pending. The
// false result is not an error: it means a concurrent path settled the order
// first and the caller must skip notification.
func (q *Queries) MarkPaidIfPending(ctx context.Context, tradeNo string, paidAt time.Time) (bool, error) {
	sql := `UPDATE orders SET status = $1, paid_at = $2 WHERE trade_no = $3 AND status = $4`
	tag, err := q.db.Exec(ctx, sql, domain.OrderStatusPaid, paidAt, tradeNo, domain.OrderStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpired removes pending orders created before olderThan and returns
// the count removed. Paid orders are never touched.
func (q *Queries) DeleteExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	sql := `DELETE FROM orders WHERE status = $1 AND created_at < $2`
	tag, err := q.db.Exec(ctx, sql, domain.OrderStatusPending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete expired orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListOrdersByMerchant returns the merchant's most recent orders.
func (q *Queries) ListOrdersByMerchant(ctx context.Context, merchantID string, limit int32) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE pid = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := q.db.Query(ctx, sql, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list merchant orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// CountByStatus returns order counts for operator status reporting.
func (q *Queries) CountByStatus(ctx context.Context, status int16) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders by status: %w", err)
	}
	return n, nil
}

// CountExpiredPending returns how many pending orders are past the timeout.
func (q *Queries) CountExpiredPending(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	sql := `SELECT COUNT(*) FROM orders WHERE status = $1 AND created_at < $2`
	if err := q.db.QueryRow(ctx, sql, domain.OrderStatusPending, olderThan).Scan(&n); err != nil {
		return 0, fmt.Errorf("count expired pending: %w", err)
	}
	return n, nil
}

// AdvisoryLock takes a transaction-scoped advisory lock, blocking until it
// is granted. The lock is released with the transaction.
func (q *Queries) AdvisoryLock(ctx context.Context, key int64) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	return nil
}
