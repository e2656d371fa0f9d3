package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const orderColumns = `
	id, bot_id, run_id, client_order_id, exchange_order_id, symbol, side, type,
	qty, price, fee, slippage, status, reject_reason, trace_id, provenance,
	created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.BotID, &o.RunID, &o.ClientOrderID, &o.ExchangeOrderID,
		&o.Symbol, &o.Side, &o.Type, &o.Qty, &o.Price, &o.Fee, &o.Slippage,
		&o.Status, &o.RejectReason, &o.TraceID, &o.Provenance,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

// CreateOrder inserts a new order row. Returns ErrDuplicate when the
// client_order_id already exists; this is the idempotency backstop.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, bot_id, run_id, client_order_id, exchange_order_id, symbol, side, type,
			qty, price, fee, slippage, status, reject_reason, trace_id, provenance
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.BotID, o.RunID, o.ClientOrderID, o.ExchangeOrderID, o.Symbol, o.Side, o.Type,
		o.Qty, o.Price, o.Fee, o.Slippage, o.Status, o.RejectReason, o.TraceID, o.Provenance,
	)
	return mapErr(err)
}

// GetOrderByClientID returns an order by its idempotency key, or ErrNotFound.
func (d *Database) GetOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?
	`, clientOrderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderResult transitions an order to its post-submission status and
// records the exchange order id or rejection reason.
func (d *Database) UpdateOrderResult(ctx context.Context, id, status, exchangeOrderID, rejectReason string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET
			status = ?,
			exchange_order_id = ?,
			reject_reason = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, exchangeOrderID, rejectReason, id)
	return err
}

// CountOrdersSince counts executed (non-rejected) orders for a bot in the
// trailing window; used by the trade frequency guardrail.
func (d *Database) CountOrdersSince(ctx context.Context, botID string, since time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE bot_id = ? AND status != ? AND created_at >= ?
	`, botID, OrderStatusRejected, since.UTC()).Scan(&n)
	return n, err
}

// RecentOrders returns the newest orders for a bot.
func (d *Database) RecentOrders(ctx context.Context, botID string, limit int) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE bot_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
