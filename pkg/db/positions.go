package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const positionColumns = `
	id, bot_id, symbol, side, qty, entry_price, mark_price, stop_price,
	take_profit_price, unrealized_pnl, realized_pnl, fees, status,
	entry_order_id, exit_order_id, opened_at, closed_at, updated_at`

func scanPosition(row interface{ Scan(...any) error }) (Position, error) {
	var p Position
	var closedAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.BotID, &p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.MarkPrice,
		&p.StopPrice, &p.TakeProfitPrice, &p.UnrealizedPnL, &p.RealizedPnL, &p.Fees,
		&p.Status, &p.EntryOrderID, &p.ExitOrderID, &p.OpenedAt, &closedAt, &p.UpdatedAt,
	)
	if closedAt.Valid {
		t := closedAt.Time
		p.ClosedAt = &t
	}
	return p, err
}

// CreatePosition opens a position. The partial unique index on
// (bot_id, symbol) WHERE status='open' rejects a second open position.
func (d *Database) CreatePosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (
			id, bot_id, symbol, side, qty, entry_price, mark_price, stop_price,
			take_profit_price, fees, status, entry_order_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.BotID, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.MarkPrice,
		p.StopPrice, p.TakeProfitPrice, p.Fees, PositionOpen, p.EntryOrderID,
	)
	return mapErr(err)
}

// OpenPosition returns the open position for (bot, symbol), or ErrNotFound.
func (d *Database) OpenPosition(ctx context.Context, botID, symbol string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE bot_id = ? AND symbol = ? AND status = ?
	`, botID, symbol, PositionOpen)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePositionMark refreshes mark price and unrealized PnL on each tick.
func (d *Database) UpdatePositionMark(ctx context.Context, id string, markPrice, unrealizedPnL float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET
			mark_price = ?,
			unrealized_pnl = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, markPrice, unrealizedPnL, id, PositionOpen)
	return err
}

// ClosePosition marks a position closed, realizing PnL and linking the exit order.
func (d *Database) ClosePosition(ctx context.Context, id, exitOrderID string, realizedPnL, fees float64, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE positions SET
			status = ?,
			exit_order_id = ?,
			realized_pnl = ?,
			fees = fees + ?,
			unrealized_pnl = 0,
			closed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, PositionClosed, exitOrderID, realizedPnL, fees, at.UTC(), id, PositionOpen)
	return err
}

// ListOpenPositions returns all open positions for a bot.
func (d *Database) ListOpenPositions(ctx context.Context, botID string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE bot_id = ? AND status = ?
		ORDER BY opened_at DESC
	`, botID, PositionOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// RecentClosedPositions returns the newest closed positions for a bot,
// used by the loss-streak and cooldown guardrails.
func (d *Database) RecentClosedPositions(ctx context.Context, botID string, limit int) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE bot_id = ? AND status = ?
		ORDER BY closed_at DESC, id DESC
		LIMIT ?
	`, botID, PositionClosed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
