package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const botColumns = `
	id, user_id, name, symbol, strategy, strategy_params, mode, status,
	max_position_size, max_daily_loss, stop_loss_pct, take_profit_pct, max_leverage,
	current_capital, daily_pnl, total_pnl, total_trades, winning_trades,
	error_count, last_error, last_heartbeat_at, credential_id, created_at, updated_at`

func scanBot(row interface{ Scan(...any) error }) (Bot, error) {
	var b Bot
	var heartbeat sql.NullTime
	err := row.Scan(
		&b.ID, &b.UserID, &b.Name, &b.Symbol, &b.Strategy, &b.StrategyParams, &b.Mode, &b.Status,
		&b.MaxPositionSize, &b.MaxDailyLoss, &b.StopLossPct, &b.TakeProfitPct, &b.MaxLeverage,
		&b.CurrentCapital, &b.DailyPnL, &b.TotalPnL, &b.TotalTrades, &b.WinningTrades,
		&b.ErrorCount, &b.LastError, &heartbeat, &b.CredentialID, &b.CreatedAt, &b.UpdatedAt,
	)
	if heartbeat.Valid {
		t := heartbeat.Time
		b.LastHeartbeatAt = &t
	}
	return b, err
}

// CreateBot inserts a new bot row.
func (d *Database) CreateBot(ctx context.Context, b Bot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bots (
			id, user_id, name, symbol, strategy, strategy_params, mode, status,
			max_position_size, max_daily_loss, stop_loss_pct, take_profit_pct, max_leverage,
			current_capital, credential_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.ID, b.UserID, b.Name, b.Symbol, b.Strategy, b.StrategyParams, b.Mode, b.Status,
		b.MaxPositionSize, b.MaxDailyLoss, b.StopLossPct, b.TakeProfitPct, b.MaxLeverage,
		b.CurrentCapital, b.CredentialID,
	)
	return mapErr(err)
}

// GetBot returns a bot by id.
func (d *Database) GetBot(ctx context.Context, id string) (*Bot, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBotsByUser returns all bots owned by a user, newest first.
func (d *Database) ListBotsByUser(ctx context.Context, userID string) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+botColumns+` FROM bots WHERE user_id = ? ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// ListRunningBots returns every bot currently in running status, across users.
func (d *Database) ListRunningBots(ctx context.Context) ([]Bot, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+botColumns+` FROM bots WHERE status = ? ORDER BY created_at ASC
	`, BotRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// UpdateBotStatus sets the status of a bot.
func (d *Database) UpdateBotStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// UpdateBotConfig updates user-editable bot fields.
func (d *Database) UpdateBotConfig(ctx context.Context, b Bot) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET
			name = ?, strategy = ?, strategy_params = ?,
			max_position_size = ?, max_daily_loss = ?, stop_loss_pct = ?,
			take_profit_pct = ?, max_leverage = ?, credential_id = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`,
		b.Name, b.Strategy, b.StrategyParams,
		b.MaxPositionSize, b.MaxDailyLoss, b.StopLossPct,
		b.TakeProfitPct, b.MaxLeverage, b.CredentialID,
		b.ID,
	)
	return err
}

// UpdateBotTotals applies capital and PnL deltas after a realized trade.
// win should be true when the realized PnL (net of fees) was positive.
func (d *Database) UpdateBotTotals(ctx context.Context, id string, capitalDelta, pnlDelta float64, win bool) error {
	winInc := 0
	if win {
		winInc = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET
			current_capital = current_capital + ?,
			daily_pnl = daily_pnl + ?,
			total_pnl = total_pnl + ?,
			total_trades = total_trades + 1,
			winning_trades = winning_trades + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, capitalDelta, pnlDelta, pnlDelta, winInc, id)
	return err
}

// RecordBotError increments the consecutive error counter and stores the message.
// Returns the new counter value.
func (d *Database) RecordBotError(ctx context.Context, id, msg string) (int, error) {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET
			error_count = error_count + 1,
			last_error = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, msg, id)
	if err != nil {
		return 0, err
	}
	var count int
	if err := d.DB.QueryRowContext(ctx, `SELECT error_count FROM bots WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ClearBotErrors resets the consecutive error counter after a clean tick.
func (d *Database) ClearBotErrors(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET error_count = 0 WHERE id = ? AND error_count != 0
	`, id)
	return err
}

// SetBotLastError stores a last-error message without touching the counter.
func (d *Database) SetBotLastError(ctx context.Context, id, msg string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, msg, id)
	return err
}

// Heartbeat refreshes the bot's liveness timestamp.
func (d *Database) Heartbeat(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE bots SET last_heartbeat_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

// DeleteBot removes a bot. Running bots may not be deleted.
func (d *Database) DeleteBot(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM bots WHERE id = ? AND status != ?
	`, id, BotRunning)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("bot %s not deletable: %w", id, ErrNotFound)
	}
	return nil
}
