package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const runColumns = `
	id, bot_id, status, mode, live_armed, arm_requested_at, armed_at,
	arm_token_hash, failure_count, last_failure_at, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var reqAt, armedAt, failAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.BotID, &r.Status, &r.Mode, &r.LiveArmed, &reqAt, &armedAt,
		&r.ArmTokenHash, &r.FailureCount, &failAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if reqAt.Valid {
		t := reqAt.Time
		r.ArmRequestedAt = &t
	}
	if armedAt.Valid {
		t := armedAt.Time
		r.ArmedAt = &t
	}
	if failAt.Valid {
		t := failAt.Time
		r.LastFailureAt = &t
	}
	return r, err
}

// CreateRun inserts a new run row.
func (d *Database) CreateRun(ctx context.Context, r Run) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO runs (id, bot_id, status, mode, live_armed)
		VALUES (?, ?, ?, ?, ?)
	`, r.ID, r.BotID, r.Status, r.Mode, r.LiveArmed)
	return mapErr(err)
}

// GetRun returns a run by id.
func (d *Database) GetRun(ctx context.Context, id string) (*Run, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRunForBot returns the newest run for a bot regardless of status.
func (d *Database) LatestRunForBot(ctx context.Context, botID string) (*Run, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE bot_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, botID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ActiveRunForBot returns the newest run in the given status, typically RUNNING.
func (d *Database) ActiveRunForBot(ctx context.Context, botID, status string) (*Run, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE bot_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, botID, status)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRunStatus sets the run lifecycle status.
func (d *Database) UpdateRunStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	return err
}

// SetArmRequest stores the one-way token hash for a pending arm confirmation.
func (d *Database) SetArmRequest(ctx context.Context, id, tokenHash string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET
			arm_token_hash = ?,
			arm_requested_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, tokenHash, at.UTC(), id)
	return err
}

// ConfirmArm marks the run armed and clears the stored hash (single use).
func (d *Database) ConfirmArm(ctx context.Context, id string, at time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET
			live_armed = 1,
			armed_at = ?,
			arm_token_hash = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, at.UTC(), id)
	return err
}

// DisarmRun clears live arming; invoked on every kill.
func (d *Database) DisarmRun(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET
			live_armed = 0,
			arm_token_hash = '',
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// SetRunFailureCount stores the consecutive live failure counter.
func (d *Database) SetRunFailureCount(ctx context.Context, id string, count int, at time.Time) error {
	if count == 0 {
		_, err := d.DB.ExecContext(ctx, `
			UPDATE runs SET failure_count = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, id)
		return err
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE runs SET
			failure_count = ?,
			last_failure_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, count, at.UTC(), id)
	return err
}
