package db

import (
	"context"
	"database/sql"
	"errors"
)

// SetKillSwitch upserts a kill switch row. For the system scope pass an
// empty userID.
func (d *Database) SetKillSwitch(ctx context.Context, scope, userID string, active bool, reason, setBy string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO kill_switches (scope, user_id, active, reason, set_by, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope, user_id) DO UPDATE SET
			active = excluded.active,
			reason = excluded.reason,
			set_by = excluded.set_by,
			updated_at = CURRENT_TIMESTAMP
	`, scope, userID, active, reason, setBy)
	return err
}

// KillSwitchActive reports whether the system switch or the user's switch is on.
func (d *Database) KillSwitchActive(ctx context.Context, userID string) (bool, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM kill_switches
		WHERE active = 1 AND (
			(scope = ? AND user_id = '') OR (scope = ? AND user_id = ?)
		)
	`, ScopeSystem, ScopeUser, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetKillSwitch returns the switch row for a scope, or nil when never set.
func (d *Database) GetKillSwitch(ctx context.Context, scope, userID string) (*KillSwitch, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT scope, user_id, active, reason, set_by, updated_at
		FROM kill_switches WHERE scope = ? AND user_id = ?
	`, scope, userID)
	var k KillSwitch
	if err := row.Scan(&k.Scope, &k.UserID, &k.Active, &k.Reason, &k.SetBy, &k.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // switch never set
		}
		return nil, err
	}
	return &k, nil
}
