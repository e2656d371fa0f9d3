package db

import (
	"context"
)

// InsertEvent appends an audit event row.
func (d *Database) InsertEvent(ctx context.Context, e Event) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO bot_events (id, bot_id, type, severity, message, data, instance_id, trace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.BotID, e.Type, e.Severity, e.Message, e.Data, e.InstanceID, e.TraceID)
	return mapErr(err)
}

// RecentEvents returns the newest events, optionally scoped to one bot.
func (d *Database) RecentEvents(ctx context.Context, botID string, limit int) ([]Event, error) {
	query := `
		SELECT id, bot_id, type, severity, message, data, instance_id, trace_id, created_at
		FROM bot_events`
	args := []any{}
	if botID != "" {
		query += ` WHERE bot_id = ?`
		args = append(args, botID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.BotID, &e.Type, &e.Severity, &e.Message, &e.Data, &e.InstanceID, &e.TraceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
