package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"botcore/internal/events"
	"botcore/internal/run"
	"botcore/pkg/db"
)

// DefaultTripThreshold is the number of consecutive live failures that
// escalate to a kill.
const DefaultTripThreshold = 3

// TripBreaker escalates repeated live execution failures. The failure count
// lives on the run row, so it survives restarts; any live success resets it.
// Tripping is the only automatic path that sets the user's kill switch.
type TripBreaker struct {
	DB        *db.Database
	Rec       *events.Recorder
	Threshold int
	Now       func() time.Time
}

func NewTripBreaker(database *db.Database, rec *events.Recorder) *TripBreaker {
	return &TripBreaker{DB: database, Rec: rec, Threshold: DefaultTripThreshold, Now: time.Now}
}

// RecordFailure increments the run's live failure count and trips once the
// threshold is reached. Re-triggering on an already-killed run is a no-op.
func (t *TripBreaker) RecordFailure(ctx context.Context, bot *db.Bot, r *db.Run, reason, traceID string) error {
	if r == nil || r.Status == string(run.StateKillSwitched) {
		return nil
	}

	count := r.FailureCount + 1
	now := t.Now().UTC()
	if err := t.DB.SetRunFailureCount(ctx, r.ID, count, now); err != nil {
		return fmt.Errorf("record live failure: %w", err)
	}
	r.FailureCount = count

	threshold := t.Threshold
	if threshold <= 0 {
		threshold = DefaultTripThreshold
	}
	if count < threshold {
		log.Printf("execution: live failure %d/%d for bot %s: %s", count, threshold, bot.ID, reason)
		return nil
	}
	return t.trip(ctx, bot, r, reason, traceID)
}

// RecordSuccess resets the run's failure count.
func (t *TripBreaker) RecordSuccess(ctx context.Context, r *db.Run) error {
	if r == nil || r.FailureCount == 0 {
		return nil
	}
	if err := t.DB.SetRunFailureCount(ctx, r.ID, 0, t.Now().UTC()); err != nil {
		return fmt.Errorf("reset live failure count: %w", err)
	}
	r.FailureCount = 0
	return nil
}

func (t *TripBreaker) trip(ctx context.Context, bot *db.Bot, r *db.Run, reason, traceID string) error {
	msg := fmt.Sprintf("circuit breaker tripped after %d live failures: %s", r.FailureCount, reason)
	log.Printf("execution: %s (bot %s)", msg, bot.ID)

	if err := t.DB.SetKillSwitch(ctx, db.ScopeUser, bot.UserID, true, msg, "circuit_breaker"); err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	if err := t.DB.SetBotLastError(ctx, bot.ID, msg); err != nil {
		return fmt.Errorf("record bot error: %w", err)
	}
	if err := t.DB.UpdateBotStatus(ctx, bot.ID, db.BotStopped); err != nil {
		return fmt.Errorf("stop bot: %w", err)
	}
	if err := t.DB.UpdateRunStatus(ctx, r.ID, string(run.StateKillSwitched)); err != nil {
		return fmt.Errorf("kill run: %w", err)
	}
	if err := t.DB.DisarmRun(ctx, r.ID); err != nil {
		return fmt.Errorf("disarm run: %w", err)
	}
	r.Status = string(run.StateKillSwitched)
	r.LiveArmed = false

	t.Rec.Record(ctx, events.EventRiskAlert, bot.ID, events.SeverityCritical, msg, traceID,
		map[string]any{"failure_count": r.FailureCount, "run_id": r.ID, "kill_switch": true})
	return nil
}
