package run

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"botcore/internal/events"
	"botcore/pkg/db"
)

// Config holds the lifecycle and arming tunables.
type Config struct {
	LiveEnabled   bool          // global live-trading switch
	ArmCooldown   time.Duration // delay between confirm-arm and live start
	ArmRequestTTL time.Duration // how long an issued token stays confirmable
}

// DefaultConfig returns the standard lifecycle settings.
func DefaultConfig() Config {
	return Config{
		LiveEnabled:   false,
		ArmCooldown:   60 * time.Second,
		ArmRequestTTL: 5 * time.Minute,
	}
}

// Manager applies lifecycle transitions and the arming protocol against the
// store. Concurrent conflicting transitions are resolved by table validation,
// not locking: the second request simply fails from the new state.
type Manager struct {
	DB  *db.Database
	Rec *events.Recorder
	Cfg Config

	// Now is injectable for cooldown tests.
	Now func() time.Time
}

func NewManager(database *db.Database, rec *events.Recorder, cfg Config) *Manager {
	return &Manager{DB: database, Rec: rec, Cfg: cfg, Now: time.Now}
}

// RequestTransition validates and applies one control action for a bot.
// Accepted transitions settle their transient state immediately (STARTING to
// RUNNING and so on) and are recorded as audit events with both states.
func (m *Manager) RequestTransition(ctx context.Context, botID string, action Action, actor string) (*db.Run, error) {
	bot, err := m.DB.GetBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}

	r, err := m.DB.LatestRunForBot(ctx, botID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("load run: %w", err)
	}

	// First start, or starting over after a kill, begins a fresh run attempt.
	fresh := false
	if r == nil || (Terminal(State(r.Status)) && action == ActionStart) {
		if action != ActionStart {
			from := StateStopped
			if r != nil {
				from = State(r.Status)
			}
			return nil, &InvalidTransitionError{From: from, Action: action}
		}
		r = &db.Run{
			ID:     uuid.NewString(),
			BotID:  bot.ID,
			Status: string(StateStopped),
			Mode:   bot.Mode,
		}
		fresh = true
	}

	from := State(r.Status)
	next, err := Next(from, action)
	if err != nil {
		return nil, err
	}

	if action == ActionStart && bot.Mode == db.ModeLive {
		if err := m.checkLiveStart(ctx, bot, r, fresh); err != nil {
			return nil, err
		}
	}

	if fresh {
		if err := m.DB.CreateRun(ctx, *r); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}

	if settled, ok := Settle(next); ok {
		next = settled
	}
	if err := m.DB.UpdateRunStatus(ctx, r.ID, string(next)); err != nil {
		return nil, fmt.Errorf("update run status: %w", err)
	}
	r.Status = string(next)

	if action == ActionKill {
		// Arming is consumed by a kill.
		if err := m.DB.DisarmRun(ctx, r.ID); err != nil {
			return nil, fmt.Errorf("disarm run: %w", err)
		}
		r.LiveArmed = false
	}

	if err := m.DB.UpdateBotStatus(ctx, bot.ID, botStatusFor(next)); err != nil {
		return nil, fmt.Errorf("update bot status: %w", err)
	}

	m.Rec.Record(ctx, events.EventRunTransition, bot.ID, events.SeverityInfo,
		fmt.Sprintf("%s: %s -> %s", action, from, next), "", map[string]any{
			"run_id": r.ID,
			"action": string(action),
			"from":   string(from),
			"to":     string(next),
			"actor":  actor,
		})
	log.Printf("run: bot %s %s %s -> %s", bot.ID, action, from, next)

	return r, nil
}

// checkLiveStart enforces the live-start gates. Restarting an existing run
// requires arming plus an elapsed cooldown; a brand new run may start unarmed
// because the live engine refuses to execute until it is armed.
func (m *Manager) checkLiveStart(ctx context.Context, bot *db.Bot, r *db.Run, fresh bool) error {
	if !m.Cfg.LiveEnabled {
		return ErrLiveDisabled
	}
	active, err := m.DB.KillSwitchActive(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("kill switch lookup: %w", err)
	}
	if active {
		return ErrKillSwitchActive
	}
	if fresh {
		return nil
	}
	if !r.LiveArmed {
		return ErrLiveNotArmed
	}
	if r.ArmedAt == nil || m.Now().Before(r.ArmedAt.Add(m.Cfg.ArmCooldown)) {
		return ErrLiveCooldownActive
	}
	return nil
}

// CooldownElapsed reports whether an armed run has cleared its cooldown.
func (m *Manager) CooldownElapsed(r *db.Run) bool {
	return r.LiveArmed && r.ArmedAt != nil && !m.Now().Before(r.ArmedAt.Add(m.Cfg.ArmCooldown))
}

func botStatusFor(s State) string {
	switch s {
	case StateStarting, StateRunning:
		return db.BotRunning
	case StatePausing, StatePaused:
		return db.BotPaused
	default:
		return db.BotStopped
	}
}
