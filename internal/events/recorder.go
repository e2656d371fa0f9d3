package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"botcore/pkg/db"
)

// Recorder persists audit events and mirrors them onto the bus for live
// subscribers. Every error path in the core goes through here; events are
// never swallowed silently.
type Recorder struct {
	DB         *db.Database
	Bus        *Bus
	InstanceID string
}

func NewRecorder(database *db.Database, bus *Bus, instanceID string) *Recorder {
	return &Recorder{DB: database, Bus: bus, InstanceID: instanceID}
}

// Record writes one audit event. Persistence failures are logged, not
// propagated: an event write must never fail the operation it documents.
func (r *Recorder) Record(ctx context.Context, e Event, botID, severity, message, traceID string, data map[string]any) {
	payload := "{}"
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			payload = string(raw)
		}
	}

	row := db.Event{
		ID:         uuid.NewString(),
		BotID:      botID,
		Type:       string(e),
		Severity:   severity,
		Message:    message,
		Data:       payload,
		InstanceID: r.InstanceID,
		TraceID:    traceID,
	}
	if r.DB != nil {
		if err := r.DB.InsertEvent(ctx, row); err != nil {
			log.Printf("events: persist %s failed: %v", e, err)
		}
	}
	if r.Bus != nil {
		r.Bus.Publish(e, row)
	}
}
