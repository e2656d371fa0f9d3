package events

// Event enumerates high-level topics inside the bot core.
type Event string

const (
	EventRunTransition Event = "run_transition"
	EventOrderUpdate   Event = "order_update"
	EventRiskAlert     Event = "risk_alert"
	EventBotError      Event = "bot_error"
	EventHeartbeat     Event = "heartbeat"
	EventArming        Event = "arming"
	EventKillSwitch    Event = "kill_switch"
)

// Severities used on persisted audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)
