package run

// ControlError is a domain error for rejected control operations. The code is
// stable and surfaced to API callers; the state is never mutated.
type ControlError struct {
	Code    string
	Message string
}

func (e *ControlError) Error() string { return e.Message }

var (
	ErrLiveDisabled = &ControlError{
		Code:    "LIVE_TRADING_DISABLED",
		Message: "live trading is globally disabled",
	}
	ErrKillSwitchActive = &ControlError{
		Code:    "KILL_SWITCH_ACTIVE",
		Message: "a kill switch is active for this user or system-wide",
	}
	ErrLiveNotArmed = &ControlError{
		Code:    "LIVE_NOT_ARMED",
		Message: "live run is not armed",
	}
	ErrLiveCooldownActive = &ControlError{
		Code:    "LIVE_COOLDOWN_ACTIVE",
		Message: "arming cooldown has not elapsed",
	}
	ErrArmNotLiveMode = &ControlError{
		Code:    "ARM_NOT_LIVE_MODE",
		Message: "arming applies to live-mode bots only",
	}
	ErrArmNotRunning = &ControlError{
		Code:    "ARM_NOT_RUNNING",
		Message: "arming requires an active running run",
	}
	ErrArmNoPending = &ControlError{
		Code:    "ARM_NO_PENDING_REQUEST",
		Message: "no pending arm request",
	}
	ErrArmTokenInvalid = &ControlError{
		Code:    "ARM_TOKEN_INVALID",
		Message: "arm token does not match",
	}
	ErrArmRequestExpired = &ControlError{
		Code:    "ARM_REQUEST_EXPIRED",
		Message: "arm request expired; request a new token",
	}
)
