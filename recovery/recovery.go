// Package recovery decides how a classified failure is handled: retry
// with backoff, wait for a condition, degrade, or terminate. It performs
// no I/O itself; the caller injects the mitigation action.
package recovery

import (
	"time"
)

// ErrorKind classifies a failure surfaced by the session layer.
type ErrorKind string

const (
	KindConnectionLost         ErrorKind = "connection_lost"
	KindConnectionFailed       ErrorKind = "connection_failed"
	KindAudioCaptureFailed     ErrorKind = "audio_capture_failed"
	KindAudioDeviceUnavailable ErrorKind = "audio_device_unavailable"
	KindPersistenceFailed      ErrorKind = "persistence_failed"
	KindAPIKeyInvalid          ErrorKind = "api_key_invalid"
	KindUnknown                ErrorKind = "unknown"
)

func (k ErrorKind) connection() bool {
	return k == KindConnectionLost || k == KindConnectionFailed
}

func (k ErrorKind) audio() bool {
	return k == KindAudioCaptureFailed || k == KindAudioDeviceUnavailable
}

// Recoverable reports whether the kind is ever worth retrying.
func (k ErrorKind) Recoverable() bool {
	return k.connection() || k.audio() || k == KindPersistenceFailed
}

// Action names the injected mitigation a strategy asks for.
type Action string

const (
	ActionReconnect    Action = "reconnect"
	ActionRestartAudio Action = "restart_audio"
	ActionRetrySave    Action = "retry_save"
	ActionNone         Action = "none"
)

// Condition names an external state a strategy waits for.
type Condition string

const CondAudioDeviceAvailable Condition = "audio_device_available"

// StrategyKind is the chosen handling for one attempt.
type StrategyKind int

const (
	StrategyRetry StrategyKind = iota
	StrategyWaitForCondition
	StrategyDegrade
	StrategyTerminate
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyRetry:
		return "retry"
	case StrategyWaitForCondition:
		return "wait_for_condition"
	case StrategyDegrade:
		return "degrade"
	case StrategyTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Strategy is one planned mitigation. Produced by Policy.StrategyFor,
// consumed by Policy.Execute.
type Strategy struct {
	Kind             StrategyKind
	Action           Action
	Delay            time.Duration
	Condition        Condition
	ConditionTimeout time.Duration
	Mode             *DegradedMode
	Reason           string
}

// OutcomeKind is how one executed strategy resolved.
type OutcomeKind int

const (
	OutcomeRecovered OutcomeKind = iota
	OutcomeDegraded
	OutcomeFailed
	OutcomeTerminated
	OutcomeConditionTimeout
	OutcomeAlreadyRecovering
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRecovered:
		return "recovered"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeConditionTimeout:
		return "condition_timeout"
	case OutcomeAlreadyRecovering:
		return "already_recovering"
	default:
		return "unknown"
	}
}

// Resolved reports whether the episode is over (no further attempts).
func (k OutcomeKind) Resolved() bool {
	return k == OutcomeRecovered || k == OutcomeDegraded || k == OutcomeTerminated
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Kind      OutcomeKind
	Mode      *DegradedMode
	Err       error
	Reason    string
	Condition Condition
}

// Attempt is one recorded execution within the current error episode.
type Attempt struct {
	Number  int
	Action  Action
	Delay   time.Duration
	Outcome OutcomeKind
	At      time.Time
}

// DegradedMode is display/feature-gating metadata only; the core does not
// enforce that disabled features are blocked elsewhere.
type DegradedMode struct {
	Name              string
	AvailableFeatures []string
	DisabledFeatures  []string
}

var (
	ModeTranscriptionOnly = DegradedMode{
		Name:              "transcription only",
		AvailableFeatures: []string{"live transcript", "manual notes"},
		DisabledFeatures:  []string{"coaching", "topic coverage"},
	}
	ModeManualNotesOnly = DegradedMode{
		Name:              "manual notes only",
		AvailableFeatures: []string{"manual notes"},
		DisabledFeatures:  []string{"live transcript", "coaching", "topic coverage"},
	}
)
