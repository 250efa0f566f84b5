package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"parley/recovery"
)

// ManagerCallbacks surface lifecycle decisions made by the recovery path.
type ManagerCallbacks struct {
	OnDegraded   func(recovery.DegradedMode)
	OnTerminated func(reason string)
	// OnRecovery observes every recovery attempt's outcome, resolved or not.
	OnRecovery func(recovery.Outcome)
}

// Manager is the top-level lifecycle gate. Transitions:
//
//	idle --configure--> ready --start--> running --pause--> paused
//	paused --resume--> running --end--> ended --reset--> idle
//	ready --end--> ended (abandon before start)
//
// Any call violating the required source state is rejected with a
// StateTransitionError and has no side effects. Each transition runs in
// one exclusive critical section, so configure cannot race reset.
type Manager struct {
	logger    *log.Logger
	coord     *Coordinator
	store     Store
	policy    *recovery.Policy
	callbacks ManagerCallbacks

	mu            sync.Mutex
	state         State
	session       *Session
	config        Config
	degraded      *recovery.DegradedMode
	recoverCancel context.CancelFunc
}

func NewManager(
	logger *log.Logger,
	coord *Coordinator,
	store Store,
	policy *recovery.Policy,
	callbacks ManagerCallbacks,
) *Manager {
	return &Manager{
		logger:    logger,
		coord:     coord,
		store:     store,
		policy:    policy,
		callbacks: callbacks,
		state:     StateIdle,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the current aggregate, nil after reset.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// DegradedMode returns the displayed degraded mode, nil when fully
// operational.
func (m *Manager) DegradedMode() *recovery.DegradedMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Configure creates and persists the session aggregate and opens the
// transport. Failure of either leaves the manager idle.
func (m *Manager) Configure(ctx context.Context, config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle {
		return &StateTransitionError{Op: "configure", From: m.state.String()}
	}

	sess := &Session{
		ID:        uuid.New(),
		Title:     config.Title,
		StartedAt: time.Now(),
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		return &Error{Kind: recovery.KindPersistenceFailed, Op: "configure", Err: err}
	}
	if err := m.coord.Prepare(ctx, config, sess); err != nil {
		return err
	}

	m.session = sess
	m.config = config
	m.state = StateReady
	m.logger.Info("session configured", "session", sess.ID, "title", sess.Title)
	return nil
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return &StateTransitionError{Op: "start", From: m.state.String()}
	}
	if err := m.coord.StartCapture(); err != nil {
		return err
	}
	m.state = StateRunning
	m.logger.Info("session started", "session", m.session.ID)
	return nil
}

func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return &StateTransitionError{Op: "pause", From: m.state.String()}
	}
	if err := m.coord.PauseCapture(); err != nil {
		return err
	}
	m.state = StatePaused
	return nil
}

func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return &StateTransitionError{Op: "resume", From: m.state.String()}
	}
	if err := m.coord.ResumeCapture(); err != nil {
		return err
	}
	m.state = StateRunning
	return nil
}

// End stops the coordinator, stamps and persists the aggregate, and
// cancels any in-flight recovery wait. The session ends even if the
// final save fails; the persistence error is surfaced to the caller.
//
// The transition to ended happens atomically up front; the coordinator
// stop then runs without the manager lock, because its buffer flush
// delivers the last segment through the transcription callback and that
// callback may query the manager.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StatePaused && m.state != StateReady {
		from := m.state.String()
		m.mu.Unlock()
		return &StateTransitionError{Op: "end", From: from}
	}
	if m.recoverCancel != nil {
		m.recoverCancel()
		m.recoverCancel = nil
	}
	m.state = StateEnded
	sess := m.session
	m.mu.Unlock()

	if err := m.coord.Stop(); err != nil {
		m.logger.Error("coordinator stop", "error", err)
	}

	now := time.Now()
	m.mu.Lock()
	sess.EndedAt = &now
	sess.Duration = now.Sub(sess.StartedAt)
	m.mu.Unlock()
	m.logger.Info("session ended", "session", sess.ID, "duration", sess.Duration)

	if err := m.store.EndSession(ctx, sess); err != nil {
		return &Error{Kind: recovery.KindPersistenceFailed, Op: "end", Err: err}
	}
	return nil
}

// Reset releases the session reference and returns to idle. Callable from
// any state. As with End, the coordinator stop runs between critical
// sections so the flush callback cannot re-enter a held lock.
func (m *Manager) Reset() {
	m.mu.Lock()
	if m.recoverCancel != nil {
		m.recoverCancel()
		m.recoverCancel = nil
	}
	m.mu.Unlock()

	if m.coord.State() != CoordNotReady {
		if err := m.coord.Stop(); err != nil {
			m.logger.Error("coordinator stop on reset", "error", err)
		}
	}

	m.mu.Lock()
	m.policy.Reset()
	m.session = nil
	m.degraded = nil
	m.state = StateIdle
	m.mu.Unlock()
	m.logger.Info("session reset")
}

// SwitchToDegradedMode records the displayed degraded mode. Orthogonal to
// the state machine: the session keeps running or stays paused.
func (m *Manager) SwitchToDegradedMode(mode recovery.DegradedMode) error {
	m.mu.Lock()
	if m.state != StateRunning && m.state != StatePaused {
		from := m.state.String()
		m.mu.Unlock()
		return &StateTransitionError{Op: "degrade", From: from}
	}
	m.degraded = &mode
	m.mu.Unlock()

	m.logger.Warn("entering degraded mode",
		"mode", mode.Name,
		"available", mode.AvailableFeatures,
		"disabled", mode.DisabledFeatures,
	)
	if m.callbacks.OnDegraded != nil {
		m.callbacks.OnDegraded(mode)
	}
	return nil
}

// HandleError classifies a failure surfaced while running or paused and
// drives the recovery policy to a resolution: recovered leaves state
// untouched, degraded flips the displayed mode, terminated forces the
// session to ended. Usage errors are never handed to recovery.
func (m *Manager) HandleError(ctx context.Context, cause error) {
	var usage *StateTransitionError
	if errors.As(cause, &usage) {
		m.logger.Error("usage error", "error", cause)
		return
	}

	m.mu.Lock()
	if m.state != StateRunning && m.state != StatePaused {
		m.mu.Unlock()
		m.logger.Debug("error outside active session ignored", "error", cause)
		return
	}
	config := m.config
	rctx, cancel := context.WithCancel(ctx)
	m.recoverCancel = cancel
	m.mu.Unlock()
	defer cancel()

	kind := Classify(cause)
	m.logger.Error("session error", "kind", kind, "error", cause)

	for {
		strategy := m.policy.StrategyFor(kind)
		outcome := m.policy.Execute(rctx, strategy, m.actionFor(strategy, config))
		if m.callbacks.OnRecovery != nil {
			m.callbacks.OnRecovery(outcome)
		}

		switch outcome.Kind {
		case recovery.OutcomeRecovered:
			m.logger.Info("recovered", "kind", kind)
			return

		case recovery.OutcomeDegraded:
			if outcome.Mode != nil {
				if err := m.SwitchToDegradedMode(*outcome.Mode); err != nil {
					m.logger.Error("degrade rejected", "error", err)
				}
			}
			return

		case recovery.OutcomeTerminated:
			m.terminate(ctx, outcome.Reason)
			return

		case recovery.OutcomeAlreadyRecovering:
			return

		default:
			// failed or condition timeout: plan the next attempt unless
			// the session ended mid-recovery
			if rctx.Err() != nil {
				return
			}
		}
	}
}

// actionFor binds a planned strategy to the concrete mitigation.
func (m *Manager) actionFor(strategy recovery.Strategy, config Config) func(context.Context) error {
	switch strategy.Action {
	case recovery.ActionReconnect:
		return func(ctx context.Context) error {
			return m.coord.Reconnect(ctx, config)
		}
	case recovery.ActionRestartAudio:
		if strategy.Kind == recovery.StrategyWaitForCondition {
			return func(ctx context.Context) error {
				if !m.coord.AudioAvailable() {
					return &Error{Kind: recovery.KindAudioDeviceUnavailable, Op: "wait_device"}
				}
				return m.coord.RestartAudio()
			}
		}
		return func(ctx context.Context) error {
			return m.coord.RestartAudio()
		}
	case recovery.ActionRetrySave:
		return func(ctx context.Context) error {
			m.mu.Lock()
			sess := m.session
			m.mu.Unlock()
			if sess == nil {
				return nil
			}
			return m.store.SaveSession(ctx, sess)
		}
	default:
		return func(context.Context) error { return nil }
	}
}

// terminate forces the session toward ended with a human-readable reason.
func (m *Manager) terminate(ctx context.Context, reason string) {
	m.logger.Error("session terminated", "reason", reason)

	var terr *StateTransitionError
	if err := m.End(ctx); err != nil && !errors.As(err, &terr) {
		m.logger.Error("end during termination", "error", err)
	}

	if m.callbacks.OnTerminated != nil {
		m.callbacks.OnTerminated(reason)
	}
}

// ManagerStatus is the aggregate view for display surfaces.
type ManagerStatus struct {
	State    State
	Degraded *recovery.DegradedMode
	Coord    Status
}

func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	state := m.state
	degraded := m.degraded
	m.mu.Unlock()
	return ManagerStatus{
		State:    state,
		Degraded: degraded,
		Coord:    m.coord.Status(),
	}
}
