package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"parley/audio"
	"parley/quality"
	"parley/recovery"
	"parley/rt"
	"parley/transcript"
)

// CoordinatorState tracks the capture/transport binding. Stop returns the
// coordinator to not-ready; it can be prepared again.
type CoordinatorState int

const (
	CoordNotReady CoordinatorState = iota
	CoordReady
	CoordCapturing
	CoordPaused
)

func (s CoordinatorState) String() string {
	switch s {
	case CoordNotReady:
		return "not_ready"
	case CoordReady:
		return "ready"
	case CoordCapturing:
		return "capturing"
	case CoordPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Callbacks are invoked from the coordinator's forwarding goroutines (or
// from the caller's goroutine during a stop-flush), never while a
// coordinator or manager lock is held, so they may query manager state.
// They must not invoke lifecycle operations.
type Callbacks struct {
	OnTranscription func(transcript.Segment)
	OnFunctionCall  func(rt.FunctionCallEvent)
	OnError         func(error)
}

// Coordinator binds one audio source and one realtime transport for a
// session's lifetime. Outbound audio and inbound events are independent
// flows; ordering is only guaranteed within each stream.
type Coordinator struct {
	logger    *log.Logger
	source    audio.Source
	transport rt.Transport
	buffer    *transcript.Buffer
	quality   *quality.Monitor
	callbacks Callbacks

	mu            sync.Mutex
	state         CoordinatorState
	session       *Session
	forwardCancel context.CancelFunc
	forwardWG     sync.WaitGroup
	pumpCancel    context.CancelFunc
	pumpWG        sync.WaitGroup
}

func NewCoordinator(
	logger *log.Logger,
	source audio.Source,
	transport rt.Transport,
	buffer *transcript.Buffer,
	monitor *quality.Monitor,
	callbacks Callbacks,
) *Coordinator {
	c := &Coordinator{
		logger:    logger,
		source:    source,
		transport: transport,
		buffer:    buffer,
		quality:   monitor,
		callbacks: callbacks,
	}
	// Every finalization, whatever triggered it (api final, speaker
	// change, timeout, flush on stop), surfaces through one callback.
	if callbacks.OnTranscription != nil {
		buffer.SetOnFinalize(callbacks.OnTranscription)
	}
	return c
}

// State returns the coordinator's current binding state.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Prepare opens the transport connection and binds the session aggregate.
// On failure the coordinator stays not-ready.
func (c *Coordinator) Prepare(ctx context.Context, config Config, sess *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CoordNotReady {
		return &StateTransitionError{Op: "prepare", From: c.state.String()}
	}

	start := time.Now()
	if err := c.transport.Connect(ctx, config.Transport); err != nil {
		c.quality.RecordError()
		return &Error{Kind: recovery.KindConnectionFailed, Op: "prepare", Err: err}
	}
	c.quality.RecordSuccess(float64(time.Since(start).Milliseconds()))

	c.session = sess
	c.state = CoordReady
	c.startForwarding()
	c.logger.Info("session prepared", "session", sess.ID)
	return nil
}

// startForwarding launches the inbound event loop. Caller holds the mutex.
func (c *Coordinator) startForwarding() {
	ctx, cancel := context.WithCancel(context.Background())
	c.forwardCancel = cancel
	c.forwardWG.Add(1)
	go c.forwardEvents(ctx)
}

// forwardEvents routes transport events into the transcription buffer and
// surfaces function calls and transport errors.
func (c *Coordinator) forwardEvents(ctx context.Context) {
	defer c.forwardWG.Done()

	events := c.transport.Events()
	functions := c.transport.FunctionCalls()
	errs := c.transport.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			latency := time.Since(ev.Timestamp)
			if latency > 0 {
				c.quality.RecordSuccess(float64(latency.Milliseconds()))
			}
			update := c.buffer.Process(ev)
			c.logger.Debug("processed event",
				"kind", update.Kind,
				"final", ev.IsFinal,
				"speaker", ev.Speaker,
			)

		case fc, ok := <-functions:
			if !ok {
				return
			}
			if c.callbacks.OnFunctionCall != nil {
				c.callbacks.OnFunctionCall(fc)
			}

		case err, ok := <-errs:
			if !ok {
				return
			}
			c.quality.RecordError()
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(&Error{Kind: recovery.KindConnectionLost, Op: "receive", Err: err})
			}
		}
	}
}

// StartCapture begins forwarding captured audio to the transport.
func (c *Coordinator) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CoordReady {
		return &StateTransitionError{Op: "start_capture", From: c.state.String()}
	}
	if err := c.source.Start(); err != nil {
		return &Error{Kind: Classify(err), Op: "start_capture", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpWG.Add(1)
	go c.pumpAudio(ctx)

	c.state = CoordCapturing
	return nil
}

// pumpAudio forwards each captured chunk outward, in order, without
// waiting for backend acknowledgement.
func (c *Coordinator) pumpAudio(ctx context.Context) {
	defer c.pumpWG.Done()
	chunks := c.source.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := c.transport.Send(chunk.PCM); err != nil {
				c.quality.RecordError()
				if c.callbacks.OnError != nil {
					c.callbacks.OnError(&Error{Kind: recovery.KindConnectionLost, Op: "send", Err: err})
				}
			}
		}
	}
}

// PauseCapture suspends the audio source. Level telemetry reads as
// silence while paused.
func (c *Coordinator) PauseCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CoordCapturing {
		return &StateTransitionError{Op: "pause_capture", From: c.state.String()}
	}
	if err := c.source.Pause(); err != nil {
		return &Error{Kind: Classify(err), Op: "pause_capture", Err: err}
	}
	c.state = CoordPaused
	return nil
}

func (c *Coordinator) ResumeCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CoordPaused {
		return &StateTransitionError{Op: "resume_capture", From: c.state.String()}
	}
	if err := c.source.Resume(); err != nil {
		return &Error{Kind: Classify(err), Op: "resume_capture", Err: err}
	}
	c.state = CoordCapturing
	return nil
}

// Levels reports current capture levels; silence while paused.
func (c *Coordinator) Levels() audio.Levels {
	c.mu.Lock()
	paused := c.state == CoordPaused
	c.mu.Unlock()
	if paused {
		return audio.Levels{}
	}
	return c.source.Levels()
}

// Stop tears the binding down in fixed order: stop audio, disconnect the
// transport, flush the transcription buffer, release the session. All
// forwarding goroutines have exited before Stop returns, so no late event
// can attribute to the torn-down session.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.state == CoordNotReady {
		c.mu.Unlock()
		return nil
	}

	var errs []error

	// 1. stop audio capture
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	if c.state == CoordCapturing || c.state == CoordPaused {
		if err := c.source.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	c.pumpWG.Wait()

	// 2. disconnect transport and unsubscribe from its streams
	if err := c.transport.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	c.quality.RecordDisconnection()
	if c.forwardCancel != nil {
		c.forwardCancel()
		c.forwardCancel = nil
	}
	c.forwardWG.Wait()
	c.mu.Unlock()

	// 3. flush the buffer; the flushed segment surfaces via the
	// finalize callback, which must run outside the critical section
	c.buffer.Flush(time.Now())

	// 4. release the session reference
	c.mu.Lock()
	c.session = nil
	c.state = CoordNotReady
	c.mu.Unlock()

	c.logger.Info("session coordinator stopped")
	return errors.Join(errs...)
}

// Reconnect re-opens the transport without touching audio state. Used by
// the recovery policy's reconnect action.
func (c *Coordinator) Reconnect(ctx context.Context, config Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.forwardCancel != nil {
		c.forwardCancel()
		c.forwardCancel = nil
	}
	c.forwardWG.Wait()

	if err := c.transport.Connect(ctx, config.Transport); err != nil {
		c.quality.RecordError()
		return &Error{Kind: recovery.KindConnectionFailed, Op: "reconnect", Err: err}
	}
	c.quality.RecordReconnection()
	c.startForwarding()
	c.logger.Info("transport reconnected")
	return nil
}

// RestartAudio stops and restarts the capture source, keeping the
// transport untouched. Used by the recovery policy's restart action.
func (c *Coordinator) RestartAudio() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CoordCapturing && c.state != CoordPaused {
		return &StateTransitionError{Op: "restart_audio", From: c.state.String()}
	}

	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	if err := c.source.Stop(); err != nil {
		c.logger.Debug("audio stop during restart", "error", err)
	}
	c.pumpWG.Wait()

	if err := c.source.Start(); err != nil {
		return &Error{Kind: Classify(err), Op: "restart_audio", Err: err}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpWG.Add(1)
	go c.pumpAudio(ctx)
	c.state = CoordCapturing
	return nil
}

// AudioAvailable probes the capture device. Used as the wait-for-device
// recovery condition.
func (c *Coordinator) AudioAvailable() bool {
	return c.source.Available()
}

// Status is the aggregate view exposed to the manager and the UI.
type Status struct {
	State   CoordinatorState
	Quality quality.Level
	Stats   transcript.Stats
	Levels  audio.Levels
	Elapsed time.Duration
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	state := c.state
	sess := c.session
	c.mu.Unlock()

	status := Status{
		State:   state,
		Quality: c.quality.Level(),
		Stats:   c.buffer.Stats(),
	}
	if state == CoordCapturing {
		status.Levels = c.source.Levels()
	}
	if sess != nil {
		status.Elapsed = sess.Elapsed()
	}
	return status
}
