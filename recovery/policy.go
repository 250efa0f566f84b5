package recovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultMaxRetries = 3

	backoffBase          = time.Second
	backoffCap           = 30 * time.Second
	connectionFirstDelay = 500 * time.Millisecond
	audioRetryDelay      = time.Second
	persistenceDelay     = 500 * time.Millisecond
	deviceWaitTimeout    = 30 * time.Second
	conditionPollEvery   = 500 * time.Millisecond
)

// Policy maps (error kind, attempt history) to a strategy and executes
// it. At most one recovery runs at a time; a concurrent Execute returns
// OutcomeAlreadyRecovering without side effects.
type Policy struct {
	logger     *log.Logger
	maxRetries int

	mu       sync.Mutex
	inFlight bool
	attempt  int // attempts made in the current unresolved episode
	history  []Attempt

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	jitter func() float64 // uniform in [0.5, 1.5]
}

func NewPolicy(logger *log.Logger) *Policy {
	return &Policy{
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		sleep:      sleepCtx,
		now:        time.Now,
		jitter: func() float64 {
			return 0.5 + rand.Float64()
		},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StrategyFor plans the next attempt for the given kind. Pure: it reads
// the attempt counter but mutates nothing.
func (p *Policy) StrategyFor(kind ErrorKind) Strategy {
	p.mu.Lock()
	next := p.attempt + 1
	p.mu.Unlock()

	if next > p.maxRetries {
		return p.exhaustedStrategy(kind)
	}

	switch kind {
	case KindConnectionFailed:
		if next == 1 {
			return Strategy{Kind: StrategyRetry, Action: ActionReconnect, Delay: connectionFirstDelay}
		}
		return Strategy{Kind: StrategyRetry, Action: ActionReconnect, Delay: p.backoff(next)}
	case KindConnectionLost:
		return Strategy{Kind: StrategyRetry, Action: ActionReconnect, Delay: p.backoff(next)}
	case KindAudioCaptureFailed:
		return Strategy{Kind: StrategyRetry, Action: ActionRestartAudio, Delay: audioRetryDelay}
	case KindAudioDeviceUnavailable:
		return Strategy{
			Kind:             StrategyWaitForCondition,
			Action:           ActionRestartAudio,
			Condition:        CondAudioDeviceAvailable,
			ConditionTimeout: deviceWaitTimeout,
		}
	case KindPersistenceFailed:
		return Strategy{Kind: StrategyRetry, Action: ActionRetrySave, Delay: persistenceDelay}
	default:
		// api_key_invalid and anything unclassified is unrecoverable
		return Strategy{
			Kind:   StrategyTerminate,
			Action: ActionNone,
			Reason: "Unrecoverable error: " + string(kind),
		}
	}
}

// exhaustedStrategy is the after-max-retries mapping: connection kinds
// keep transcription, audio kinds fall back to manual notes, everything
// else terminates. Unclassified kinds terminate deterministically.
func (p *Policy) exhaustedStrategy(kind ErrorKind) Strategy {
	switch {
	case kind.connection():
		mode := ModeTranscriptionOnly
		return Strategy{Kind: StrategyDegrade, Action: ActionNone, Mode: &mode}
	case kind.audio():
		mode := ModeManualNotesOnly
		return Strategy{Kind: StrategyDegrade, Action: ActionNone, Mode: &mode}
	default:
		return Strategy{
			Kind:   StrategyTerminate,
			Action: ActionNone,
			Reason: "Retries exhausted for: " + string(kind),
		}
	}
}

// backoff is exponential with jitter: base 1s doubling per attempt,
// multiplier in [0.5, 1.5], capped at 30s.
func (p *Policy) backoff(attempt int) time.Duration {
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	d = time.Duration(float64(d) * p.jitter())
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// Execute runs one strategy, interpreting the injected action's result.
// The action is the actual mitigation (reconnect, restart audio, retry
// save) or, for wait-for-condition, the availability probe combined with
// the restart.
func (p *Policy) Execute(ctx context.Context, strategy Strategy, action func(ctx context.Context) error) Outcome {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return Outcome{Kind: OutcomeAlreadyRecovering}
	}
	p.inFlight = true
	p.attempt++
	number := p.attempt
	p.mu.Unlock()

	outcome := p.run(ctx, strategy, action)

	p.mu.Lock()
	p.history = append(p.history, Attempt{
		Number:  number,
		Action:  strategy.Action,
		Delay:   strategy.Delay,
		Outcome: outcome.Kind,
		At:      p.now(),
	})
	if outcome.Kind.Resolved() {
		p.attempt = 0
		p.history = nil
	}
	p.inFlight = false
	p.mu.Unlock()

	p.logger.Info("recovery attempt resolved",
		"attempt", number,
		"strategy", strategy.Kind,
		"action", strategy.Action,
		"outcome", outcome.Kind,
	)
	return outcome
}

func (p *Policy) run(ctx context.Context, strategy Strategy, action func(ctx context.Context) error) Outcome {
	switch strategy.Kind {
	case StrategyRetry:
		if err := p.sleep(ctx, strategy.Delay); err != nil {
			return Outcome{Kind: OutcomeFailed, Err: err}
		}
		if err := action(ctx); err != nil {
			return Outcome{Kind: OutcomeFailed, Err: err}
		}
		return Outcome{Kind: OutcomeRecovered}

	case StrategyWaitForCondition:
		deadline := p.now().Add(strategy.ConditionTimeout)
		for {
			err := action(ctx)
			if err == nil {
				return Outcome{Kind: OutcomeRecovered}
			}
			if !p.now().Before(deadline) {
				return Outcome{Kind: OutcomeConditionTimeout, Condition: strategy.Condition, Err: err}
			}
			if err := p.sleep(ctx, conditionPollEvery); err != nil {
				return Outcome{Kind: OutcomeFailed, Err: err}
			}
		}

	case StrategyDegrade:
		return Outcome{Kind: OutcomeDegraded, Mode: strategy.Mode}

	case StrategyTerminate:
		return Outcome{Kind: OutcomeTerminated, Reason: strategy.Reason}

	default:
		return Outcome{Kind: OutcomeTerminated, Reason: "unknown strategy"}
	}
}

// History returns a copy of the current episode's attempts.
func (p *Policy) History() []Attempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Attempt, len(p.history))
	copy(out, p.history)
	return out
}

// Reset abandons the current episode. The next attempt numbers from 1.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
	p.history = nil
}
