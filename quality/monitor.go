// Package quality derives a discrete connection-health signal from
// latency and error observations on the realtime transport.
package quality

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Level is the discretized connection health. Higher is better;
// Disconnected is an explicit override, never inferred from latency.
type Level int

const (
	Disconnected Level = iota
	Poor
	Fair
	Good
	Excellent
)

func (l Level) String() string {
	switch l {
	case Disconnected:
		return "disconnected"
	case Poor:
		return "poor"
	case Fair:
		return "fair"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// Acceptable reports whether the level is usable for live coaching.
func (l Level) Acceptable() bool {
	return l >= Fair
}

// Latency thresholds for classification, and the error rate above which a
// good latency reading is demoted one level.
const (
	excellentLatencyMs = 100
	goodLatencyMs      = 250
	fairLatencyMs      = 500
	poorLatencyMs      = 1000

	demotionErrorRate = 0.20

	windowSize  = 10
	historySize = 60

	// reconnectForgiveness errors are subtracted on reconnection so that
	// handshake retries do not permanently depress the measured quality.
	reconnectForgiveness = 2
)

// Measurement is one quality-level change.
type Measurement struct {
	Level Level
	At    time.Time
}

// Monitor samples transport observations into a sliding latency window
// and session-wide error counts.
type Monitor struct {
	logger *log.Logger

	mu           sync.Mutex
	window       []float64 // latencies of recent successes only
	successes    int
	errors       int
	disconnected bool
	current      Level
	history      []Measurement
	now          func() time.Time
}

func NewMonitor(logger *log.Logger) *Monitor {
	return &Monitor{
		logger:  logger,
		current: Good,
		now:     time.Now,
	}
}

// RecordSuccess pushes one observed round-trip latency.
func (m *Monitor) RecordSuccess(latencyMs float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, latencyMs)
	if len(m.window) > windowSize {
		m.window = m.window[1:]
	}
	m.successes++
	m.reclassify()
}

// RecordError counts a transport failure. Errors never enter the latency
// average.
func (m *Monitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.reclassify()
}

// RecordDisconnection forces the level to Disconnected until a
// reconnection is recorded.
func (m *Monitor) RecordDisconnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.logger.Info("transport disconnected")
	m.reclassify()
}

// RecordReconnection clears the disconnected override and forgives a
// couple of prior errors.
func (m *Monitor) RecordReconnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = false
	forgiven := reconnectForgiveness
	if m.errors < forgiven {
		forgiven = m.errors
	}
	m.errors -= forgiven
	m.logger.Info("transport reconnected", "errorsForgiven", forgiven)
	m.reclassify()
}

// Level returns the current quality level.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of the bounded quality-change log.
func (m *Monitor) History() []Measurement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Measurement, len(m.history))
	copy(out, m.history)
	return out
}

// Statistics is a read-only snapshot for display.
type Statistics struct {
	AverageLatencyMs float64
	ErrorRate        float64
	Successes        int
	Errors           int
	Level            Level
	AcceptablePct    float64
}

func (s Statistics) LatencyString() string {
	return fmt.Sprintf("%.0fms", s.AverageLatencyMs)
}

func (s Statistics) ErrorRateString() string {
	return fmt.Sprintf("%.1f%%", s.ErrorRate*100)
}

func (m *Monitor) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	acceptable := 0
	for _, h := range m.history {
		if h.Level.Acceptable() {
			acceptable++
		}
	}
	pct := 0.0
	if len(m.history) > 0 {
		pct = float64(acceptable) / float64(len(m.history)) * 100
	}
	return Statistics{
		AverageLatencyMs: m.averageLatency(),
		ErrorRate:        m.errorRate(),
		Successes:        m.successes,
		Errors:           m.errors,
		Level:            m.current,
		AcceptablePct:    pct,
	}
}

// reclassify recomputes the level and appends to history iff it changed.
// Caller holds the mutex.
func (m *Monitor) reclassify() {
	level := m.classify()
	if level == m.current {
		return
	}
	m.current = level
	m.history = append(m.history, Measurement{Level: level, At: m.now()})
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	m.logger.Info("connection quality changed", "level", level)
}

func (m *Monitor) classify() Level {
	if m.disconnected {
		return Disconnected
	}

	level := Good
	if len(m.window) > 0 {
		avg := m.averageLatency()
		switch {
		case avg <= excellentLatencyMs:
			level = Excellent
		case avg <= goodLatencyMs:
			level = Good
		case avg <= fairLatencyMs:
			level = Fair
		default:
			level = Poor
		}
	}

	// A high session-wide error rate demotes an otherwise-good latency
	// reading, but never all the way to Disconnected.
	if m.errorRate() > demotionErrorRate && level > Poor {
		level--
	}
	return level
}

func (m *Monitor) averageLatency() float64 {
	if len(m.window) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range m.window {
		sum += l
	}
	return sum / float64(len(m.window))
}

func (m *Monitor) errorRate() float64 {
	total := m.successes + m.errors
	if total == 0 {
		return 0
	}
	return float64(m.errors) / float64(total)
}
