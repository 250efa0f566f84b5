package audio

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SimSource generates silence-with-tone PCM at a steady cadence. It stands
// in for the virtual capture device in demos and tests; the session layer
// only ever sees the Source interface.
type SimSource struct {
	mu      sync.Mutex
	chunks  chan Chunk
	done    chan struct{}
	paused  bool
	started bool
	levels  Levels

	interval  time.Duration
	chunkSize int
}

func NewSimSource(interval time.Duration, chunkSize int) *SimSource {
	return &SimSource{
		chunks:    make(chan Chunk, 8),
		done:      make(chan struct{}),
		interval:  interval,
		chunkSize: chunkSize,
	}
}

func (s *SimSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: source already started", ErrCaptureFailed)
	}
	s.started = true
	go s.run()
	return nil
}

func (s *SimSource) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var phase float64
	for {
		select {
		case <-s.done:
			close(s.chunks)
			return
		case now := <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			if paused {
				s.levels = Levels{}
			} else {
				// fake a slowly drifting level so the telemetry moves
				phase += 0.13
				s.levels = Levels{
					System:     0.5 + 0.4*math.Sin(phase),
					Microphone: 0.5 + 0.4*math.Cos(phase),
				}
			}
			s.mu.Unlock()
			if paused {
				continue
			}

			select {
			case s.chunks <- Chunk{PCM: make([]byte, s.chunkSize), Timestamp: now}:
			default:
				// consumer is behind; drop rather than block capture
			}
		}
	}
}

func (s *SimSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.paused = false
	s.levels = Levels{}
	close(s.done)
	return nil
}

func (s *SimSource) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w: source not started", ErrCaptureFailed)
	}
	s.paused = true
	s.levels = Levels{}
	return nil
}

func (s *SimSource) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w: source not started", ErrCaptureFailed)
	}
	s.paused = false
	return nil
}

func (s *SimSource) Chunks() <-chan Chunk {
	return s.chunks
}

func (s *SimSource) Levels() Levels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels
}

func (s *SimSource) Available() bool {
	return true
}
