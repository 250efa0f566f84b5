package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"parley/audio"
	"parley/quality"
	"parley/recovery"
	"parley/rt"
	"parley/transcript"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

// fakeTransport is an in-memory rt.Transport. Tests push inbound events
// through the channels returned by Events/FunctionCalls/Errors.
type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	connects    int
	disconnects int
	sent        [][]byte
	onCall      func(op string)

	events    chan rt.TranscriptionEvent
	functions chan rt.FunctionCallEvent
	errs      chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) note(op string) {
	if f.onCall != nil {
		f.onCall(op)
	}
}

func (f *fakeTransport) Connect(ctx context.Context, config rt.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.note("connect")
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connects++
	f.events = make(chan rt.TranscriptionEvent, 16)
	f.functions = make(chan rt.FunctionCallEvent, 16)
	f.errs = make(chan error, 1)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.note("disconnect")
	f.disconnects++
	if f.events != nil {
		close(f.events)
		close(f.functions)
		close(f.errs)
		f.events, f.functions, f.errs = nil, nil, nil
	}
	return nil
}

func (f *fakeTransport) Send(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chunk)
	return nil
}

func (f *fakeTransport) Events() <-chan rt.TranscriptionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) FunctionCalls() <-chan rt.FunctionCallEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.functions
}

func (f *fakeTransport) Errors() <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs
}

func (f *fakeTransport) push(ev rt.TranscriptionEvent) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeTransport) pushFunctionCall(fc rt.FunctionCallEvent) {
	f.mu.Lock()
	ch := f.functions
	f.mu.Unlock()
	ch <- fc
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeSource is an in-memory audio.Source.
type fakeSource struct {
	mu        sync.Mutex
	chunks    chan audio.Chunk
	started   bool
	paused    bool
	startErr  error
	available bool
	onCall    func(op string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chunks:    make(chan audio.Chunk, 16),
		available: true,
	}
}

func (f *fakeSource) note(op string) {
	if f.onCall != nil {
		f.onCall(op)
	}
}

func (f *fakeSource) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.note("start")
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.note("stop")
	f.started = false
	return nil
}

func (f *fakeSource) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *fakeSource) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeSource) Chunks() <-chan audio.Chunk {
	return f.chunks
}

func (f *fakeSource) Levels() audio.Levels {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused || !f.started {
		return audio.Levels{}
	}
	return audio.Levels{System: 0.5, Microphone: 0.5}
}

func (f *fakeSource) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

// fakeStore records persistence calls.
type fakeStore struct {
	mu      sync.Mutex
	saveErr error
	endErr  error
	saved   []*Session
	ended   []*Session
}

func (f *fakeStore) SaveSession(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeStore) EndSession(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.ended = append(f.ended, s)
	return nil
}

// collector gathers callback invocations for assertions.
type collector struct {
	mu         sync.Mutex
	segments   []transcript.Segment
	functions  []rt.FunctionCallEvent
	errors     []error
	degraded   []recovery.DegradedMode
	terminated []string
	outcomes   []recovery.Outcome
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnTranscription: func(seg transcript.Segment) {
			c.mu.Lock()
			c.segments = append(c.segments, seg)
			c.mu.Unlock()
		},
		OnFunctionCall: func(fc rt.FunctionCallEvent) {
			c.mu.Lock()
			c.functions = append(c.functions, fc)
			c.mu.Unlock()
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errors = append(c.errors, err)
			c.mu.Unlock()
		},
	}
}

func (c *collector) managerCallbacks() ManagerCallbacks {
	return ManagerCallbacks{
		OnDegraded: func(mode recovery.DegradedMode) {
			c.mu.Lock()
			c.degraded = append(c.degraded, mode)
			c.mu.Unlock()
		},
		OnTerminated: func(reason string) {
			c.mu.Lock()
			c.terminated = append(c.terminated, reason)
			c.mu.Unlock()
		},
		OnRecovery: func(outcome recovery.Outcome) {
			c.mu.Lock()
			c.outcomes = append(c.outcomes, outcome)
			c.mu.Unlock()
		},
	}
}

func (c *collector) segmentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

func (c *collector) functionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.functions)
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type testRig struct {
	transport *fakeTransport
	source    *fakeSource
	store     *fakeStore
	buffer    *transcript.Buffer
	monitor   *quality.Monitor
	policy    *recovery.Policy
	collector *collector
	coord     *Coordinator
	manager   *Manager
}

func newTestRig() *testRig {
	logger := testLogger()
	r := &testRig{
		transport: newFakeTransport(),
		source:    newFakeSource(),
		store:     &fakeStore{},
		buffer:    transcript.NewBuffer(logger),
		monitor:   quality.NewMonitor(logger),
		policy:    recovery.NewPolicy(logger),
		collector: &collector{},
	}
	r.coord = NewCoordinator(logger, r.source, r.transport, r.buffer, r.monitor, r.collector.callbacks())
	r.manager = NewManager(logger, r.coord, r.store, r.policy, r.collector.managerCallbacks())
	return r
}

func testConfig() Config {
	return Config{
		Title: "systems design screen",
		Transport: rt.Config{
			URL:        "wss://backend.test/v1",
			APIKey:     "test-key",
			SampleRate: 16000,
			Channels:   2,
		},
	}
}
