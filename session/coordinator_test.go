package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/audio"
	"parley/recovery"
	"parley/rt"
	"parley/transcript"
)

func preparedRig(t *testing.T) *testRig {
	t.Helper()
	r := newTestRig()
	sess := &Session{StartedAt: time.Now()}
	if err := r.coord.Prepare(context.Background(), testConfig(), sess); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return r
}

func TestPrepare(t *testing.T) {
	t.Run("success moves to ready", func(t *testing.T) {
		r := preparedRig(t)
		defer r.coord.Stop()
		if got := r.coord.State(); got != CoordReady {
			t.Errorf("state = %v, want ready", got)
		}
		if r.transport.connects != 1 {
			t.Errorf("connects = %d, want 1", r.transport.connects)
		}
	})

	t.Run("connect failure maps to connectionFailed and stays not ready", func(t *testing.T) {
		r := newTestRig()
		r.transport.connectErr = errors.New("refused")
		err := r.coord.Prepare(context.Background(), testConfig(), &Session{})
		if err == nil {
			t.Fatal("Prepare succeeded with failing transport")
		}
		var serr *Error
		if !errors.As(err, &serr) || serr.Kind != recovery.KindConnectionFailed {
			t.Errorf("error = %v, want connectionFailed", err)
		}
		if got := r.coord.State(); got != CoordNotReady {
			t.Errorf("state = %v, want not ready", got)
		}
	})
}

func TestStartCapture(t *testing.T) {
	t.Run("from not ready is rejected", func(t *testing.T) {
		r := newTestRig()
		err := r.coord.StartCapture()
		var terr *StateTransitionError
		if !errors.As(err, &terr) {
			t.Fatalf("error = %v, want StateTransitionError", err)
		}
	})

	t.Run("device loss classifies", func(t *testing.T) {
		r := preparedRig(t)
		defer r.coord.Stop()
		r.source.startErr = audio.ErrDeviceUnavailable
		err := r.coord.StartCapture()
		var serr *Error
		if !errors.As(err, &serr) || serr.Kind != recovery.KindAudioDeviceUnavailable {
			t.Errorf("error = %v, want audioDeviceUnavailable", err)
		}
	})

	t.Run("captured chunks are forwarded in order", func(t *testing.T) {
		r := preparedRig(t)
		defer r.coord.Stop()
		if err := r.coord.StartCapture(); err != nil {
			t.Fatalf("StartCapture: %v", err)
		}
		r.source.chunks <- audio.Chunk{PCM: []byte{1}, Timestamp: time.Now()}
		r.source.chunks <- audio.Chunk{PCM: []byte{2}, Timestamp: time.Now()}

		if !waitFor(time.Second, func() bool { return r.transport.sentCount() == 2 }) {
			t.Fatalf("sent = %d, want 2", r.transport.sentCount())
		}
		r.transport.mu.Lock()
		defer r.transport.mu.Unlock()
		if r.transport.sent[0][0] != 1 || r.transport.sent[1][0] != 2 {
			t.Error("chunks forwarded out of order")
		}
	})
}

func TestPauseResume(t *testing.T) {
	r := preparedRig(t)
	defer r.coord.Stop()
	if err := r.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	if err := r.coord.PauseCapture(); err != nil {
		t.Fatalf("PauseCapture: %v", err)
	}
	if lv := r.coord.Levels(); lv != (audio.Levels{}) {
		t.Errorf("levels while paused = %+v, want silence", lv)
	}

	if err := r.coord.ResumeCapture(); err != nil {
		t.Fatalf("ResumeCapture: %v", err)
	}
	if lv := r.coord.Levels(); lv == (audio.Levels{}) {
		t.Error("levels after resume still silent")
	}

	if err := r.coord.ResumeCapture(); err == nil {
		t.Error("resume while capturing should be rejected")
	}
}

func TestEventRouting(t *testing.T) {
	r := preparedRig(t)
	defer r.coord.Stop()

	now := time.Now()
	r.transport.push(rt.TranscriptionEvent{
		Text: "walk me through", IsFinal: false, Speaker: "interviewer",
		Timestamp: now, Confidence: 0.9,
	})
	r.transport.push(rt.TranscriptionEvent{
		Text: "walk me through your design", IsFinal: true, Speaker: "interviewer",
		Timestamp: now.Add(time.Second), Confidence: 0.95,
	})
	r.transport.pushFunctionCall(rt.FunctionCallEvent{Name: "topic_covered", Timestamp: now})

	if !waitFor(time.Second, func() bool { return r.collector.segmentCount() == 1 }) {
		t.Fatalf("segments = %d, want 1", r.collector.segmentCount())
	}
	if !waitFor(time.Second, func() bool { return r.collector.functionCount() == 1 }) {
		t.Fatalf("function calls = %d, want 1", r.collector.functionCount())
	}

	r.collector.mu.Lock()
	seg := r.collector.segments[0]
	fc := r.collector.functions[0]
	r.collector.mu.Unlock()
	if seg.Text != "walk me through your design" || seg.Reason != transcript.ReasonAPIFinal {
		t.Errorf("segment = %+v", seg)
	}
	if fc.Name != "topic_covered" {
		t.Errorf("function call = %+v, want passed through unchanged", fc)
	}
}

func TestStopTeardownOrder(t *testing.T) {
	r := newTestRig()

	var mu sync.Mutex
	var order []string
	r.source.onCall = func(op string) {
		mu.Lock()
		order = append(order, "audio_"+op)
		mu.Unlock()
	}
	r.transport.onCall = func(op string) {
		mu.Lock()
		order = append(order, "transport_"+op)
		mu.Unlock()
	}

	if err := r.coord.Prepare(context.Background(), testConfig(), &Session{StartedAt: time.Now()}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := r.coord.StartCapture(); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	// a live partial must be flushed by Stop
	r.transport.push(rt.TranscriptionEvent{
		Text: "unfinished thought", Speaker: "candidate", Timestamp: time.Now(),
	})
	waitFor(time.Second, func() bool { return r.buffer.Current() != nil })

	if err := r.coord.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	var stopIdx, discIdx = -1, -1
	for i, op := range order {
		switch op {
		case "audio_stop":
			stopIdx = i
		case "transport_disconnect":
			discIdx = i
		}
	}
	mu.Unlock()
	if stopIdx == -1 || discIdx == -1 || stopIdx > discIdx {
		t.Errorf("teardown order = %v, want audio stop before transport disconnect", order)
	}

	// flush surfaced through the transcription callback
	r.collector.mu.Lock()
	defer r.collector.mu.Unlock()
	found := false
	for _, seg := range r.collector.segments {
		if seg.Reason == transcript.ReasonManualFlush && seg.Text == "unfinished thought" {
			found = true
		}
	}
	if !found {
		t.Error("live partial was not flushed on stop")
	}

	if got := r.coord.State(); got != CoordNotReady {
		t.Errorf("state after stop = %v, want not ready", got)
	}
}

func TestReconnect(t *testing.T) {
	r := preparedRig(t)
	defer r.coord.Stop()

	if err := r.coord.Reconnect(context.Background(), testConfig()); err != nil {
		t.Fatalf("Reconnect: %v", err)
	}
	if r.transport.connects != 2 {
		t.Errorf("connects = %d, want 2", r.transport.connects)
	}

	// events on the new connection still route
	r.transport.push(rt.TranscriptionEvent{
		Text: "still here", IsFinal: true, Speaker: "candidate",
		Timestamp: time.Now(), Confidence: 0.9,
	})
	if !waitFor(time.Second, func() bool { return r.collector.segmentCount() == 1 }) {
		t.Fatalf("segments after reconnect = %d, want 1", r.collector.segmentCount())
	}
}
