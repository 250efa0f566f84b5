package rt

import (
	"encoding/json"
	"time"
)

// TranscriptionEvent is one hypothesis from the speech backend. Partials
// carry the cumulative text of the utterance so far; a final replaces and
// closes the utterance.
type TranscriptionEvent struct {
	Text       string
	IsFinal    bool
	Speaker    string // empty when the backend could not attribute it
	Timestamp  time.Time
	Confidence float64
}

// FunctionCallEvent is a coaching or topic-coverage signal emitted by the
// backend alongside the transcript stream. The core passes it through
// unchanged.
type FunctionCallEvent struct {
	Name      string
	Arguments json.RawMessage
	Timestamp time.Time
}

// Config describes one realtime connection.
type Config struct {
	URL        string
	APIKey     string
	Language   string
	SampleRate int
	Channels   int
}

// wire message envelope, one JSON object per websocket text frame
type wireMessage struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	IsFinal    bool            `json:"is_final,omitempty"`
	Speaker    string          `json:"speaker,omitempty"`
	Timestamp  float64         `json:"timestamp,omitempty"` // unix seconds
	Confidence float64         `json:"confidence,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

type startSessionMessage struct {
	Message     string      `json:"message"`
	AudioFormat AudioFormat `json:"audio_format"`
	Language    string      `json:"language,omitempty"`
}

type endSessionMessage struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

// AudioFormat tells the backend how to interpret the binary frames.
type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

func wireTime(secs float64) time.Time {
	if secs == 0 {
		return time.Now()
	}
	return time.Unix(int64(secs), int64((secs-float64(int64(secs)))*1e9))
}
