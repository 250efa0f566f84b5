// Package rt is the realtime boundary to the speech-recognition and
// coaching backend: a connection, an outbound audio byte stream, and two
// inbound event streams consumed until disconnect.
package rt

import "context"

// Transport is the connection the session coordinator binds for the
// lifetime of one session. Implementations must keep the three channels
// open from Connect until Disconnect (or a fatal read error) and then
// close them.
type Transport interface {
	Connect(ctx context.Context, config Config) error
	Disconnect() error

	// Send forwards one chunk of encoded audio. Sends preserve order but
	// do not wait for backend acknowledgement.
	Send(chunk []byte) error

	Events() <-chan TranscriptionEvent
	FunctionCalls() <-chan FunctionCallEvent
	Errors() <-chan error
}
