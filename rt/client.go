package rt

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	PingInterval = 30 * time.Second
	PongTimeout  = 60 * time.Second
)

// Client is the websocket implementation of Transport.
type Client struct {
	logger *log.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	seqNo  int

	// gorilla permits one concurrent frame writer; Send and Disconnect
	// can race, so data/close writes serialize here. Control pings from
	// keepAlive are exempt (WriteControl is safe alongside a writer).
	writeMu sync.Mutex

	events    chan TranscriptionEvent
	functions chan FunctionCallEvent
	errors    chan error
}

func NewClient(logger *log.Logger) *Client {
	return &Client{logger: logger}
}

func (c *Client) Connect(ctx context.Context, config Config) error {
	header := http.Header{}
	header.Set("Authorization", fmt.Sprintf("Bearer %s", config.APIKey))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to backend websocket: %w", err)
	}

	startMsg := startSessionMessage{
		Message: "StartSession",
		AudioFormat: AudioFormat{
			Type:       "raw",
			Encoding:   "pcm_s16le",
			SampleRate: config.SampleRate,
			Channels:   config.Channels,
		},
		Language: config.Language,
	}
	if err := conn.WriteJSON(startMsg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send StartSession message: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.seqNo = 0
	c.events = make(chan TranscriptionEvent, 16)
	c.functions = make(chan FunctionCallEvent, 16)
	c.errors = make(chan error, 1)
	c.mu.Unlock()

	go c.keepAlive(readCtx, conn)
	go c.readLoop(readCtx, conn)

	return nil
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				c.logger.Error("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	events, functions, errors := c.events, c.functions, c.errors
	defer close(events)
	defer close(functions)
	defer close(errors)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				errors <- fmt.Errorf("websocket closed unexpectedly: %w", err)
			}
			return
		}

		switch msg.Type {
		case "transcript":
			events <- TranscriptionEvent{
				Text:       msg.Text,
				IsFinal:    msg.IsFinal,
				Speaker:    msg.Speaker,
				Timestamp:  wireTime(msg.Timestamp),
				Confidence: msg.Confidence,
			}
		case "function_call":
			functions <- FunctionCallEvent{
				Name:      msg.Name,
				Arguments: msg.Arguments,
				Timestamp: wireTime(msg.Timestamp),
			}
		case "error":
			errors <- fmt.Errorf("backend error: %s", msg.Reason)
		default:
			c.logger.Debug("unhandled backend message", "type", msg.Type)
		}
	}
}

func (c *Client) Send(chunk []byte) error {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.seqNo++
	}
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("websocket connection not established")
	}
	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, chunk)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	seqNo := c.seqNo
	c.conn = nil
	c.cancel = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	endMsg := endSessionMessage{Message: "EndSession", LastSeqNo: seqNo}
	c.writeMu.Lock()
	if err := conn.WriteJSON(endMsg); err != nil {
		c.logger.Debug("failed to send EndSession message", "error", err)
	}
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("failed to send close message", "error", err)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close websocket connection: %w", err)
	}
	return nil
}

func (c *Client) Events() <-chan TranscriptionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

func (c *Client) FunctionCalls() <-chan FunctionCallEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.functions
}

func (c *Client) Errors() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}
