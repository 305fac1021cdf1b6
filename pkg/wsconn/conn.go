// Package wsconn implements the Connection component: a reliable,
// ordered, message-framed text transport to a single WebSocket peer.
// Frame ordering matches the peer's send order; partial frames are never
// surfaced; binary frames are logged and dropped at this layer.
package wsconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// LogLevel mirrors the handful of severities the connection emits.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// LogRecord is one diagnostic event: connect, disconnect, or a parse
// issue at the framing layer.
type LogRecord struct {
	Level   LogLevel
	Message string
}

// Conn is a duplex framed-message channel over a WebSocket URL. The zero
// value is not usable; construct with New.
type Conn struct {
	id     uuid.UUID
	logger *log.Logger

	writeMu sync.Mutex // serializes Send calls so frames go out FIFO
	ws      *websocket.Conn

	received chan string
	logs     chan LogRecord

	mu        sync.Mutex // guards the fields below
	connected bool
	group     *errgroup.Group
	cancel    context.CancelFunc

	closeOnce sync.Once
}

// New constructs a Conn. logger may be nil, in which case log.Default()
// is used.
func New(logger *log.Logger) *Conn {
	if logger == nil {
		logger = log.Default()
	}
	return &Conn{
		id:       uuid.New(),
		logger:   logger,
		received: make(chan string, 64),
		logs:     make(chan LogRecord, 64),
	}
}

// DataReceived yields one complete text frame per receive. Closed once
// the receive loop exits (peer close, Stop, or read error).
func (c *Conn) DataReceived() <-chan string { return c.received }

// Logs yields diagnostic events. Closed alongside DataReceived.
func (c *Conn) Logs() <-chan LogRecord { return c.logs }

// Start dials uri and begins the receive loop. It returns once the
// handshake completes; the receive loop continues in the background
// until Stop is called or the connection drops.
func (c *Conn) Start(ctx context.Context, uri string) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, uri, nil)
	if err != nil {
		return fmt.Errorf("wsconn: dial %s: %w", uri, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, loopCtx := errgroup.WithContext(loopCtx)

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.group = g
	c.cancel = cancel
	c.mu.Unlock()

	c.log(LogInfo, fmt.Sprintf("connected to %s", uri))

	g.Go(func() error {
		return c.readPump(loopCtx)
	})

	return nil
}

// Send enqueues one text frame for transmission. Concurrent sends are
// serialized so frames are emitted in call order.
func (c *Conn) Send(text string) error {
	c.mu.Lock()
	connected := c.connected
	ws := c.ws
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("wsconn: not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("wsconn: send: %w", err)
	}
	return nil
}

// Stop initiates a graceful close and waits for the receive loop to
// drain. Idempotent, and safe to call even after the receive loop has
// already torn itself down following a peer-initiated disconnect.
func (c *Conn) Stop() error {
	c.mu.Lock()
	ws := c.ws
	group := c.group
	c.mu.Unlock()

	if ws != nil {
		deadline := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, deadline, time.Now().Add(time.Second))
	}

	c.closeOnce.Do(c.teardown)

	if ws != nil {
		_ = ws.Close()
	}
	if group != nil {
		_ = group.Wait()
	}
	return nil
}

// teardown marks the Conn disconnected and closes the public channels. It
// runs at most once, triggered by whichever happens first: an explicit
// Stop, or the receive loop noticing the socket died on its own. It must
// never block on group.Wait, since it can run on the receive-loop
// goroutine itself.
func (c *Conn) teardown() {
	c.log(LogInfo, "disconnected")

	c.mu.Lock()
	c.connected = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(c.received)
	close(c.logs)
}

func (c *Conn) readPump(ctx context.Context) error {
	defer c.closeOnce.Do(c.teardown)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log(LogInfo, fmt.Sprintf("read loop ending: %s", err))
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch msgType {
		case websocket.TextMessage:
			select {
			case c.received <- string(data):
			case <-ctx.Done():
				return nil
			}
		default:
			c.log(LogWarn, fmt.Sprintf("ignoring non-text frame type %d", msgType))
		}
	}
}

func (c *Conn) log(level LogLevel, msg string) {
	// Records go to the logs channel only while connected: teardown marks
	// the Conn disconnected under c.mu before it closes the channel, so a
	// send made under c.mu never hits a closed channel.
	c.mu.Lock()
	if c.connected {
		select {
		case c.logs <- LogRecord{Level: level, Message: msg}:
		default:
			// logs channel full: the record is dropped from the channel
			// rather than blocking the connection on a slow consumer.
		}
	}
	c.mu.Unlock()

	// Every record is also written to the structured logger.

	entry := c.logger.With("conn", c.id.String())
	switch level {
	case LogDebug:
		entry.Debug(msg)
	case LogWarn:
		entry.Warn(msg)
	case LogError:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
}
