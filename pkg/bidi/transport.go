// Package bidi implements the protocol transport: the centerpiece that
// owns a Connection, a command registry and an event registry, assigns
// command ids, serializes outgoing commands, and routes every inbound
// frame to command completion, event dispatch, protocol-error reporting,
// or unknown-message handling.
package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/driftglass/bidigo/pkg/bidierr"
	"github.com/driftglass/bidigo/pkg/command"
	"github.com/driftglass/bidigo/pkg/event"
	"github.com/driftglass/bidigo/pkg/metrics"
	"github.com/driftglass/bidigo/pkg/subscriber"
	"github.com/driftglass/bidigo/pkg/wsconn"
)

// EventReceived is the payload handed to OnEvent subscribers.
type EventReceived struct {
	Name    string
	Payload any
}

// Transport is the protocol transport described by the design: it owns
// its Connection, Command Registry and Event Registry for the lifetime
// of a session.
type Transport struct {
	conn    *wsconn.Conn
	commands *command.Registry
	events   *event.Registry
	metrics  *metrics.Metrics
	logger   *log.Logger

	defaultTimeout time.Duration
	counter        uint64

	mu    sync.Mutex
	state State

	OnEvent         *subscriber.List[EventReceived]
	OnProtocolError *subscriber.List[bidierr.ErrorResponse]
	OnUnknown       *subscriber.List[string]
	OnLog           *subscriber.List[wsconn.LogRecord]

	wg sync.WaitGroup
}

// New constructs a Transport. conn is taken over exclusively by the
// Transport: callers must not call its methods directly once it has been
// passed here. defaultTimeout is used by SendCommandAndWait; pass 0 to
// require every caller to supply its own timeout via WaitForCommand.
func New(defaultTimeout time.Duration, conn *wsconn.Conn, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.Default()
	}
	return &Transport{
		conn:            conn,
		commands:        command.NewRegistry(),
		events:          event.NewRegistry(),
		metrics:         metrics.New(),
		logger:          logger,
		defaultTimeout:  defaultTimeout,
		state:           StateNew,
		OnEvent:         subscriber.New[EventReceived](),
		OnProtocolError: subscriber.New[bidierr.ErrorResponse](),
		OnUnknown:       subscriber.New[string](),
		OnLog:           subscriber.New[wsconn.LogRecord](),
	}
}

// RegisterEvent forwards to the Event Registry. Safe to call before or
// after Connect.
func (t *Transport) RegisterEvent(d event.Descriptor) {
	t.events.Register(d)
}

// PendingCount reports how many commands are still registered: issued
// and not yet taken with TakeCommandResponse, whether or not they have
// completed. Mainly useful for asserting the registry empties after a
// round trip.
func (t *Transport) PendingCount() int {
	return t.commands.Len()
}

// Metrics returns the transport's metrics snapshot.
func (t *Transport) Metrics() map[string]int64 {
	return t.metrics.Snapshot()
}

// State returns the transport's current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Connect dials uri through the Connection and starts the receive loop.
func (t *Transport) Connect(ctx context.Context, uri string) error {
	t.setState(StateConnecting)
	t.metrics.RecordConnectionAttempt()

	if err := t.conn.Start(ctx, uri); err != nil {
		t.setState(StateClosed)
		t.metrics.RecordConnectionFailure()
		return bidierr.Wrap(bidierr.TransportStartFailed, err)
	}

	t.setState(StateConnected)

	t.wg.Add(2)
	go t.runFrameLoop()
	go t.runLogLoop()

	return nil
}

// Disconnect gracefully closes the Connection, completes every pending
// command with ConnectionClosed so no waiter can deadlock, and moves the
// transport to Closed.
func (t *Transport) Disconnect() error {
	t.setState(StateDisconnecting)

	err := t.conn.Stop()
	t.wg.Wait()

	t.commands.Drain(command.Outcome{
		Kind: command.OutcomeError,
		Err:  bidierr.ErrConnectionClosed,
	})

	t.setState(StateClosed)

	if err != nil {
		return err
	}
	return nil
}

// SendCommand assigns an id, inserts a Command Registry entry, serializes
// cmd and writes it to the Connection. It returns the assigned id.
func (t *Transport) SendCommand(cmd command.Command) (command.Id, error) {
	if t.State() != StateConnected {
		return 0, bidierr.ErrNotConnected
	}

	id := command.Id(atomic.AddUint64(&t.counter, 1))

	if _, err := t.commands.Insert(id, cmd); err != nil {
		// Unreachable under the atomic counter discipline; treated as a
		// fatal internal invariant violation per the error handling design.
		t.logger.Error("duplicate command id, closing transport", "id", id, "err", err)
		t.setState(StateClosed)
		return 0, bidierr.Wrap(bidierr.DuplicateCommandId, err)
	}

	text, err := encodeOutgoing(id, cmd)
	if err != nil {
		t.commands.Remove(id)
		return 0, fmt.Errorf("bidi: encode command: %w", err)
	}

	if err := t.conn.Send(text); err != nil {
		t.commands.Remove(id)
		return 0, bidierr.Wrap(bidierr.NotConnected, err)
	}

	t.metrics.RecordCommandSent()
	return id, nil
}

func encodeOutgoing(id command.Id, cmd command.Command) (string, error) {
	wire := struct {
		ID     command.Id `json:"id"`
		Method string     `json:"method"`
		Params any        `json:"params"`
	}{ID: id, Method: cmd.Method, Params: cmd.Params}

	b, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WaitForCommand blocks until id's completion is signaled or timeout
// elapses.
func (t *Transport) WaitForCommand(id command.Id, timeout time.Duration) error {
	p, ok := t.commands.TryGet(id)
	if !ok {
		return bidierr.ErrUnknownCommandId
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		return nil
	case <-timer.C:
		t.metrics.RecordCommandTimeout()
		return bidierr.ErrCommandTimeout
	}
}

// TakeCommandResponse removes and returns the decoded result for id, or
// raises the captured error. Fails with UnknownCommandId if id was never
// issued or has already been taken.
func (t *Transport) TakeCommandResponse(id command.Id) (any, error) {
	p, ok := t.commands.Remove(id)
	if !ok {
		return nil, bidierr.ErrUnknownCommandId
	}

	o := p.Outcome()
	switch o.Kind {
	case command.OutcomeResult:
		t.metrics.RecordCommandCompleted()
		return o.Result, nil
	case command.OutcomeError:
		t.metrics.RecordCommandCompleted()
		return nil, o.Err
	case command.OutcomeDecodeFailure:
		t.metrics.RecordCommandCompleted()
		return nil, o.Err
	default:
		return nil, fmt.Errorf("bidi: command %d has not completed", id)
	}
}

// SendCommandAndWait composes SendCommand, WaitForCommand and
// TakeCommandResponse using the transport's configured default timeout.
func (t *Transport) SendCommandAndWait(cmd command.Command) (any, error) {
	id, err := t.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if err := t.WaitForCommand(id, t.defaultTimeout); err != nil {
		return nil, err
	}
	return t.TakeCommandResponse(id)
}

func (t *Transport) runLogLoop() {
	defer t.wg.Done()
	for rec := range t.conn.Logs() {
		t.OnLog.Dispatch(rec)
	}
}

func (t *Transport) runFrameLoop() {
	defer t.wg.Done()
	for raw := range t.conn.DataReceived() {
		t.handleFrame(raw)
	}
	t.handleConnectionLost()
}

// handleConnectionLost runs once the Connection's receive loop has ended.
// An explicit Disconnect already moved the state to Disconnecting before
// stopping the Connection, so it is a no-op here; a spontaneous drop
// (peer closed the socket, read error) is still Connected, so this path
// drives the Connected -> Disconnecting -> Closed transition itself and
// wakes every waiter with ConnectionClosed instead of leaving them to
// time out.
func (t *Transport) handleConnectionLost() {
	t.mu.Lock()
	if t.state == StateDisconnecting || t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateDisconnecting
	t.mu.Unlock()

	t.logger.Warn("connection lost, closing transport")

	t.commands.Drain(command.Outcome{
		Kind: command.OutcomeError,
		Err:  bidierr.ErrConnectionClosed,
	})

	t.setState(StateClosed)
}

// handleFrame implements the inbound dispatch algorithm of the design.
func (t *Transport) handleFrame(raw string) {
	f := classify(raw)

	switch f.kind {
	case frameCommandResponse:
		p, ok := t.commands.TryGet(f.id)
		if !ok {
			t.emitUnknown(raw)
			return
		}
		value, err := decodeWith(p.Command.Decode, f.result)
		if err != nil {
			t.commands.Complete(f.id, command.Outcome{
				Kind: command.OutcomeDecodeFailure,
				Err:  &bidierr.DecodeFailure{Err: err, Raw: f.result},
			})
			return
		}
		t.commands.Complete(f.id, command.Outcome{Kind: command.OutcomeResult, Result: value})

	case frameCommandError:
		if _, ok := t.commands.TryGet(f.id); !ok {
			t.emitUnknown(raw)
			return
		}
		resp := bidierr.ErrorResponse{Error: f.errBody.Error, Message: f.errBody.Message, Stacktrace: f.errBody.Stacktrace}
		t.commands.Complete(f.id, command.Outcome{Kind: command.OutcomeError, Err: &bidierr.PeerError{Response: resp}})

	case frameUnsolicitedError:
		resp := bidierr.ErrorResponse{Error: f.errBody.Error, Message: f.errBody.Message, Stacktrace: f.errBody.Stacktrace}
		t.OnProtocolError.Dispatch(resp)

	case frameEvent:
		d, ok := t.events.Lookup(f.method)
		if !ok {
			t.emitUnknown(raw)
			return
		}
		payload, err := decodeEventPayload(d, f.params)
		if err != nil {
			t.emitUnknown(raw)
			return
		}
		if d.Dispatch != nil {
			d.Dispatch(payload)
		}
		t.metrics.RecordEventDispatched()
		t.OnEvent.Dispatch(EventReceived{Name: f.method, Payload: payload})

	default:
		t.emitUnknown(raw)
	}
}

func (t *Transport) emitUnknown(raw string) {
	t.metrics.RecordEventDropped()
	t.OnUnknown.Dispatch(raw)
}

func decodeWith(decode command.ResultDecoder, raw json.RawMessage) (any, error) {
	if decode == nil {
		var v any
		err := json.Unmarshal(raw, &v)
		return v, err
	}
	return decode(raw)
}

func decodeEventPayload(d event.Descriptor, raw json.RawMessage) (any, error) {
	if d.Decode == nil {
		var v any
		err := json.Unmarshal(raw, &v)
		return v, err
	}
	return d.Decode(raw)
}
