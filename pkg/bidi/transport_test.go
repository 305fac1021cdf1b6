package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/driftglass/bidigo/pkg/bidierr"
	"github.com/driftglass/bidigo/pkg/command"
	"github.com/driftglass/bidigo/pkg/event"
	"github.com/driftglass/bidigo/pkg/wsconn"
)

// startFakePeer runs a WebSocket server that hands the test both the
// server-side connection (so it can push frames) and every frame the
// client sends (so replies can be correlated by id).
func startFakePeer(t *testing.T) (server *httptest.Server, wsURL string, peerConn <-chan *websocket.Conn, received <-chan string) {
	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)
	recvCh := make(chan string, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			recvCh <- string(data)
		}
	}))

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL, connCh, recvCh
}

func idOf(t *testing.T, raw string) int {
	var req struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("failed to parse outgoing frame %q: %v", raw, err)
	}
	return req.ID
}

func newConnectedTransport(t *testing.T) (*Transport, *httptest.Server, *websocket.Conn, <-chan string) {
	server, wsURL, peerConnCh, recvCh := startFakePeer(t)

	conn := wsconn.New(nil)
	tr := New(2*time.Second, conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx, wsURL); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	var peer *websocket.Conn
	select {
	case peer = <-peerConnCh:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never connected")
	}

	return tr, server, peer, recvCh
}

func TestSimpleSuccessRoundTrip(t *testing.T) {
	Convey("Given a connected transport and a peer that echoes a result", t, func() {
		tr, server, peer, recvCh := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		Convey("When sending session.status and waiting", func() {
			id, err := tr.SendCommand(command.Command{Method: "session.status", Params: map[string]any{}})
			So(err, ShouldBeNil)

			raw := <-recvCh
			So(idOf(t, raw), ShouldEqual, int(id))

			_ = peer.WriteMessage(websocket.TextMessage, []byte(
				fmt.Sprintf(`{"id":%d,"result":{"ready":true,"message":"ok"}}`, id)))

			err = tr.WaitForCommand(id, time.Second)
			So(err, ShouldBeNil)

			result, err := tr.TakeCommandResponse(id)

			Convey("The caller receives the decoded result and the registry empties", func() {
				So(err, ShouldBeNil)
				So(result, ShouldResemble, map[string]any{"ready": true, "message": "ok"})
				So(tr.PendingCount(), ShouldEqual, 0)
			})
		})
	})
}

func TestPeerErrorSurfacesAsPeerError(t *testing.T) {
	Convey("Given a connected transport and a peer that errors", t, func() {
		tr, server, peer, recvCh := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		Convey("When the peer responds with an error frame", func() {
			id, err := tr.SendCommand(command.Command{
				Method: "browsingContext.navigate",
				Params: map[string]any{"context": "x", "url": "about:blank"},
			})
			So(err, ShouldBeNil)
			<-recvCh

			_ = peer.WriteMessage(websocket.TextMessage, []byte(
				fmt.Sprintf(`{"id":%d,"error":"no such frame","message":"context x not found"}`, id)))

			_ = tr.WaitForCommand(id, time.Second)
			_, err = tr.TakeCommandResponse(id)

			Convey("TakeCommandResponse fails with a PeerError carrying the response", func() {
				var peerErr *bidierr.PeerError
				So(err, ShouldNotBeNil)
				ok := asPeerError(err, &peerErr)
				So(ok, ShouldBeTrue)
				So(peerErr.Response.Error, ShouldEqual, "no such frame")
				So(peerErr.Response.Message, ShouldEqual, "context x not found")
			})
		})
	})
}

func TestOutOfOrderResponsesBothResolve(t *testing.T) {
	Convey("Given a connected transport and two in-flight commands", t, func() {
		tr, server, peer, recvCh := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		Convey("When responses arrive in reverse order", func() {
			id1, err := tr.SendCommand(command.Command{Method: "a"})
			So(err, ShouldBeNil)
			<-recvCh
			id2, err := tr.SendCommand(command.Command{Method: "b"})
			So(err, ShouldBeNil)
			<-recvCh

			_ = peer.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"id":%d,"result":{}}`, id2)))
			_ = peer.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"id":%d,"result":{}}`, id1)))

			err1 := tr.WaitForCommand(id1, time.Second)
			err2 := tr.WaitForCommand(id2, time.Second)
			_, takeErr1 := tr.TakeCommandResponse(id1)
			_, takeErr2 := tr.TakeCommandResponse(id2)

			Convey("Both waiters wake and the registry empties", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(takeErr1, ShouldBeNil)
				So(takeErr2, ShouldBeNil)
				So(tr.PendingCount(), ShouldEqual, 0)
			})
		})
	})
}

func TestEventDispatchToRegisteredDescriptor(t *testing.T) {
	Convey("Given a transport with a registered event descriptor", t, func() {
		tr, server, peer, _ := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		var dispatched any
		dispatchCount := 0
		tr.RegisterEvent(event.Descriptor{
			Name: "browsingContext.load",
			Decode: func(raw json.RawMessage) (any, error) {
				var v map[string]any
				err := json.Unmarshal(raw, &v)
				return v, err
			},
			Dispatch: func(payload any) {
				dispatched = payload
				dispatchCount++
			},
		})

		received := make(chan EventReceived, 1)
		tr.OnEvent.Add(func(e EventReceived) { received <- e })

		Convey("When the peer sends the event", func() {
			_ = peer.WriteMessage(websocket.TextMessage, []byte(
				`{"method":"browsingContext.load","params":{"context":"c1","url":"https://a","timestamp":1700}}`))

			select {
			case e := <-received:
				Convey("The dispatch callback runs exactly once and the registry is untouched", func() {
					So(dispatchCount, ShouldEqual, 1)
					So(e.Name, ShouldEqual, "browsingContext.load")
					So(dispatched, ShouldResemble, map[string]any{"context": "c1", "url": "https://a", "timestamp": float64(1700)})
					So(tr.PendingCount(), ShouldEqual, 0)
				})
			case <-time.After(2 * time.Second):
				t.Fatal("event was never dispatched")
			}
		})
	})
}

func TestUnsolicitedErrorDoesNotAffectCommands(t *testing.T) {
	Convey("Given a connected transport", t, func() {
		tr, server, peer, _ := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		received := make(chan bidierr.ErrorResponse, 1)
		tr.OnProtocolError.Add(func(e bidierr.ErrorResponse) { received <- e })

		Convey("When the peer sends an error frame with no id", func() {
			_ = peer.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid argument","message":"bad frame"}`))

			select {
			case e := <-received:
				Convey("OnProtocolError fires and no command is affected", func() {
					So(e.Error, ShouldEqual, "invalid argument")
					So(e.Message, ShouldEqual, "bad frame")
					So(tr.PendingCount(), ShouldEqual, 0)
				})
			case <-time.After(2 * time.Second):
				t.Fatal("protocol error was never reported")
			}
		})
	})
}

func TestUnregisteredEventIsUnknown(t *testing.T) {
	Convey("Given a connected transport with no registered events", t, func() {
		tr, server, peer, _ := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		unknown := make(chan string, 1)
		tr.OnUnknown.Add(func(raw string) { unknown <- raw })

		Convey("When the peer sends an event for an unregistered method", func() {
			_ = peer.WriteMessage(websocket.TextMessage, []byte(`{"method":"some.unregistered","params":{}}`))

			select {
			case raw := <-unknown:
				Convey("unknown_message_received fires and nothing crashes", func() {
					So(raw, ShouldContainSubstring, "some.unregistered")
				})
			case <-time.After(2 * time.Second):
				t.Fatal("unknown message was never reported")
			}
		})
	})
}

func TestSendCommandFailsWhenNotConnected(t *testing.T) {
	Convey("Given a transport that was never connected", t, func() {
		tr := New(time.Second, wsconn.New(nil), nil)

		Convey("When sending a command", func() {
			_, err := tr.SendCommand(command.Command{Method: "m"})

			Convey("It fails with NotConnected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestDisconnectCompletesPendingCommandsWithConnectionClosed(t *testing.T) {
	Convey("Given a transport with a command in flight", t, func() {
		tr, server, _, _ := newConnectedTransport(t)
		defer server.Close()

		id, err := tr.SendCommand(command.Command{Method: "m"})
		So(err, ShouldBeNil)

		Convey("When disconnecting before any response arrives", func() {
			done := make(chan error, 1)
			go func() { done <- tr.WaitForCommand(id, 5*time.Second) }()

			So(tr.Disconnect(), ShouldBeNil)

			Convey("The waiter wakes within its timeout", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
					_, takeErr := tr.TakeCommandResponse(id)
					So(takeErr, ShouldNotBeNil)
				case <-time.After(5 * time.Second):
					t.Fatal("waiter never woke on disconnect")
				}
			})
		})
	})
}

func TestSpontaneousDisconnectCompletesPendingCommandsWithConnectionClosed(t *testing.T) {
	Convey("Given a transport with a command in flight", t, func() {
		tr, server, peer, _ := newConnectedTransport(t)
		defer server.Close()
		defer tr.Disconnect()

		id, err := tr.SendCommand(command.Command{Method: "m"})
		So(err, ShouldBeNil)

		Convey("When the peer drops the socket without a graceful close", func() {
			done := make(chan error, 1)
			go func() { done <- tr.WaitForCommand(id, 5*time.Second) }()

			So(peer.Close(), ShouldBeNil)

			Convey("The waiter wakes with ConnectionClosed and the transport closes itself", func() {
				select {
				case err := <-done:
					So(err, ShouldBeNil)
					_, takeErr := tr.TakeCommandResponse(id)
					So(takeErr, ShouldNotBeNil)
				case <-time.After(5 * time.Second):
					t.Fatal("waiter never woke on spontaneous disconnect")
				}

				closed := false
				deadline := time.Now().Add(2 * time.Second)
				for time.Now().Before(deadline) {
					if tr.State() == StateClosed {
						closed = true
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				So(closed, ShouldBeTrue)
			})
		})
	})
}

// asPeerError is a tiny stand-in for errors.As kept local to the test: a
// plain type assertion that does not unwrap err.
func asPeerError(err error, target **bidierr.PeerError) bool {
	pe, ok := err.(*bidierr.PeerError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
