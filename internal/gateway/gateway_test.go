package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/gorilla/websocket"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// recorder is a Dispatcher keeping everything it receives.
type recorder struct {
	mu          sync.Mutex
	events      []string
	sequences   []int64
	disconnects int
	received    chan string
}

func newRecorder() *recorder {
	return &recorder{received: make(chan string, 64)}
}

func (r *recorder) Dispatch(ctx context.Context, event string, _ tetherjson.RawMessage) error {
	r.mu.Lock()
	r.events = append(r.events, event)

	if sequence, ok := SequenceFromContext(ctx); ok {
		r.sequences = append(r.sequences, sequence)
	}
	r.mu.Unlock()

	r.received <- event

	return nil
}

func (r *recorder) Disconnect(context.Context) {
	r.mu.Lock()
	r.disconnects++
	r.mu.Unlock()
}

func (r *recorder) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.disconnects
}

func (r *recorder) wait(t *testing.T, event string) {
	t.Helper()

	timeout := time.After(5 * time.Second)

	for {
		select {
		case received := <-r.received:
			if received == event {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

// fakeConn is the server side of a gateway connection.
type fakeConn struct {
	t     *testing.T
	conn  *websocket.Conn
	query url.Values
}

type receivedFrame struct {
	Op   discord.GatewayOp `json:"op"`
	Data json.RawMessage   `json:"d"`
}

func (c *fakeConn) send(op discord.GatewayOp, event string, sequence int64, data any) {
	frame := map[string]any{"op": op, "d": data}

	if event != "" {
		frame["t"] = event
		frame["s"] = sequence
	}

	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Errorf("failed to write frame: %v", err)
	}
}

func (c *fakeConn) hello(interval time.Duration) {
	c.send(discord.GatewayOpHello, "", 0, map[string]any{"heartbeat_interval": interval.Milliseconds()})
}

// expect reads frames until one with op arrives. Heartbeats are skipped
// unless they are what is expected.
func (c *fakeConn) expect(op discord.GatewayOp) receivedFrame {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		var frame receivedFrame

		if err := c.conn.ReadJSON(&frame); err != nil {
			c.t.Errorf("failed to read %s: %v", op, err)

			return frame
		}

		if frame.Op == op {
			return frame
		}

		if frame.Op != discord.GatewayOpHeartbeat {
			c.t.Errorf("expected %s, received %s", op, frame.Op)

			return frame
		}
	}
}

// closeCode reads until the client closes the socket and returns its code.
func (c *fakeConn) closeCode() int {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return closeErr.Code
			}

			return -1
		}
	}
}

func (c *fakeConn) close(code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
}

// drain keeps reading so close handshakes started by the client complete.
func (c *fakeConn) drain() {
	_ = c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// newFakeGateway starts a websocket server calling handler for every
// connection with its 1 based index.
func newFakeGateway(t *testing.T, handler func(id int, c *fakeConn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	var (
		mu    sync.Mutex
		count int
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)

			return
		}
		defer conn.Close()

		mu.Lock()
		count++
		id := count
		mu.Unlock()

		handler(id, &fakeConn{t: t, conn: conn, query: r.URL.Query()})
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(gatewayURL string) Config {
	return Config{
		URL:              gatewayURL,
		Token:            staticToken("token"),
		Intents:          discord.IntentGuilds | discord.IntentGuildMessages,
		IdentifyInterval: time.Millisecond,
		ConnectTimeout:   5 * time.Second,
	}
}

func decodeFrame[T any](t *testing.T, frame receivedFrame) T {
	t.Helper()

	var value T

	if err := json.Unmarshal(frame.Data, &value); err != nil {
		t.Errorf("failed to unmarshal %s: %v", frame.Op, err)
	}

	return value
}
