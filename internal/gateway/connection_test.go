package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/rs/zerolog"
)

func runConnection(t *testing.T, conn *Connection, resume bool) <-chan error {
	t.Helper()

	result := make(chan error, 1)

	go func() {
		result <- conn.Run(context.Background(), resume)
	}()

	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()

	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the connection to end")

		return nil
	}
}

func TestConnectionIdentify(t *testing.T) {
	closed := make(chan int, 1)

	var gatewayURL string

	gatewayURL = newFakeGateway(t, func(_ int, c *fakeConn) {
		if v := c.query.Get("v"); v != GatewayVersion {
			t.Errorf("expected version %s, got %q", GatewayVersion, v)
		}

		if encoding := c.query.Get("encoding"); encoding != "json" {
			t.Errorf("expected json encoding, got %q", encoding)
		}

		c.hello(45 * time.Second)

		identify := decodeFrame[discord.Identify](t, c.expect(discord.GatewayOpIdentify))

		if identify.Token != "token" {
			t.Errorf("expected token to be sent, got %q", identify.Token)
		}

		if identify.Intents != int32(discord.IntentGuilds|discord.IntentGuildMessages) {
			t.Errorf("unexpected intents %d", identify.Intents)
		}

		if identify.LargeThreshold != DefaultLargeThreshold {
			t.Errorf("unexpected large threshold %d", identify.LargeThreshold)
		}

		if identify.Properties == nil || identify.Properties.OS == "" {
			t.Errorf("expected identify properties, got %+v", identify.Properties)
		}

		c.send(discord.GatewayOpDispatch, discord.EventReady, 1, map[string]any{
			"v":                  10,
			"session_id":         "session",
			"resume_gateway_url": gatewayURL,
		})
		c.send(discord.GatewayOpDispatch, "MESSAGE_CREATE", 2, map[string]any{"id": "1"})

		closed <- c.closeCode()
	})

	dispatcher := newRecorder()
	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), dispatcher, Session{Sequence: NoSequence})
	result := runConnection(t, conn, false)

	dispatcher.wait(t, "MESSAGE_CREATE")

	select {
	case <-conn.Ready():
	default:
		t.Fatal("expected connection to be ready")
	}

	if state := conn.State(); state != StateConnected {
		t.Errorf("expected connected state, got %s", state)
	}

	session := conn.Session()
	if session.ID != "session" || session.Sequence != 2 || session.ResumeURL != gatewayURL {
		t.Errorf("unexpected session %+v", session)
	}

	conn.Close(discord.CloseNormal)

	err := waitResult(t, result)

	var closeErr *CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != discord.CloseNormal || !closeErr.Requested {
		t.Fatalf("expected requested normal close, got %v", err)
	}

	if conn.Session().Resumable() {
		t.Error("expected a normal close to drop the session")
	}

	if code := <-closed; code != discord.CloseNormal {
		t.Errorf("expected server to receive close code %d, got %d", discord.CloseNormal, code)
	}

	if state := conn.State(); state != StateDisconnected {
		t.Errorf("expected disconnected state, got %s", state)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	if len(dispatcher.events) != 2 || dispatcher.events[0] != discord.EventReady {
		t.Errorf("expected READY and MESSAGE_CREATE to be dispatched, got %v", dispatcher.events)
	}

	if len(dispatcher.sequences) != 2 || dispatcher.sequences[1] != 2 {
		t.Errorf("expected dispatch sequences in context, got %v", dispatcher.sequences)
	}
}

func TestConnectionResume(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)

		resume := decodeFrame[discord.Resume](t, c.expect(discord.GatewayOpResume))

		if resume.SessionID != "session" || resume.Sequence != 5 || resume.Token != "token" {
			t.Errorf("unexpected resume %+v", resume)
		}

		c.send(discord.GatewayOpDispatch, discord.EventResumed, 6, nil)

		c.drain()
	})

	// The configured url is unreachable so the connection has to use the
	// resume url.
	config := testConfig("ws://127.0.0.1:1")
	session := Session{ID: "session", Sequence: 5, ResumeURL: gatewayURL}

	dispatcher := newRecorder()
	conn := NewConnection(zerolog.Nop(), config, dispatcher, session)
	result := runConnection(t, conn, true)

	dispatcher.wait(t, discord.EventResumed)

	if sequence := conn.Sequence(); sequence != 6 {
		t.Errorf("expected sequence 6, got %d", sequence)
	}

	if id := conn.Session().ID; id != "session" {
		t.Errorf("expected session to be kept, got %q", id)
	}

	conn.Close(discord.CloseNormal)
	waitResult(t, result)
}

func TestConnectionIdentifiesWithoutSession(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)
		c.expect(discord.GatewayOpIdentify)
		c.drain()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	result := runConnection(t, conn, true)

	deadline := time.Now().Add(5 * time.Second)
	for conn.State() != StateIdentifying && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if state := conn.State(); state != StateIdentifying {
		t.Errorf("expected identifying state, got %s", state)
	}

	conn.Close(discord.CloseNormal)
	waitResult(t, result)
}

func TestConnectionInvalidSession(t *testing.T) {
	tests := []struct {
		name      string
		resumable bool
		code      int
	}{
		{name: "resumable", resumable: true, code: int(CloseCodeReconnect)},
		{name: "not resumable", resumable: false, code: discord.CloseNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed := make(chan int, 1)

			gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
				c.hello(45 * time.Second)
				c.expect(discord.GatewayOpIdentify)
				c.send(discord.GatewayOpDispatch, discord.EventReady, 1, map[string]any{"session_id": "session"})
				c.send(discord.GatewayOpInvalidSession, "", 0, tt.resumable)

				closed <- c.closeCode()
			})

			conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
			err := waitResult(t, runConnection(t, conn, false))

			var reconnect *ReconnectError
			if !errors.As(err, &reconnect) {
				t.Fatalf("expected reconnect error, got %v", err)
			}

			if reconnect.Resume != tt.resumable {
				t.Errorf("expected resume %t, got %t", tt.resumable, reconnect.Resume)
			}

			if code := <-closed; code != tt.code {
				t.Errorf("expected close code %d, got %d", tt.code, code)
			}

			if resumable := conn.Session().Resumable(); resumable != tt.resumable {
				t.Errorf("expected session resumable %t, got %t", tt.resumable, resumable)
			}
		})
	}
}

func TestConnectionReconnectRequest(t *testing.T) {
	closed := make(chan int, 1)

	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)
		c.expect(discord.GatewayOpIdentify)
		c.send(discord.GatewayOpDispatch, discord.EventReady, 1, map[string]any{"session_id": "session"})
		c.send(discord.GatewayOpReconnect, "", 0, nil)

		closed <- c.closeCode()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	err := waitResult(t, runConnection(t, conn, false))

	var reconnect *ReconnectError
	if !errors.As(err, &reconnect) || !reconnect.Resume {
		t.Fatalf("expected resumable reconnect error, got %v", err)
	}

	if code := <-closed; code != int(CloseCodeReconnect) {
		t.Errorf("expected close code %d, got %d", CloseCodeReconnect, code)
	}

	if session := conn.Session(); session.ID != "session" || session.Sequence != 1 {
		t.Errorf("expected session to survive, got %+v", session)
	}
}

func TestConnectionSequenceNeverDecreases(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)
		c.expect(discord.GatewayOpIdentify)
		c.send(discord.GatewayOpDispatch, discord.EventReady, 1, map[string]any{"session_id": "session"})
		c.send(discord.GatewayOpDispatch, "MESSAGE_CREATE", 5, nil)
		c.send(discord.GatewayOpDispatch, "MESSAGE_UPDATE", 3, nil)
		c.send(42, "", 0, nil)
		c.send(discord.GatewayOpDispatch, "MESSAGE_DELETE", 4, nil)
		c.drain()
	})

	dispatcher := newRecorder()
	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), dispatcher, Session{Sequence: NoSequence})
	result := runConnection(t, conn, false)

	dispatcher.wait(t, "MESSAGE_DELETE")

	if sequence := conn.Sequence(); sequence != 5 {
		t.Errorf("expected sequence 5, got %d", sequence)
	}

	conn.Close(discord.CloseNormal)
	waitResult(t, result)
}

func TestConnectionExpectsHello(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.send(discord.GatewayOpDispatch, discord.EventReady, 1, nil)
		c.drain()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	err := waitResult(t, runConnection(t, conn, false))

	if !errors.Is(err, ErrExpectedHello) {
		t.Fatalf("expected ErrExpectedHello, got %v", err)
	}
}

func TestConnectionInvalidHeartbeatInterval(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(0)
		c.drain()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	err := waitResult(t, runConnection(t, conn, false))

	if !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
}

func TestConnectionServerClose(t *testing.T) {
	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)
		c.expect(discord.GatewayOpIdentify)
		c.close(discord.CloseAuthenticationFailed, "Authentication failed.")
		c.drain()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	err := waitResult(t, runConnection(t, conn, false))

	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}

	if closeErr.Code != discord.CloseAuthenticationFailed || closeErr.Requested {
		t.Errorf("unexpected close error %+v", closeErr)
	}

	if closeErr.Reason != "Authentication failed." {
		t.Errorf("unexpected close reason %q", closeErr.Reason)
	}
}

func TestConnectionHeartbeat(t *testing.T) {
	acked := make(chan struct{})

	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(20 * time.Millisecond)
		c.expect(discord.GatewayOpIdentify)

		first := c.expect(discord.GatewayOpHeartbeat)
		if string(first.Data) != "null" {
			t.Errorf("expected null sequence before any dispatch, got %s", first.Data)
		}

		c.send(discord.GatewayOpHeartbeatACK, "", 0, nil)
		c.send(discord.GatewayOpDispatch, discord.EventReady, 7, map[string]any{"session_id": "session"})

		<-acked

		// A heartbeat request is answered straight away.
		c.send(discord.GatewayOpHeartbeat, "", 0, nil)

		for {
			frame := c.expect(discord.GatewayOpHeartbeat)
			if string(frame.Data) == "7" || t.Failed() {
				break
			}
		}

		c.drain()
	})

	dispatcher := newRecorder()
	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), dispatcher, Session{Sequence: NoSequence})

	if _, ok := conn.Latency(); ok {
		t.Error("expected no latency before the first ack")
	}

	result := runConnection(t, conn, false)

	dispatcher.wait(t, discord.EventReady)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := conn.Latency(); ok {
			break
		}

		if time.Now().After(deadline) {
			t.Fatal("expected latency after an ack")
		}

		time.Sleep(5 * time.Millisecond)
	}

	close(acked)

	time.Sleep(100 * time.Millisecond)

	conn.Close(discord.CloseNormal)
	waitResult(t, result)
}

func TestConnectionCloseBeforeRun(t *testing.T) {
	conn := NewConnection(zerolog.Nop(), testConfig("ws://127.0.0.1:1"), newRecorder(), Session{Sequence: NoSequence})
	conn.Close(4000)

	err := conn.Run(context.Background(), false)

	var closeErr *CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != 4000 || !closeErr.Requested {
		t.Fatalf("expected requested close error, got %v", err)
	}

	if err := conn.Run(context.Background(), false); !errors.Is(err, ErrConnectionUsed) {
		t.Errorf("expected ErrConnectionUsed, got %v", err)
	}
}

func TestConnectionSendRequiresSocket(t *testing.T) {
	conn := NewConnection(zerolog.Nop(), testConfig("ws://127.0.0.1:1"), newRecorder(), Session{Sequence: NoSequence})

	err := conn.UpdatePresence(context.Background(), discord.UpdateStatus{Status: "online"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectionCommands(t *testing.T) {
	received := make(chan receivedFrame, 3)

	gatewayURL := newFakeGateway(t, func(_ int, c *fakeConn) {
		c.hello(45 * time.Second)
		c.expect(discord.GatewayOpIdentify)
		c.send(discord.GatewayOpDispatch, discord.EventReady, 1, map[string]any{"session_id": "session"})

		received <- c.expect(discord.GatewayOpStatusUpdate)
		received <- c.expect(discord.GatewayOpVoiceStateUpdate)
		received <- c.expect(discord.GatewayOpRequestGuildMembers)

		c.drain()
	})

	conn := NewConnection(zerolog.Nop(), testConfig(gatewayURL), newRecorder(), Session{Sequence: NoSequence})
	result := runConnection(t, conn, false)

	select {
	case <-conn.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ready")
	}

	ctx := context.Background()

	if err := conn.UpdatePresence(ctx, discord.UpdateStatus{Status: "idle"}); err != nil {
		t.Fatalf("UpdatePresence returned error: %v", err)
	}

	if err := conn.UpdateVoiceState(ctx, discord.UpdateVoiceState{GuildID: 1}); err != nil {
		t.Fatalf("UpdateVoiceState returned error: %v", err)
	}

	nonce, err := conn.RequestGuildMembers(ctx, discord.RequestGuildMembers{GuildID: 1})
	if err != nil {
		t.Fatalf("RequestGuildMembers returned error: %v", err)
	}

	if len(nonce) != 32 {
		t.Errorf("expected a 32 character nonce, got %q", nonce)
	}

	presence := decodeFrame[discord.UpdateStatus](t, <-received)
	if presence.Status != "idle" {
		t.Errorf("unexpected presence %+v", presence)
	}

	voice := decodeFrame[map[string]any](t, <-received)
	if channel, ok := voice["channel_id"]; !ok || channel != nil {
		t.Errorf("expected null channel id, got %v", voice)
	}

	members := decodeFrame[discord.RequestGuildMembers](t, <-received)
	if members.Nonce != nonce || members.Query == nil {
		t.Errorf("unexpected guild members request %+v", members)
	}

	conn.Close(discord.CloseNormal)
	waitResult(t, result)
}
