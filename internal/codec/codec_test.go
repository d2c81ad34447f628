package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/klauspost/compress/zlib"
	"nhooyr.io/websocket"
)

func TestDecodeText(t *testing.T) {
	c := New(CompressionNone)
	defer c.Close()

	payload, err := c.Decode(websocket.MessageText, []byte(`{"op":0,"t":"MESSAGE_CREATE","s":42,"d":{"id":"1"}}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if payload.Op != discord.GatewayOpDispatch {
		t.Errorf("Expected op %d, but got %d", discord.GatewayOpDispatch, payload.Op)
	}

	if payload.Type != "MESSAGE_CREATE" {
		t.Errorf("Expected type MESSAGE_CREATE, but got %s", payload.Type)
	}

	if payload.Sequence == nil || *payload.Sequence != 42 {
		t.Errorf("Expected sequence 42, but got %v", payload.Sequence)
	}

	if string(payload.Data) != `{"id":"1"}` {
		t.Errorf("Expected data {\"id\":\"1\"}, but got %s", payload.Data)
	}
}

func TestDecodeTextWithoutSequence(t *testing.T) {
	c := New(CompressionNone)
	defer c.Close()

	payload, err := c.Decode(websocket.MessageText, []byte(`{"op":11,"d":null}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if payload.Sequence != nil {
		t.Errorf("Expected nil sequence, but got %d", *payload.Sequence)
	}
}

func TestDecodePayloadCompressed(t *testing.T) {
	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"op":10,"d":{"heartbeat_interval":41250}}`))
	_ = zw.Close()

	c := New(CompressionNone)
	defer c.Close()

	payload, err := c.Decode(websocket.MessageBinary, buf.Bytes())
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if payload.Op != discord.GatewayOpHello {
		t.Errorf("Expected op %d, but got %d", discord.GatewayOpHello, payload.Op)
	}
}

// streamFrames compresses each message on one shared zlib stream, flushing
// after every message the same way the gateway does.
func streamFrames(t *testing.T, messages ...string) [][]byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)
	frames := make([][]byte, 0, len(messages))

	for _, message := range messages {
		if _, err := zw.Write([]byte(message)); err != nil {
			t.Fatalf("failed to compress: %v", err)
		}

		if err := zw.Flush(); err != nil {
			t.Fatalf("failed to flush: %v", err)
		}

		frame := make([]byte, buf.Len())
		copy(frame, buf.Bytes())
		buf.Reset()

		frames = append(frames, frame)
	}

	return frames
}

func TestDecodeZlibStream(t *testing.T) {
	frames := streamFrames(t,
		`{"op":10,"d":{"heartbeat_interval":41250}}`,
		`{"op":11,"d":null}`,
		`{"op":0,"t":"READY","s":1,"d":{"session_id":"abc"}}`,
	)

	c := New(CompressionZlibStream)
	defer c.Close()

	expected := []discord.GatewayOp{discord.GatewayOpHello, discord.GatewayOpHeartbeatACK, discord.GatewayOpDispatch}

	for i, frame := range frames {
		if !bytes.HasSuffix(frame, zlibSuffix) {
			t.Fatalf("frame %d does not end with the sync marker", i)
		}

		payload, err := c.Decode(websocket.MessageBinary, frame)
		if err != nil {
			t.Fatalf("frame %d: Decode returned error: %v", i, err)
		}

		if payload == nil {
			t.Fatalf("frame %d: expected payload, got partial", i)
		}

		if payload.Op != expected[i] {
			t.Errorf("frame %d: expected op %d, but got %d", i, expected[i], payload.Op)
		}
	}
}

func TestDecodeZlibStreamPartial(t *testing.T) {
	frames := streamFrames(t, `{"op":0,"t":"GUILD_CREATE","s":7,"d":{"id":"123456789012345678","name":"a fairly long guild name"}}`)
	frame := frames[0]

	c := New(CompressionZlibStream)
	defer c.Close()

	split := len(frame) / 2

	payload, err := c.Decode(websocket.MessageBinary, frame[:split])
	if err != nil {
		t.Fatalf("Decode returned error on partial frame: %v", err)
	}

	if payload != nil {
		t.Fatalf("Expected nil payload for partial frame, but got %+v", payload)
	}

	payload, err = c.Decode(websocket.MessageBinary, frame[split:])
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if payload == nil || payload.Type != "GUILD_CREATE" {
		t.Fatalf("Expected GUILD_CREATE payload, but got %+v", payload)
	}
}

func TestDecodeAfterClose(t *testing.T) {
	c := New(CompressionZlibStream)
	_ = c.Close()

	_, err := c.Decode(websocket.MessageText, []byte(`{"op":11}`))
	if !errors.Is(err, ErrCodecClosed) {
		t.Errorf("Expected ErrCodecClosed, but got %v", err)
	}
}

func TestEncode(t *testing.T) {
	c := New(CompressionNone)
	defer c.Close()

	data, err := c.Encode(discord.GatewayOpHeartbeat, int64(5))
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	if string(data) != `{"d":5,"op":1}` {
		t.Errorf("Expected {\"d\":5,\"op\":1}, but got %s", data)
	}
}
