// Package codec turns raw gateway frames into payloads and back.
//
// A Codec holds the decompression context of a single socket. Compression
// streams cannot be resumed on a new socket, so a Codec must be created for
// every connection and closed with it.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/WelcomerTeam/Tether/discord"
	"github.com/WelcomerTeam/Tether/tetherjson"
	"github.com/WelcomerTeam/czlib"
	"github.com/klauspost/compress/zlib"
	"nhooyr.io/websocket"
)

// Compression is the transport compression negotiated in the gateway URL.
type Compression string

const (
	CompressionNone       Compression = ""
	CompressionZlibStream Compression = "zlib-stream"
)

// zlibSuffix is the sync flush marker ending every complete zlib-stream frame.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

var (
	ErrCodecClosed      = errors.New("codec closed")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Codec decodes inbound frames and encodes outbound control frames.
type Codec struct {
	compression Compression

	mu     sync.Mutex
	buffer bytes.Buffer
	stream *inflateStream
	closed bool
}

// New creates a codec for one connection.
func New(compression Compression) *Codec {
	return &Codec{
		compression: compression,
	}
}

// Compression returns the transport compression the codec expects.
func (c *Codec) Compression() Compression {
	return c.compression
}

// Decode decodes a single websocket message. A nil payload without an error
// means the frame was partial and has been buffered until the rest arrives.
func (c *Codec) Decode(messageType websocket.MessageType, data []byte) (*discord.GatewayPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCodecClosed
	}

	switch messageType {
	case websocket.MessageText:
		return unmarshalPayload(data)
	case websocket.MessageBinary:
		if c.compression == CompressionZlibStream {
			return c.decodeStream(data)
		}

		inflated, err := czlib.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}

		return unmarshalPayload(inflated)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, messageType)
	}
}

func (c *Codec) decodeStream(data []byte) (*discord.GatewayPayload, error) {
	c.buffer.Write(data)

	if len(data) < len(zlibSuffix) || !bytes.Equal(data[len(data)-len(zlibSuffix):], zlibSuffix) {
		return nil, nil
	}

	if c.stream == nil {
		c.stream = newInflateStream()
	}

	frame := c.buffer.Bytes()
	defer c.buffer.Reset()

	return c.stream.decode(frame)
}

// Encode encodes an outbound control frame.
func (c *Codec) Encode(op discord.GatewayOp, data any) ([]byte, error) {
	payload, err := tetherjson.Marshal(discord.SentPayload{
		Op:   op,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return payload, nil
}

// Close releases the decompression context. Decoding after Close fails.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.buffer.Reset()

	if c.stream != nil {
		c.stream.close()
		c.stream = nil
	}

	return nil
}

func unmarshalPayload(data []byte) (*discord.GatewayPayload, error) {
	payload := &discord.GatewayPayload{}

	err := tetherjson.Unmarshal(data, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w (payload: %s)", err, data)
	}

	return payload, nil
}

type inflateResult struct {
	payload *discord.GatewayPayload
	err     error
}

// inflateStream keeps one inflater alive for the lifetime of a connection.
// Frames are written into a pipe rather than a buffer because the inflater
// treats a drained reader as a truncated stream, while a pipe simply blocks
// until the next frame arrives.
type inflateStream struct {
	writer *io.PipeWriter
	out    chan inflateResult
	done   chan struct{}
	once   sync.Once
}

func newInflateStream() *inflateStream {
	reader, writer := io.Pipe()

	stream := &inflateStream{
		writer: writer,
		out:    make(chan inflateResult, 1),
		done:   make(chan struct{}),
	}

	go stream.run(reader)

	return stream
}

func (s *inflateStream) run(reader *io.PipeReader) {
	defer close(s.out)

	inflater, err := zlib.NewReader(reader)
	if err != nil {
		_ = reader.CloseWithError(err)
		s.send(inflateResult{err: fmt.Errorf("failed to create inflater: %w", err)})

		return
	}
	defer inflater.Close()

	decoder := tetherjson.NewDecoder(inflater)

	for {
		payload := &discord.GatewayPayload{}

		err = decoder.Decode(payload)
		if err != nil {
			_ = reader.CloseWithError(err)
			s.send(inflateResult{err: fmt.Errorf("failed to decode inflated payload: %w", err)})

			return
		}

		if !s.send(inflateResult{payload: payload}) {
			return
		}
	}
}

func (s *inflateStream) send(result inflateResult) bool {
	select {
	case s.out <- result:
		return true
	case <-s.done:
		return false
	}
}

func (s *inflateStream) decode(frame []byte) (*discord.GatewayPayload, error) {
	// The reader may consume the whole frame before it has produced the
	// payload, so always wait on the result rather than the write alone.
	_, writeErr := s.writer.Write(frame)

	result, ok := <-s.out
	if !ok {
		if writeErr != nil {
			return nil, fmt.Errorf("failed to inflate frame: %w", writeErr)
		}

		return nil, ErrCodecClosed
	}

	return result.payload, result.err
}

func (s *inflateStream) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.writer.Close()
	})
}
