package control

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/example/raytrace-worker/wire"
)

// DialTimeout bounds how long Dial waits for the coordinator TCP
// connection, mirroring the teacher's RPC_TIMEOUT idiom for bounding a
// blocking network call.
const DialTimeout = 5 * time.Second

// Conn is the worker's TCP control channel to the coordinator. It reuses
// the same opcode-tagged wire.Message framing as the UDP transport
// (§4.2), just carried over a TCP stream via wire.Parser instead of
// packed into individual datagrams. Every Message's Payload is itself a
// gob-encoded Go value, the concrete type depending on its Opcode.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	parser wire.Parser
	self   wire.Identifier

	// queued holds frames decoded from a read that yielded more than one
	// complete message at once, until Receive's caller consumes them.
	queued []wire.Message
}

// Dial opens the control channel to addr, bounded by DialTimeout.
func Dial(addr string) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("control: dialing coordinator: %w", err)
	}
	return &Conn{
		conn:   c,
		reader: bufio.NewReader(c),
	}, nil
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RawConn exposes the underlying net.Conn, e.g. for registration with
// the event loop's poller (the fd it multiplexes on). Only Hey's
// blocking handshake read bypasses the loop; every later Receive runs
// from a poll-triggered callback via ReadAvailable.
func (c *Conn) RawConn() net.Conn { return c.conn }

// SetSelf records the worker's own identifier, used as the SenderID on
// every outgoing Message once the coordinator has assigned one via Hey.
func (c *Conn) SetSelf(id wire.Identifier) { c.self = id }

// Send gob-encodes payload and writes it as one unreliable wire.Message
// frame tagged with op.
func (c *Conn) Send(op wire.Opcode, payload any) error {
	w := &byteSliceWriter{}
	if err := gob.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("control: encoding %s payload: %w", op, err)
	}
	msg := wire.NewUnreliable(c.self, op, w.data)
	if _, err := c.conn.Write(wire.Encode(msg)); err != nil {
		return fmt.Errorf("control: writing %s frame: %w", op, err)
	}
	return nil
}

// Receive blocks until one full frame has arrived and returns its
// opcode and raw gob-encoded payload; the caller decodes into the type
// it expects for that opcode via DecodePayload.
func (c *Conn) Receive() (wire.Opcode, []byte, error) {
	if len(c.queued) > 0 {
		msg := c.queued[0]
		c.queued = c.queued[1:]
		return msg.Opcode, msg.Payload, nil
	}

	for {
		chunk := make([]byte, 4096)
		n, err := c.reader.Read(chunk)
		if n == 0 && err != nil {
			return 0, nil, fmt.Errorf("control: reading from coordinator: %w", err)
		}

		msgs, err := c.parser.Feed(chunk[:n])
		if err != nil {
			return 0, nil, fmt.Errorf("control: decoding frame: %w", err)
		}
		if len(msgs) > 0 {
			c.queued = msgs[1:]
			return msgs[0].Opcode, msgs[0].Payload, nil
		}
	}
}

// ReadAvailable does one non-blocking-safe read from the coordinator
// connection and returns every complete frame it produced, without
// Receive's blocking retry loop. It is the event-loop-friendly half of
// Receive: call it only from a callback after the control fd has been
// reported readable, so the single c.reader.Read below cannot stall the
// cooperative scheduler (§4.6's "no I/O without the fd ready" rule).
func (c *Conn) ReadAvailable() ([]wire.Message, error) {
	if len(c.queued) > 0 {
		msgs := c.queued
		c.queued = nil
		return msgs, nil
	}

	chunk := make([]byte, 4096)
	n, err := c.reader.Read(chunk)
	if n == 0 && err != nil {
		return nil, fmt.Errorf("control: reading from coordinator: %w", err)
	}

	msgs, err := c.parser.Feed(chunk[:n])
	if err != nil {
		return nil, fmt.Errorf("control: decoding frame: %w", err)
	}
	return msgs, nil
}

// DecodePayload gob-decodes raw into dst, the concrete type the caller
// expects for the opcode it was received under.
func DecodePayload(raw []byte, dst any) error {
	return gob.NewDecoder(&byteSliceReader{data: raw}).Decode(dst)
}

// Hey performs the startup handshake: send Hey with the worker's log
// stream name, then block for the coordinator's HeyResponse. This is the
// one place the control channel blocks the caller, matching §4.9's
// "first message sent is Hey ... coordinator replies with Hey" sequencing.
func (c *Conn) Hey(logStreamName string) (HeyResponse, error) {
	if err := c.Send(wire.OpHey, HeyRequest{LogStreamName: logStreamName}); err != nil {
		return HeyResponse{}, err
	}
	op, raw, err := c.Receive()
	if err != nil {
		return HeyResponse{}, fmt.Errorf("control: waiting for Hey response: %w", err)
	}
	if op != wire.OpHey {
		return HeyResponse{}, fmt.Errorf("control: expected Hey response, got %s", op)
	}
	var resp HeyResponse
	if err := DecodePayload(raw, &resp); err != nil {
		return HeyResponse{}, err
	}
	c.SetSelf(resp.WorkerID)
	slog.Info("registered with coordinator", "worker_id", resp.WorkerID, "job_id", resp.JobID)
	return resp, nil
}

// byteSliceWriter/byteSliceReader let gob encode/decode against a plain
// []byte without pulling in bytes.Buffer's extra surface.
type byteSliceWriter struct{ data []byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

type byteSliceReader struct {
	data []byte
	pos  int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("control: read past end of payload")
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
