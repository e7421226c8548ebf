// Package benchmark implements §4.8: a raw UDP traffic generator that
// takes over both endpoints to measure achievable throughput/loss
// between this worker and one peer, independent of the ray-tracing
// pipeline.
package benchmark

import (
	"net"
	"time"

	"github.com/example/raytrace-worker/transport"
)

// pingPayloadSize matches the original 1300-byte filler payload: large
// enough to approximate a real ray packet, small enough to stay under
// the UDP MTU once framed.
const pingPayloadSize = 1300

// Checkpoint is one second's worth of accumulated traffic counters.
type Checkpoint struct {
	Timestamp       time.Time
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
}

func (c *Checkpoint) merge(into *Checkpoint) {
	into.BytesSent += c.BytesSent
	into.BytesReceived += c.BytesReceived
	into.PacketsSent += c.PacketsSent
	into.PacketsReceived += c.PacketsReceived
}

// Result is a Generator's terminal state: every checkpoint taken plus the
// running total, available once Done reports true.
type Result struct {
	Checkpoints []Checkpoint
	Total       Checkpoint
	Start       time.Time
	End         time.Time
}

// Generator drives StartBenchmark (§4.8): it sends a steady stream of
// filler Ping packets on one endpoint toward a destination and counts
// bytes/packets both sent and received, checkpointing every second for
// the configured duration. It stops no other event-loop action itself;
// the worker's ray-processing actions stand down while one is active,
// so the benchmark measures raw pacing and network behavior rather than
// steady-state ray throughput.
type Generator struct {
	send *transport.Endpoint
	recv *transport.Endpoint
	dest *net.UDPAddr

	duration time.Duration

	start      time.Time
	lastCheck  time.Time
	checkpoint Checkpoint
	result     Result

	done bool
}

// NewGenerator configures a Generator to send on send toward dest and
// count inbound traffic on recv (recv may be the same Endpoint as send,
// or the worker's other UDP interface, per the addressNo selection in
// StartBenchmark).
func NewGenerator(send, recv *transport.Endpoint, dest *net.UDPAddr, duration time.Duration, rateMbps float64) *Generator {
	if rateMbps > 0 {
		recv.SetRate(rateMbps)
	}
	return &Generator{
		send:     send,
		recv:     recv,
		dest:     dest,
		duration: duration,
	}
}

// Start records the benchmark's start time. Call once before the event
// loop begins driving SendTick/RecordReceive/CheckpointTick.
func (g *Generator) Start(now time.Time) {
	g.start = now
	g.lastCheck = now
	g.checkpoint.Timestamp = now
}

// ReadyToSend reports whether the send endpoint's pacing admits another
// Ping right now — the Guard for the event loop's send action.
func (g *Generator) ReadyToSend() bool {
	return !g.done && g.send.WithinPace()
}

// SendTick sends one filler Ping packet and records it in the current
// checkpoint.
func (g *Generator) SendTick() error {
	payload := make([]byte, pingPayloadSize)
	for i := range payload {
		payload[i] = 'x'
	}
	if err := g.send.Send(g.dest, payload); err != nil {
		return err
	}
	g.send.RecordSend(len(payload))
	g.checkpoint.BytesSent += uint64(len(payload))
	g.checkpoint.PacketsSent++
	return nil
}

// RecordReceive is called with the size of every datagram the receive
// endpoint picks up during the benchmark.
func (g *Generator) RecordReceive(n int) {
	g.checkpoint.BytesReceived += uint64(n)
	g.checkpoint.PacketsReceived++
}

// CheckpointDue reports whether a full second has elapsed since the
// last checkpoint.
func (g *Generator) CheckpointDue(now time.Time) bool {
	return now.Sub(g.lastCheck) >= time.Second
}

// CheckpointTick closes out the current one-second checkpoint and opens
// a new one.
func (g *Generator) CheckpointTick(now time.Time) {
	g.checkpoint.Timestamp = now
	g.result.Checkpoints = append(g.result.Checkpoints, g.checkpoint)
	g.checkpoint.merge(&g.result.Total)
	g.checkpoint = Checkpoint{}
	g.lastCheck = now
}

// Expired reports whether the configured duration has elapsed; once
// true the event loop should stop driving sends/receives and call
// Finish.
func (g *Generator) Expired(now time.Time) bool {
	return now.Sub(g.start) >= g.duration
}

// Finish closes out the benchmark and returns its Result. Safe to call
// once, at the moment Expired first reports true.
func (g *Generator) Finish(now time.Time) Result {
	g.done = true
	g.result.Start = g.start
	g.result.End = now
	return g.result
}
