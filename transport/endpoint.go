// Package transport implements the paced UDP endpoint of §4.1: a socket
// bundled with a token-bucket rate limiter and byte counters.
package transport

import (
	"fmt"
	"net"
)

// Endpoint wraps one UDP socket with pacing and byte accounting. A worker
// owns two of these, bound to two distinct local addresses (§4.1
// rationale: doubling egress bandwidth across source IPs, and keeping the
// handshake able to probe both paths).
type Endpoint struct {
	conn *net.UDPConn
	addr *net.UDPAddr

	bucket *tokenBucket

	bytesSent     uint64
	bytesReceived uint64
	packetsSent   uint64
	packetsRecv   uint64
}

// Listen opens a UDP socket bound to laddr, paced at rateMbps megabits/sec.
func Listen(laddr string, rateMbps float64) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", laddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", laddr, err)
	}
	return &Endpoint{
		conn:   conn,
		addr:   conn.LocalAddr().(*net.UDPAddr),
		bucket: newTokenBucket(rateMbps),
	}, nil
}

// LocalAddr returns the endpoint's bound address.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.addr }

// Conn exposes the underlying socket, e.g. for registration with the
// event loop's poller (the fd it multiplexes on).
func (e *Endpoint) Conn() *net.UDPConn { return e.conn }

// WithinPace reports whether the token bucket currently admits a send.
func (e *Endpoint) WithinPace() bool { return e.bucket.withinPace() }

// MicrosAheadOfPace returns how long, in microseconds, the caller must
// wait before WithinPace will be true again. Negative means "ready now".
func (e *Endpoint) MicrosAheadOfPace() int64 { return e.bucket.microsAheadOfPace() }

// SetRate reconfigures the pacing rate in Mb/s (used by benchmark mode to
// override the receiving endpoint's rate, §4.8).
func (e *Endpoint) SetRate(mbps float64) { e.bucket.setRate(mbps) }

// RecordSend debits the pacing bucket and bumps counters. Call this after
// a send actually reaches the wire.
func (e *Endpoint) RecordSend(nbytes int) {
	e.bucket.recordSend(nbytes)
	e.bytesSent += uint64(nbytes)
	e.packetsSent++
}

// Send writes bytes to addr unconditionally. Callers are expected to have
// checked WithinPace first; Send does not itself enforce pacing so that
// unpaced service sends (which still call RecordSend) remain possible if
// a caller chooses to bypass pacing deliberately.
func (e *Endpoint) Send(addr *net.UDPAddr, b []byte) error {
	_, err := e.conn.WriteToUDP(b, addr)
	return err
}

// Recv reads one datagram. It is called from the event loop only after
// the underlying fd has reported readable.
func (e *Endpoint) Recv(buf []byte) (*net.UDPAddr, []byte, error) {
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	e.bytesReceived += uint64(n)
	e.packetsRecv++
	return addr, buf[:n], nil
}

// BytesSent returns the cumulative number of bytes sent on this endpoint.
func (e *Endpoint) BytesSent() uint64 { return e.bytesSent }

// BytesReceived returns the cumulative number of bytes received on this
// endpoint.
func (e *Endpoint) BytesReceived() uint64 { return e.bytesReceived }

// PacketsSent returns the cumulative number of datagrams sent.
func (e *Endpoint) PacketsSent() uint64 { return e.packetsSent }

// PacketsReceived returns the cumulative number of datagrams received.
func (e *Endpoint) PacketsReceived() uint64 { return e.packetsRecv }

// Close releases the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }
