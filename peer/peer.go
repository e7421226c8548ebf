// Package peer tracks known peers and runs the two-address symmetric
// connection handshake of §4.3.
package peer

import (
	"net"
	"time"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/wire"
)

// State is where a Peer sits in the handshake (§3).
type State int

const (
	Connecting State = iota
	Connected
)

// Peer is the record for a remote worker (§3).
type Peer struct {
	ID wire.Identifier

	// Addresses[0]/Addresses[1] are the two UDP addresses the peer
	// advertised (§4.3).
	Addresses [2]*net.UDPAddr

	// AddressConnected[i] is true once a ConnectionResponse with a
	// matching seed has been received for Addresses[i].
	AddressConnected [2]bool

	Seed     uint32
	State    State
	Treelets map[raystate.TreeletID]struct{}

	NextKeepAlive time.Time
}

// New creates a Connecting peer with the given id, addresses, and local
// seed (used to validate the responder's your-seed echo).
func New(id wire.Identifier, addr0, addr1 *net.UDPAddr, seed uint32) *Peer {
	return &Peer{
		ID:        id,
		Addresses: [2]*net.UDPAddr{addr0, addr1},
		Seed:      seed,
		State:     Connecting,
		Treelets:  make(map[raystate.TreeletID]struct{}),
	}
}

// bothConnected reports whether both addresses have completed the handshake.
func (p *Peer) bothConnected() bool {
	return p.AddressConnected[0] && p.AddressConnected[1]
}

// HoldsTreelet reports whether the peer has advertised treelet t.
func (p *Peer) HoldsTreelet(t raystate.TreeletID) bool {
	_, ok := p.Treelets[t]
	return ok
}

// AddTreelets folds the peer's advertised treelet set in (§4.3: "the
// peer's advertised treelets are folded into the treelet index").
func (p *Peer) AddTreelets(treelets []raystate.TreeletID) {
	for _, t := range treelets {
		p.Treelets[t] = struct{}{}
	}
}
