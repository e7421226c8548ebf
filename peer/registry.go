package peer

import (
	"net"
	"time"

	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/treelet"
	"github.com/example/raytrace-worker/wire"
)

// OutboundRequest is a ConnectionRequest ready to hand to the paced
// endpoint identified by AddrNo (§4.3: one request per address).
type OutboundRequest struct {
	Peer    *Peer
	AddrNo  uint8
	ToAddr  *net.UDPAddr
	Payload []byte
}

// OutboundResponse is a ConnectionResponse ready to send back to the
// requester on the address it used.
type OutboundResponse struct {
	ToAddr  *net.UDPAddr
	AddrNo  uint8
	Payload []byte
}

type deferredRequest struct {
	from *net.UDPAddr
	req  wire.ConnectionRequest
}

// Registry tracks known peers and drives the two-address handshake.
//
// Fidelity note: the responder only learns the requester's belief of our
// seed by *receiving a ConnectionResponse*, never from a ConnectionRequest
// directly — matching original_source/src/cloud/lambda-worker.cpp, whose
// ConnectionRequest handler never writes peer.seed. This is what makes the
// handshake take a couple of round trips to converge, per §8 scenario 1.
type Registry struct {
	selfID wire.Identifier
	mySeed uint32

	peers map[wire.Identifier]*Peer

	index   *treelet.Index
	pending *rayqueue.ByTreelet
	out     *rayqueue.ByTreelet

	myTreelets map[raystate.TreeletID]struct{}

	keepAliveInterval time.Duration

	deferred []deferredRequest
}

// NewRegistry constructs a registry for a worker identified by selfID,
// with per-session nonce mySeed.
func NewRegistry(selfID wire.Identifier, mySeed uint32, index *treelet.Index, pending, out *rayqueue.ByTreelet, keepAliveInterval time.Duration) *Registry {
	return &Registry{
		selfID:            selfID,
		mySeed:            mySeed,
		peers:             make(map[wire.Identifier]*Peer),
		index:             index,
		pending:           pending,
		out:               out,
		myTreelets:        make(map[raystate.TreeletID]struct{}),
		keepAliveInterval: keepAliveInterval,
	}
}

// SetLocalTreelets records which treelets this worker holds, advertised
// in every ConnectionResponse we send.
func (r *Registry) SetLocalTreelets(treelets []raystate.TreeletID) {
	r.myTreelets = make(map[raystate.TreeletID]struct{}, len(treelets))
	for _, t := range treelets {
		r.myTreelets[t] = struct{}{}
	}
}

func (r *Registry) localTreeletList() []raystate.TreeletID {
	out := make([]raystate.TreeletID, 0, len(r.myTreelets))
	for t := range r.myTreelets {
		out = append(out, t)
	}
	return out
}

// Peer returns the registry's record for id, if known.
func (r *Registry) Peer(id wire.Identifier) (*Peer, bool) {
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns every known peer.
func (r *Registry) Peers() []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Announce records a peer learned from the coordinator's ConnectTo /
// MultipleConnect (§4.3) and replays any ConnectionRequest that had been
// deferred pending this announcement.
func (r *Registry) Announce(id wire.Identifier, addr0, addr1 *net.UDPAddr) (*Peer, []OutboundResponse) {
	p, ok := r.peers[id]
	if !ok {
		p = New(id, addr0, addr1, 0)
		r.peers[id] = p
	} else {
		p.Addresses[0], p.Addresses[1] = addr0, addr1
	}

	var responses []OutboundResponse
	remaining := r.deferred[:0]
	for _, d := range r.deferred {
		if d.req.MyID == id {
			if resp, ok := r.respondTo(d.from, d.req); ok {
				responses = append(responses, resp)
			}
		} else {
			remaining = append(remaining, d)
		}
	}
	r.deferred = remaining

	return p, responses
}

// BuildRequests returns the two ConnectionRequest datagrams every
// Connecting peer should (re)send on this peer tick (§4.3).
func (r *Registry) BuildRequests() []OutboundRequest {
	var out []OutboundRequest
	for _, p := range r.peers {
		if p.State != Connecting {
			continue
		}
		for addrNo := uint8(0); addrNo < 2; addrNo++ {
			if p.Addresses[addrNo] == nil {
				continue
			}
			req := wire.ConnectionRequest{
				MyID:      r.selfID,
				MySeed:    r.mySeed,
				YourSeed:  p.Seed,
				AddressNo: addrNo,
			}
			out = append(out, OutboundRequest{
				Peer:    p,
				AddrNo:  addrNo,
				ToAddr:  p.Addresses[addrNo],
				Payload: req.Encode(),
			})
		}
	}
	return out
}

// HandleConnectionRequest processes an inbound ConnectionRequest. If the
// sender is unknown, the request is deferred until the coordinator
// announces it (§4.3/§7) and ok is false.
func (r *Registry) HandleConnectionRequest(from *net.UDPAddr, req wire.ConnectionRequest) (OutboundResponse, bool) {
	if _, known := r.peers[req.MyID]; !known {
		r.deferred = append(r.deferred, deferredRequest{from: from, req: req})
		return OutboundResponse{}, false
	}
	return r.respondTo(from, req)
}

func (r *Registry) respondTo(from *net.UDPAddr, req wire.ConnectionRequest) (OutboundResponse, bool) {
	peer, ok := r.peers[req.MyID]
	if !ok {
		return OutboundResponse{}, false
	}

	resp := wire.ConnectionResponse{
		ResponderID: r.selfID,
		Seed:        r.mySeed,
		YourSeed:    peer.Seed,
		AddressNo:   req.AddressNo,
		TreeletIDs:  treeletIDsToUint32(r.localTreeletList()),
	}
	toAddr := peer.Addresses[req.AddressNo]
	if toAddr == nil {
		toAddr = from
	}
	return OutboundResponse{ToAddr: toAddr, AddrNo: req.AddressNo, Payload: resp.Encode()}, true
}

// HandleConnectionResponse processes an inbound ConnectionResponse. It
// returns true iff the peer just transitioned to Connected on this call.
func (r *Registry) HandleConnectionResponse(resp wire.ConnectionResponse, now time.Time) bool {
	peer, ok := r.peers[resp.ResponderID]
	if !ok {
		return false
	}

	peer.Seed = resp.Seed

	if peer.State == Connected {
		return false
	}

	if resp.YourSeed != r.mySeed {
		// Stale response from a previous session, or not yet converged.
		return false
	}

	peer.AddressConnected[resp.AddressNo] = true
	if !peer.bothConnected() {
		return false
	}

	peer.State = Connected
	peer.NextKeepAlive = now.Add(r.keepAliveInterval)

	r.foldTreelets(peer, resp.TreeletIDs)
	return true
}

// foldTreelets implements §4.3's post-connect fold: treelets are added to
// the index and removed from needed/requested, and any pendingQueue[t]
// for those treelets drains into outQueue[t].
func (r *Registry) foldTreelets(peer *Peer, treeletIDs []uint32) {
	treelets := make([]raystate.TreeletID, len(treeletIDs))
	for i, t := range treeletIDs {
		treelets[i] = raystate.TreeletID(t)
	}

	peer.AddTreelets(treelets)
	for _, t := range treelets {
		r.index.AddHolder(t, peer.ID)
		drained := r.pending.PopAll(t)
		for _, ray := range drained {
			r.out.Push(t, ray)
		}
	}
}

func treeletIDsToUint32(in []raystate.TreeletID) []uint32 {
	out := make([]uint32, len(in))
	for i, t := range in {
		out[i] = uint32(t)
	}
	return out
}

// DueKeepAlives returns connected peers whose keep-alive deadline has
// passed, advancing each returned peer's deadline (§4.3).
func (r *Registry) DueKeepAlives(now time.Time) []*Peer {
	var due []*Peer
	for _, p := range r.peers {
		if p.State == Connected && !p.NextKeepAlive.After(now) {
			p.NextKeepAlive = now.Add(r.keepAliveInterval)
			due = append(due, p)
		}
	}
	return due
}
