package worker

import (
	"fmt"
	"net"
	"time"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/reliable"
	"github.com/example/raytrace-worker/wire"
)

// handleRecv returns the Callback for endpoint i's recv action: a
// separate closure over i for each endpoint, because §4.6 requires both
// endpoints registered as distinct, independently ordered actions.
func (w *Worker) handleRecv(i int) func() error {
	return func() error {
		buf := make([]byte, 65536)
		addr, data, err := w.endpoints[i].Recv(buf)
		if err != nil {
			return fmt.Errorf("worker: endpoint %d recv: %w", i, err)
		}

		if w.bench != nil {
			w.bench.RecordReceive(len(data))
			return nil
		}

		msg, err := wire.DecodeOne(data)
		if err != nil {
			return fmt.Errorf("worker: decoding datagram from %s: %w", addr, err)
		}
		return w.handleUDPMessage(i, addr, msg)
	}
}

// handleUDPMessage dispatches one decoded UDP frame by opcode. Per §4.4,
// ray traffic (SendRays) is confined to endpoint 0; it is accepted on
// either endpoint here since nothing stops a misbehaving peer from
// sending it elsewhere and the engine itself has no notion of which
// endpoint a ray arrived on.
func (w *Worker) handleUDPMessage(endpointNo int, addr *net.UDPAddr, msg wire.Message) error {
	switch msg.Opcode {
	case wire.OpPing:
		return w.sendUDP(uint8(endpointNo), addr, wire.OpPong, nil)

	case wire.OpPong:
		return nil

	case wire.OpConnectionRequest:
		req := wire.DecodeConnectionRequest(msg.Payload)
		resp, ok := w.registry.HandleConnectionRequest(addr, req)
		if !ok {
			// Deferred until the coordinator announces this peer (§4.3/§7).
			return nil
		}
		return w.sendUDP(resp.AddrNo, resp.ToAddr, wire.OpConnectionResponse, resp.Payload)

	case wire.OpConnectionResponse:
		resp := wire.DecodeConnectionResponse(msg.Payload)
		w.registry.HandleConnectionResponse(resp, time.Now())
		return nil

	case wire.OpSendRays:
		return w.handleSendRays(addr, msg)

	case wire.OpAck:
		reliable.ReceiveAcks(w.seqStates, msg.SenderID, msg.Payload)
		return nil

	default:
		return fmt.Errorf("worker: opcode %s is not valid on the UDP transport: %w", msg.Opcode, wire.ErrUnknownOpcode)
	}
}

// handleSendRays implements the receiver half of §4.4: duplicate
// suppression for reliable packets, then handing every decoded ray into
// rayQueue with its hop counter bumped (§3's "hop — one cross-worker
// forward").
func (w *Worker) handleSendRays(addr *net.UDPAddr, msg wire.Message) error {
	if msg.Reliable {
		isNew := reliable.ReceivePacket(w.seqStates, w.acks, addr, msg.SenderID, msg)
		if !isNew {
			return nil
		}
	}

	for _, ray := range raystate.DecodeBatch(msg.Payload) {
		ray.Hops++
		w.engine.RayQueue.Push(ray)
	}
	return nil
}
