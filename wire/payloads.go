package wire

import "encoding/binary"

// AckEntry is one (seqNo, tracked, attempt) tuple acknowledging a reliable
// packet, per §4.4/§6. Entries are packed big-endian, 11 bytes each, into
// an Ack payload up to MTU size.
type AckEntry struct {
	SeqNo   uint64
	Tracked bool
	Attempt uint16
}

const ackEntryLen = 8 + 1 + 2

// EncodeAckEntries packs entries into one or more MTU-bounded Ack
// payloads (§4.4: "packed into Ack messages up to MTU-sized chunks").
func EncodeAckEntries(entries []AckEntry, mtu int) [][]byte {
	maxHeaderRoom := MaxReliablePayload(mtu) // ack is unreliable, but be conservative
	perPacket := maxHeaderRoom / ackEntryLen
	if perPacket <= 0 {
		perPacket = 1
	}

	var chunks [][]byte
	for i := 0; i < len(entries); i += perPacket {
		end := i + perPacket
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[i:end]
		buf := make([]byte, len(chunk)*ackEntryLen)
		for j, e := range chunk {
			off := j * ackEntryLen
			binary.BigEndian.PutUint64(buf[off:], e.SeqNo)
			if e.Tracked {
				buf[off+8] = 1
			}
			binary.BigEndian.PutUint16(buf[off+9:], e.Attempt)
		}
		chunks = append(chunks, buf)
	}
	return chunks
}

// DecodeAckEntries unpacks an Ack payload into its tuples.
func DecodeAckEntries(payload []byte) []AckEntry {
	n := len(payload) / ackEntryLen
	entries := make([]AckEntry, 0, n)
	for i := 0; i < n; i++ {
		off := i * ackEntryLen
		entries = append(entries, AckEntry{
			SeqNo:   binary.BigEndian.Uint64(payload[off:]),
			Tracked: payload[off+8] != 0,
			Attempt: binary.BigEndian.Uint16(payload[off+9:]),
		})
	}
	return entries
}

// ConnectionRequest is the handshake datagram described in §4.3:
// {my-id, my-seed, your-seed, address-no}.
type ConnectionRequest struct {
	MyID      Identifier
	MySeed    uint32
	YourSeed  uint32
	AddressNo uint8
}

func (c ConnectionRequest) Encode() []byte {
	buf := make([]byte, 4+4+4+1)
	binary.BigEndian.PutUint32(buf[0:], uint32(c.MyID))
	binary.BigEndian.PutUint32(buf[4:], c.MySeed)
	binary.BigEndian.PutUint32(buf[8:], c.YourSeed)
	buf[12] = c.AddressNo
	return buf
}

func DecodeConnectionRequest(b []byte) ConnectionRequest {
	return ConnectionRequest{
		MyID:      Identifier(binary.BigEndian.Uint32(b[0:])),
		MySeed:    binary.BigEndian.Uint32(b[4:]),
		YourSeed:  binary.BigEndian.Uint32(b[8:]),
		AddressNo: b[12],
	}
}

// ConnectionResponse carries the responder's seed, its belief of the
// requester's seed (your-seed, checked against the local seed to reject
// stale responses), which address it answered from, and the responder's
// held treelets, sent in every response (§4.3).
type ConnectionResponse struct {
	ResponderID Identifier
	Seed        uint32
	YourSeed    uint32
	AddressNo   uint8
	TreeletIDs  []uint32
}

func (c ConnectionResponse) Encode() []byte {
	buf := make([]byte, 4+4+4+1+2+4*len(c.TreeletIDs))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], uint32(c.ResponderID))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], c.Seed)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], c.YourSeed)
	off += 4
	buf[off] = c.AddressNo
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(c.TreeletIDs)))
	off += 2
	for _, t := range c.TreeletIDs {
		binary.BigEndian.PutUint32(buf[off:], t)
		off += 4
	}
	return buf
}

func DecodeConnectionResponse(b []byte) ConnectionResponse {
	off := 0
	resp := ConnectionResponse{}
	resp.ResponderID = Identifier(binary.BigEndian.Uint32(b[off:]))
	off += 4
	resp.Seed = binary.BigEndian.Uint32(b[off:])
	off += 4
	resp.YourSeed = binary.BigEndian.Uint32(b[off:])
	off += 4
	resp.AddressNo = b[off]
	off++
	n := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if n > 0 {
		resp.TreeletIDs = make([]uint32, n)
		for i := 0; i < n; i++ {
			resp.TreeletIDs[i] = binary.BigEndian.Uint32(b[off:])
			off += 4
		}
	}
	return resp
}
