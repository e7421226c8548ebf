package wire

// Flags bits for the UDP message header.
const (
	FlagReliable byte = 1 << 0
)

// Message is one opcode-tagged datagram, per §4.2 and §6.
//
//	senderId:u32 | opcode:u16 | flags:u8 | [seqNo:u64 tracked:u8 attempt:u16]? | payloadLen:u32 | payload
type Message struct {
	SenderID Identifier
	Opcode   Opcode
	Reliable bool

	// Present iff Reliable.
	SeqNo   uint64
	Tracked bool
	Attempt uint16

	Payload []byte
}

// Identifier is a worker or coordinator id. The coordinator is always 0.
type Identifier uint32

// NewReliable builds a reliable message ready for the reliable-UDP
// layer to assign a sequence number to.
func NewReliable(sender Identifier, op Opcode, payload []byte, tracked bool) Message {
	return Message{
		SenderID: sender,
		Opcode:   op,
		Reliable: true,
		Tracked:  tracked,
		Attempt:  1,
		Payload:  payload,
	}
}

// NewUnreliable builds a fire-and-forget service message (handshake,
// keep-alive, ack batch).
func NewUnreliable(sender Identifier, op Opcode, payload []byte) Message {
	return Message{
		SenderID: sender,
		Opcode:   op,
		Payload:  payload,
	}
}
