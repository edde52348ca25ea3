package wire

// MessageType is the closed tag carried by every envelope. The dispatcher in
// the node package switches on this single enum instead of the open-ended
// isVersion/isTx/... predicate chain an earlier, dynamically-typed
// implementation would use.
type MessageType string

const (
	MsgVersion    MessageType = "version"
	MsgVerAck     MessageType = "verack"
	MsgGetAddr    MessageType = "getaddr"
	MsgAddr       MessageType = "addr"
	MsgReject     MessageType = "reject"
	MsgTx         MessageType = "tx"
	MsgBlock      MessageType = "block"
	MsgInv        MessageType = "inv"
	MsgGetData    MessageType = "getdata"
	MsgGetBlocks  MessageType = "getblocks"
	MsgPing       MessageType = "ping"
	MsgPong       MessageType = "pong"
	MsgWHandshake MessageType = "w_handshake"
	MsgWNextRound MessageType = "w_nextround"
	MsgWExpose    MessageType = "w_expose"
	MsgWBlock     MessageType = "w_block"
	MsgWBlockVote MessageType = "w_block_vote"
)

// signedTypes are message kinds that carry a (signature, publicKey) pair.
// Decoding never verifies the signature; that is node-level policy.
var signedTypes = map[MessageType]bool{
	MsgTx:         true,
	MsgBlock:      true,
	MsgWHandshake: true,
	MsgWNextRound: true,
	MsgWExpose:    true,
	MsgWBlock:     true,
	MsgWBlockVote: true,
}

// IsSigned reports whether t's wire frames carry signature/publicKey.
func (t MessageType) IsSigned() bool { return signedTypes[t] }

// VersionPayload is the MsgVersion payload.
type VersionPayload struct {
	ProtocolVersion uint16
	Nonce           uint64
	Info            PeerInfo
	Timestamp       int64
}

// VerAckPayload is the (empty) MsgVerAck payload.
type VerAckPayload struct{}

// RejectPayload is the MsgReject payload.
type RejectPayload struct {
	Code   uint8
	Reason string
}

// GetAddrPayload is the (empty) MsgGetAddr payload.
type GetAddrPayload struct{}

// AddrPayload carries a page of the sender's address book, capped at
// ADDRMaxLength entries; larger books are split across multiple MsgAddr
// frames by the caller.
type AddrPayload struct {
	Infos []PeerInfo
}

// PingPayload/PongPayload carry a nonce that must be echoed back.
type PingPayload struct{ Nonce uint64 }
type PongPayload struct{ Nonce uint64 }

// InvPayload/GetDataPayload carry announce/request inventory lists.
type InvPayload struct{ Items []InventoryVector }
type GetDataPayload struct{ Items []InventoryVector }

// GetBlocksPayload requests blocks starting after any of LocatorHashes, up to
// HashStop.
type GetBlocksPayload struct {
	LocatorHashes []Hash
	HashStop      Hash
}

// TxPayloadMsg and BlockPayloadMsg wrap a Transaction/Block for the tx/block
// message kinds.
type TxPayloadMsg struct{ Tx Transaction }
type BlockPayloadMsg struct{ Block Block }
