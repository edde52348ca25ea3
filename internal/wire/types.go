// Package wire implements the length-prefixed, versioned, optionally-signed
// message envelope exchanged between witnessd peers, together with the
// binary payload schemas (transactions, blocks, inventory, UTXO, receipts)
// those envelopes carry.
//
// Encoding is RLP (github.com/ethereum/go-ethereum/rlp): deterministic,
// compact, and already part of the dependency graph this node builds on.
// The same logical message always encodes to the same bytes, which is the
// property signing and hashing depend on.
package wire

import "fmt"

// NetworkMagic identifies the witnessd wire protocol on the frame level.
const NetworkMagic uint32 = 0x12882304

// ProtocolVersion is the version this build of the node speaks.
const ProtocolVersion uint16 = 0x0123

// DefaultPort is the default P2P listen port.
const DefaultPort = 8223

// MaxBlockSize bounds a single frame's payload; larger frames are rejected
// at the transport layer before a message is even decoded.
const MaxBlockSize = 1 << 20 // 1 MiB

// ADDRMaxLength bounds the number of PeerInfo entries carried by a single
// MsgAddr; larger address books are split across several MsgAddr frames.
const ADDRMaxLength = 1000

// RejectDuplicate is the MsgReject code sent to a second, colliding inbound
// connection from an address we already hold a live peer for.
const RejectDuplicate uint8 = 1

// Address is a 20-byte account/witness identifier.
type Address [20]byte

func (a Address) String() string { return "Ux" + fmt.Sprintf("%x", a[:]) }

// Hash is a 32-byte cryptographic digest (transaction hash, block hash,
// merkle root, ...).
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// ServiceKind is the recognized half of a Capability pair.
type ServiceKind uint8

const (
	// ServiceNode marks general network participation.
	ServiceNode ServiceKind = iota
	// ServiceWitness marks a block producer; Capability.Data carries the
	// witness's public key.
	ServiceWitness
)

// Capability is an advertised (service kind, opaque data) pair. A peer may
// advertise more than one.
type Capability struct {
	Service ServiceKind
	Data    []byte
}

// PeerInfo is the immutable descriptor exchanged during the handshake and
// gossiped via MsgAddr: a family-agnostic address, a port, and the set of
// capabilities the remote advertises.
type PeerInfo struct {
	Addr         []byte // canonical byte-vector address, see package netaddr
	Port         uint16
	Capabilities []Capability
}

// HasService reports whether info advertises the given service kind.
func (info PeerInfo) HasService(s ServiceKind) bool {
	for _, c := range info.Capabilities {
		if c.Service == s {
			return true
		}
	}
	return false
}

// WitnessKey returns the public key advertised for ServiceWitness, if any.
func (info PeerInfo) WitnessKey() ([]byte, bool) {
	for _, c := range info.Capabilities {
		if c.Service == ServiceWitness {
			return c.Data, true
		}
	}
	return nil, false
}
