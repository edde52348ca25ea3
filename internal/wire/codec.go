package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
)

// Errors surfaced by the codec. ErrDecodeFailure from DecodePayload costs
// the sending peer one misbehavior point in the node's handlers (a
// malformed MsgReject is only dropped), and the message is dropped. Any error from ReadMessage, ErrUnknownMessageType and
// ErrOversizedFrame included, makes the peer's reader close the connection;
// the frame is not skipped.
var (
	ErrUnknownMessageType = errors.New("wire: unknown message type")
	ErrDecodeFailure      = errors.New("wire: decode failure")
	ErrOversizedFrame     = errors.New("wire: frame exceeds MaxBlockSize")
)

var knownTypes = map[MessageType]bool{
	MsgVersion: true, MsgVerAck: true, MsgGetAddr: true, MsgAddr: true,
	MsgReject: true, MsgTx: true, MsgBlock: true, MsgInv: true,
	MsgGetData: true, MsgGetBlocks: true, MsgPing: true, MsgPong: true,
	MsgWHandshake: true, MsgWNextRound: true, MsgWExpose: true,
	MsgWBlock: true, MsgWBlockVote: true,
}

// Message is a tagged record carrying a type-specific, RLP-encoded payload
// and, for signed kinds, the (signature, publicKey) pair that authenticates
// it. Decoding never verifies the signature; that is node-level policy.
type Message struct {
	Type      MessageType
	Payload   []byte
	Signature []byte
	PublicKey []byte
}

// EncodePayload RLP-encodes a typed payload for embedding in a Message.
func EncodePayload(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

// DecodePayload RLP-decodes a Message's payload into v.
func DecodePayload(data []byte, v interface{}) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return nil
}

// WriteMessage frames m onto w: magic, type tag, length, payload, and, for
// signed kinds, signature and public key. Every logical message that is the
// same encodes to the same bytes.
func WriteMessage(w io.Writer, m Message) error {
	if len(m.Payload) > MaxBlockSize {
		return ErrOversizedFrame
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, NetworkMagic)
	if _, err := w.Write(buf); err != nil {
		return err
	}

	typeBytes := []byte(m.Type)
	if len(typeBytes) > 255 {
		return fmt.Errorf("wire: type tag too long")
	}
	if _, err := w.Write([]byte{byte(len(typeBytes))}); err != nil {
		return err
	}
	if _, err := w.Write(typeBytes); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(buf, uint32(len(m.Payload)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(m.Payload); err != nil {
		return err
	}

	if m.Type.IsSigned() {
		sigLen := make([]byte, 2)
		binary.LittleEndian.PutUint16(sigLen, uint16(len(m.Signature)))
		if _, err := w.Write(sigLen); err != nil {
			return err
		}
		if _, err := w.Write(m.Signature); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(len(m.PublicKey))}); err != nil {
			return err
		}
		if _, err := w.Write(m.PublicKey); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads and decodes a single framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	var m Message

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return m, err
	}
	magic := binary.LittleEndian.Uint32(hdr)
	if magic != NetworkMagic {
		return m, fmt.Errorf("%w: bad magic %x", ErrDecodeFailure, magic)
	}

	typeLenB := make([]byte, 1)
	if _, err := io.ReadFull(r, typeLenB); err != nil {
		return m, err
	}
	typeBytes := make([]byte, typeLenB[0])
	if _, err := io.ReadFull(r, typeBytes); err != nil {
		return m, err
	}
	m.Type = MessageType(typeBytes)
	if !knownTypes[m.Type] {
		return m, fmt.Errorf("%w: %q", ErrUnknownMessageType, m.Type)
	}

	if _, err := io.ReadFull(r, hdr); err != nil {
		return m, err
	}
	payloadLen := binary.LittleEndian.Uint32(hdr)
	if payloadLen > MaxBlockSize {
		return m, ErrOversizedFrame
	}
	m.Payload = make([]byte, payloadLen)
	if _, err := io.ReadFull(r, m.Payload); err != nil {
		return m, err
	}

	if m.Type.IsSigned() {
		sigLenB := make([]byte, 2)
		if _, err := io.ReadFull(r, sigLenB); err != nil {
			return m, err
		}
		sigLen := binary.LittleEndian.Uint16(sigLenB)
		m.Signature = make([]byte, sigLen)
		if _, err := io.ReadFull(r, m.Signature); err != nil {
			return m, err
		}
		pkLenB := make([]byte, 1)
		if _, err := io.ReadFull(r, pkLenB); err != nil {
			return m, err
		}
		m.PublicKey = make([]byte, pkLenB[0])
		if _, err := io.ReadFull(r, m.PublicKey); err != nil {
			return m, err
		}
	}
	return m, nil
}
