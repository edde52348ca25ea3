package wire

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader is the hashed, signed portion of a Block.
type BlockHeader struct {
	ParentHashes []Hash
	MerkleRoot   Hash
	ConciliumID  uint64
	Timestamp    int64
	Version      uint32
	Height       uint64
}

// Block is a full block: header, ordered transactions, and the concilium
// signatures over its header.
type Block struct {
	Header     BlockHeader
	Txns       []Transaction
	Signatures [][]byte
}

// Hash returns the block's identity hash: a double-SHA256 over the RLP
// encoding of Header only. Body contents never affect it.
func (b *Block) Hash() Hash {
	enc, err := rlp.EncodeToBytes(&b.Header)
	if err != nil {
		panic("wire: encode block header: " + err.Error())
	}
	first := sha256.Sum256(enc)
	second := sha256.Sum256(first[:])
	var h Hash
	copy(h[:], second[:])
	return h
}
