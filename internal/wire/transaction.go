package wire

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/rlp"
)

// TxIn references a previously unspent output by (txHash, outputIndex).
type TxIn struct {
	TxHash    Hash
	NTxOutput uint32
}

// TxOut credits ReceiverAddr with Amount, optionally deploying ContractCode
// or redirecting change to AddrChangeReceiver.
type TxOut struct {
	Amount             uint64
	ReceiverAddr       Address
	ContractCode       []byte   `rlp:"optional"`
	AddrChangeReceiver *Address `rlp:"optional"`
}

// TransactionPayload is the signed, hashed portion of a Transaction.
type TransactionPayload struct {
	Version     uint32
	ConciliumID uint64
	Ins         []TxIn
	Outs        []TxOut
}

// Transaction wraps a TransactionPayload with the claim proofs that unlock
// its inputs and an optional contract-owner signature. Neither field is
// covered by Hash.
type Transaction struct {
	Payload      TransactionPayload
	ClaimProofs  [][]byte
	TxSignature  []byte `rlp:"optional"`
}

// Hash returns the transaction's identity hash: a double-SHA256 over the
// RLP encoding of Payload only. ClaimProofs and TxSignature never affect it,
// so reordering or replacing signatures does not change a transaction's
// hash.
func (tx *Transaction) Hash() Hash {
	enc, err := rlp.EncodeToBytes(&tx.Payload)
	if err != nil {
		panic("wire: encode transaction payload: " + err.Error())
	}
	first := sha256.Sum256(enc)
	second := sha256.Sum256(first[:])
	var h Hash
	copy(h[:], second[:])
	return h
}
