// Package store defines the persistence boundary the networking layer
// treats as an external collaborator: chain state (UTXO set), block
// history, and the peer address book. The node never reaches past these
// interfaces into a concrete storage engine, so swapping the reference
// in-memory implementation for a real embedded database touches nothing
// above this package.
package store

import (
	"errors"

	"github.com/concilium-chain/witnessd/internal/wire"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// UTXORef identifies one output of one transaction.
type UTXORef struct {
	TxHash wire.Hash
	Index  uint32
}

// ChainState is the UTXO set collaborator: spend/credit bookkeeping
// consulted when validating a transaction's inputs.
type ChainState interface {
	GetUTXO(ref UTXORef) (wire.TxOut, bool)
	ApplyBlock(b *wire.Block) error
	Height() uint64
}

// BlockReader serves block and transaction lookups by hash, e.g. to answer
// MsgGetData.
type BlockReader interface {
	GetBlock(h wire.Hash) (*wire.Block, bool)
	GetTransaction(h wire.Hash) (*wire.Transaction, bool)
	HeadHash() wire.Hash
}

// BlockWriter appends newly confirmed blocks.
type BlockWriter interface {
	PutBlock(b *wire.Block) error
}

// PeerStore persists the gossiped address book across restarts; it
// satisfies peermanager.Store.
type PeerStore interface {
	SavePeerInfos(infos []wire.PeerInfo) error
	LoadPeerInfos() ([]wire.PeerInfo, error)
}
