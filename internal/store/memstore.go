package store

import (
	"sync"

	"github.com/concilium-chain/witnessd/internal/wire"
)

// MemStore is an in-memory reference implementation of ChainState,
// BlockReader, BlockWriter, and PeerStore, suitable for tests and for
// running a node with no durability guarantees.
type MemStore struct {
	mu sync.RWMutex

	utxos  map[UTXORef]wire.TxOut
	blocks map[wire.Hash]*wire.Block
	txns   map[wire.Hash]*wire.Transaction
	head   wire.Hash
	height uint64

	peerInfos []wire.PeerInfo
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		utxos:  make(map[UTXORef]wire.TxOut),
		blocks: make(map[wire.Hash]*wire.Block),
		txns:   make(map[wire.Hash]*wire.Transaction),
	}
}

func (s *MemStore) GetUTXO(ref UTXORef) (wire.TxOut, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.utxos[ref]
	return out, ok
}

// ApplyBlock spends every input's referenced UTXO and credits every
// output's new one, then records the block as the new head.
func (s *MemStore) ApplyBlock(b *wire.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range b.Txns {
		tx := &b.Txns[i]
		h := tx.Hash()
		for _, in := range tx.Payload.Ins {
			delete(s.utxos, UTXORef{TxHash: in.TxHash, Index: in.NTxOutput})
		}
		for idx, out := range tx.Payload.Outs {
			s.utxos[UTXORef{TxHash: h, Index: uint32(idx)}] = out
		}
		s.txns[h] = tx
	}

	bh := b.Hash()
	s.blocks[bh] = b
	s.head = bh
	s.height = b.Header.Height
	return nil
}

func (s *MemStore) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *MemStore) GetBlock(h wire.Hash) (*wire.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *MemStore) GetTransaction(h wire.Hash) (*wire.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txns[h]
	return tx, ok
}

func (s *MemStore) HeadHash() wire.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

func (s *MemStore) PutBlock(b *wire.Block) error {
	return s.ApplyBlock(b)
}

func (s *MemStore) SavePeerInfos(infos []wire.PeerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerInfos = append([]wire.PeerInfo(nil), infos...)
	return nil
}

func (s *MemStore) LoadPeerInfos() ([]wire.PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]wire.PeerInfo(nil), s.peerInfos...), nil
}
