// Package mempool holds transactions relayed across the network but not
// yet confirmed in a block: the staging area gossip hands transactions off
// to, and the witness round later drains for block assembly.
//
// Grounded on the teacher's TxPool (core/common_structs.go): a bounded,
// time-limited set keyed by hash, generalized here to also reject inputs
// that collide with an already-pooled transaction (no UTXO may be spent
// twice within the same mempool).
package mempool

import (
	"errors"
	"sync"
	"time"

	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/wire"
)

var (
	ErrAlreadyPooled  = errors.New("mempool: transaction already pooled")
	ErrDoubleSpend    = errors.New("mempool: input already claimed by a pooled transaction")
	ErrPoolFull       = errors.New("mempool: at capacity")
	ErrEmptyOutputs   = errors.New("mempool: transaction has no outputs")
)

type entry struct {
	tx      wire.Transaction
	addedAt time.Time
}

type outpoint struct {
	hash wire.Hash
	n    uint32
}

// Pool is a concurrency-safe, capacity- and TTL-bounded transaction set.
type Pool struct {
	mu       sync.RWMutex
	byHash   map[wire.Hash]entry
	spending map[outpoint]wire.Hash // input -> pooled tx claiming it
	maxSize  int
	ttl      time.Duration
}

// New builds a Pool bounded by the node-wide MempoolTxQty/MempoolTxLifetime
// constants.
func New() *Pool {
	return &Pool{
		byHash:   make(map[wire.Hash]entry),
		spending: make(map[outpoint]wire.Hash),
		maxSize:  params.MempoolTxQty,
		ttl:      params.MempoolTxLifetime,
	}
}

// Accept validates and, on success, inserts tx into the pool. It is the
// single entry point gossip and the RPC-equivalent submission path share.
func (p *Pool) Accept(tx wire.Transaction) error {
	if len(tx.Payload.Outs) == 0 {
		return ErrEmptyOutputs
	}
	h := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictExpiredLocked()

	if _, ok := p.byHash[h]; ok {
		return ErrAlreadyPooled
	}
	for _, in := range tx.Payload.Ins {
		op := outpoint{hash: in.TxHash, n: in.NTxOutput}
		if _, claimed := p.spending[op]; claimed {
			return ErrDoubleSpend
		}
	}
	if len(p.byHash) >= p.maxSize {
		return ErrPoolFull
	}

	p.byHash[h] = entry{tx: tx, addedAt: time.Now()}
	for _, in := range tx.Payload.Ins {
		p.spending[outpoint{hash: in.TxHash, n: in.NTxOutput}] = h
	}
	return nil
}

// Has reports whether h is currently pooled, used by relay to skip
// re-announcing transactions a peer's inv already proves it has.
func (p *Pool) Has(h wire.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[h]
	return ok
}

// Get returns the pooled transaction for h, if any.
func (p *Pool) Get(h wire.Hash) (wire.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[h]
	return e.tx, ok
}

// Remove drops h from the pool, e.g. once its containing block confirms.
func (p *Pool) Remove(h wire.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byHash[h]
	if !ok {
		return
	}
	delete(p.byHash, h)
	for _, in := range e.tx.Payload.Ins {
		delete(p.spending, outpoint{hash: in.TxHash, n: in.NTxOutput})
	}
}

// GetFinalTxns returns every non-expired pooled transaction, the set a
// witness round drains for block assembly. The caller owns ordering.
func (p *Pool) GetFinalTxns() []wire.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evictExpiredLocked()
	out := make([]wire.Transaction, 0, len(p.byHash))
	for _, e := range p.byHash {
		out = append(out, e.tx)
	}
	return out
}

// Len reports the current pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

func (p *Pool) evictExpiredLocked() {
	if p.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.ttl)
	for h, e := range p.byHash {
		if e.addedAt.Before(cutoff) {
			delete(p.byHash, h)
			for _, in := range e.tx.Payload.Ins {
				delete(p.spending, outpoint{hash: in.TxHash, n: in.NTxOutput})
			}
		}
	}
}
