package graph

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceUpdate advances an account's call nonce
type NonceUpdate struct {
	Account common.Address
	Next    uint64
}

// Entry is everything one call commits. Seq is the sequence counter after the call.
type Entry struct {
	Changes []Change
	Seq     int64
	Nonce   *NonceUpdate
}

// Snapshot is the persisted state a store is rebuilt from
type Snapshot struct {
	Edges  []Edge // ordered by Seq
	Seq    int64
	Nonces map[common.Address]uint64
}

// Ledger persists committed calls. Commit must apply an entry entirely or not at all.
type Ledger interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, entry Entry) error
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*Repository)(nil)
)

type edgeKey struct {
	follower common.Address
	target   common.Address
}

// MemoryLedger keeps edges, nonces and the sequence counter in process memory
type MemoryLedger struct {
	mu     sync.Mutex
	edges  map[edgeKey]Edge
	nonces map[common.Address]uint64
	seq    int64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		edges:  make(map[edgeKey]Edge),
		nonces: make(map[common.Address]uint64),
	}
}

// Load returns all edges ordered by sequence, plus nonces and the counter
func (l *MemoryLedger) Load(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	edges := make([]Edge, 0, len(l.edges))
	for _, e := range l.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Seq < edges[j].Seq })

	nonces := make(map[common.Address]uint64, len(l.nonces))
	for addr, n := range l.nonces {
		nonces[addr] = n
	}
	return Snapshot{Edges: edges, Seq: l.seq, Nonces: nonces}, nil
}

// Commit applies the entry's changes in order
func (l *MemoryLedger) Commit(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range entry.Changes {
		key := edgeKey{follower: c.Follower, target: c.Target}
		switch c.Kind {
		case ChangeFollow:
			l.edges[key] = Edge{Follower: c.Follower, Target: c.Target, Seq: c.Seq}
		case ChangeUnfollow:
			delete(l.edges, key)
		}
	}
	if entry.Seq > l.seq {
		l.seq = entry.Seq
	}
	if entry.Nonce != nil {
		l.nonces[entry.Nonce.Account] = entry.Nonce.Next
	}
	return nil
}

// Len returns the number of stored edges
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.edges)
}
