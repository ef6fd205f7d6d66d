package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"social-connections/backend/internal/constants"
	apperrors "social-connections/backend/pkg/errors"
	"social-connections/backend/pkg/logger"
)

// Store owns the follow graph.
//
// Mutations are serialized by writeMu and staged on a copy-on-write overlay.
// The overlay is committed to the ledger and then swapped into users under
// mu in one step, so readers see the state before or after a call and nothing
// in between. A failed call discards the overlay.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	users   map[common.Address]*record
	nonces  map[common.Address]uint64
	seq     int64

	ledger       Ledger
	maxBatchSize int
	logger       *zap.Logger
}

// NewStore creates an empty store backed by ledger
func NewStore(ledger Ledger, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = constants.DefaultMaxBatchSize
	}
	return &Store{
		users:        make(map[common.Address]*record),
		nonces:       make(map[common.Address]uint64),
		ledger:       ledger,
		maxBatchSize: maxBatchSize,
		logger:       logger.Named("graph"),
	}
}

// Load rebuilds the in-memory graph from the ledger
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snapshot, err := s.ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	users := make(map[common.Address]*record)
	get := func(addr common.Address) *record {
		r, ok := users[addr]
		if !ok {
			r = newRecord()
			users[addr] = r
		}
		return r
	}

	seq := snapshot.Seq
	for _, e := range snapshot.Edges {
		if e.Follower == e.Target {
			return fmt.Errorf("ledger holds self-follow edge for %s", e.Follower.Hex())
		}
		if !get(e.Follower).following.add(e.Target) {
			return fmt.Errorf("ledger holds duplicate edge %s -> %s", e.Follower.Hex(), e.Target.Hex())
		}
		get(e.Target).followers.add(e.Follower)
		if e.Seq > seq {
			seq = e.Seq
		}
	}

	nonces := make(map[common.Address]uint64, len(snapshot.Nonces))
	for addr, n := range snapshot.Nonces {
		nonces[addr] = n
	}

	s.mu.Lock()
	s.users = users
	s.nonces = nonces
	s.seq = seq
	s.mu.Unlock()

	s.logger.Info("Follow graph loaded",
		zap.Int("edges", len(snapshot.Edges)),
		zap.Int("users", len(users)),
		zap.Int("nonces", len(nonces)),
		zap.Int64("seq", seq),
	)
	return nil
}

// batch is the overlay for one call
type batch struct {
	store   *Store
	ctx     context.Context
	meter   Meter
	actor   common.Address
	touched map[common.Address]*record
	changes []Change
	seq     int64
	nonce   *NonceUpdate
}

// begin opens an overlay for actor. Caller holds writeMu.
func (s *Store) begin(ctx context.Context, operation string, actor common.Address) (*batch, error) {
	b := &batch{
		store:   s,
		ctx:     ctx,
		meter:   meterFrom(ctx),
		actor:   actor,
		touched: make(map[common.Address]*record),
		seq:     s.seq,
	}

	if claim, ok := nonceFrom(ctx); ok {
		if claim.account != actor {
			return nil, s.rejected(operation, actor, 0,
				apperrors.NewInvalidMetaTransaction(claim.account, "signer is not the acting address"))
		}
		if current := s.nonces[actor]; claim.nonce != current {
			return nil, s.rejected(operation, actor, 0,
				apperrors.NewInvalidMetaTransaction(actor, fmt.Sprintf("nonce %d, expected %d", claim.nonce, current)))
		}
		b.nonce = &NonceUpdate{Account: actor, Next: claim.nonce + 1}
	}
	return b, nil
}

// record returns the overlay copy of addr, cloning it from the committed table on first touch.
// Reading users without mu is safe here: only the holder of writeMu ever writes it.
func (b *batch) record(addr common.Address) *record {
	if r, ok := b.touched[addr]; ok {
		return r
	}
	var r *record
	if base, ok := b.store.users[addr]; ok {
		r = base.clone()
	} else {
		r = newRecord()
	}
	b.touched[addr] = r
	return r
}

func (b *batch) charge(operation string, units uint64) error {
	if err := b.ctx.Err(); err != nil {
		return apperrors.NewResourceExhausted(operation+": interrupted", uint64(len(b.changes)), 0, err)
	}
	if b.meter == nil {
		return nil
	}
	return b.meter.Charge(operation, units)
}

func (b *batch) link(target common.Address) {
	b.record(b.actor).following.add(target)
	b.record(target).followers.add(b.actor)
	b.seq++
	b.changes = append(b.changes, Change{Kind: ChangeFollow, Follower: b.actor, Target: target, Seq: b.seq})
}

func (b *batch) unlink(target common.Address) {
	b.record(b.actor).following.remove(target)
	b.record(target).followers.remove(b.actor)
	b.seq++
	b.changes = append(b.changes, Change{Kind: ChangeUnfollow, Follower: b.actor, Target: target, Seq: b.seq})
}

// commit persists the overlay and installs it. A batch with neither changes
// nor a nonce to advance is a no-op.
func (b *batch) commit() ([]Change, error) {
	if len(b.changes) == 0 && b.nonce == nil {
		return nil, nil
	}
	s := b.store

	entry := Entry{Changes: b.changes, Seq: b.seq, Nonce: b.nonce}
	if err := s.ledger.Commit(b.ctx, entry); err != nil {
		s.logger.Error("Ledger commit failed",
			zap.String("actor", b.actor.Hex()),
			zap.Int("changes", len(b.changes)),
			zap.Error(err),
		)
		return nil, apperrors.NewLedgerCommitFailed(len(b.changes), err)
	}

	s.mu.Lock()
	for addr, r := range b.touched {
		s.users[addr] = r
	}
	s.seq = b.seq
	if b.nonce != nil {
		s.nonces[b.nonce.Account] = b.nonce.Next
	}
	s.mu.Unlock()

	return b.changes, nil
}

// MaxBatchSize returns the largest target list accepted in one call
func (s *Store) MaxBatchSize() int {
	return s.maxBatchSize
}

func (s *Store) checkBatchSize(operation string, n int) error {
	if n > s.maxBatchSize {
		return apperrors.NewResourceExhausted(operation+": batch too large", uint64(n), uint64(s.maxBatchSize), nil)
	}
	return nil
}
