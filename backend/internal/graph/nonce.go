package graph

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type nonceKey struct{}

type nonceClaim struct {
	account common.Address
	nonce   uint64
}

// WithNonce binds the next mutation to account's nonce. The store rejects the
// call unless nonce is current and account is the actor, and advances the
// nonce in the same ledger commit as the call's changes.
func WithNonce(ctx context.Context, account common.Address, nonce uint64) context.Context {
	return context.WithValue(ctx, nonceKey{}, nonceClaim{account: account, nonce: nonce})
}

func nonceFrom(ctx context.Context) (nonceClaim, bool) {
	claim, ok := ctx.Value(nonceKey{}).(nonceClaim)
	return claim, ok
}

// Nonce returns the next nonce expected from addr
func (s *Store) Nonce(addr common.Address) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[addr]
}
