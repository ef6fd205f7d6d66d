package graph

import (
	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// User Operations
// ============================================================================

// GetUser returns a snapshot of addr's relationships. Addresses never seen
// before get an empty record.
func (s *Store) GetUser(addr common.Address) User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := User{
		Address:   addr,
		Following: []common.Address{},
		Followers: []common.Address{},
	}
	if r, ok := s.users[addr]; ok {
		u.Following = r.following.list()
		u.Followers = r.followers.list()
	}
	return u
}

// IsFollowing reports whether follower currently follows target
func (s *Store) IsFollowing(follower, target common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[follower]
	return ok && r.following.has(target)
}

// Counts returns how many addresses addr follows and is followed by
func (s *Store) Counts(addr common.Address) (following, followers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.users[addr]; ok {
		return r.following.len(), r.followers.len()
	}
	return 0, 0
}
