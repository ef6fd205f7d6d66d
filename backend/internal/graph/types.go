package graph

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Follow Graph Types
// ============================================================================

// User is a read-only snapshot of one address's relationships
type User struct {
	Address   common.Address   `json:"address"`
	Following []common.Address `json:"following"`
	Followers []common.Address `json:"followers"`
}

// ChangeKind identifies a committed link mutation
type ChangeKind string

const (
	ChangeFollow   ChangeKind = "follow"
	ChangeUnfollow ChangeKind = "unfollow"
)

// Change is one link added or removed by a committed call
type Change struct {
	Kind     ChangeKind     `json:"kind"`
	Follower common.Address `json:"follower"`
	Target   common.Address `json:"target"`
	Seq      int64          `json:"seq"`
}

// Edge is a persisted follow link. Seq orders edges globally by creation.
type Edge struct {
	Follower  common.Address `json:"follower"`
	Target    common.Address `json:"target"`
	Seq       int64          `json:"seq"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}
