package constants

// Gas schedule, in abstract units charged against a call's gas limit
const (
	// CallBaseGas is charged once per mutating call before any work is done
	CallBaseGas uint64 = 21000

	// FollowGasPerTarget covers two set insertions (following + followers)
	FollowGasPerTarget uint64 = 45000

	// UnfollowGasPerTarget covers two set removals; removals refund part of the cost
	UnfollowGasPerTarget uint64 = 15000
)

// Batch limits
const (
	// DefaultMaxBatchSize is the largest target list accepted in a single call
	DefaultMaxBatchSize = 2000
)

// Address encoding
const (
	// AddressLength is the width of an address and of the forwarded sender suffix
	AddressLength = 20
)

// Event subjects, appended to the configured prefix
const (
	SubjectFollowed   = "followed"
	SubjectUnfollowed = "unfollowed"
)

// GasLimitFor returns the smallest gas limit that fits a follow of
// maxBatchSize distinct targets. It is the default call gas limit.
func GasLimitFor(maxBatchSize int) uint64 {
	return CallBaseGas + uint64(maxBatchSize)*FollowGasPerTarget
}
