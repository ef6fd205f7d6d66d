package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"social-connections/backend/internal/constants"
	apperrors "social-connections/backend/pkg/errors"
)

func addr(n int) common.Address {
	return common.BytesToAddress([]byte{0x5a, byte(n)})
}

var (
	alice = addr(1)
	bob   = addr(2)
	carol = addr(3)
	dave  = addr(4)
)

func newTestStore() *Store {
	return NewStore(NewMemoryLedger(), 0)
}

type failingLedger struct {
	*MemoryLedger
	err error
}

func (l *failingLedger) Commit(ctx context.Context, entry Entry) error {
	return l.err
}

func TestFollow_Single(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	changes, err := s.Follow(ctx, alice, []common.Address{bob})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Change{Kind: ChangeFollow, Follower: alice, Target: bob, Seq: 1}, changes[0])

	assert.Equal(t, []common.Address{bob}, s.GetUser(alice).Following)
	assert.Equal(t, []common.Address{alice}, s.GetUser(bob).Followers)
	assert.Empty(t, s.GetUser(alice).Followers)
	assert.Empty(t, s.GetUser(bob).Following)
}

func TestFollow_PreservesOrder(t *testing.T) {
	s := newTestStore()

	_, err := s.Follow(context.Background(), alice, []common.Address{bob, carol, dave})
	require.NoError(t, err)

	assert.Equal(t, []common.Address{bob, carol, dave}, s.GetUser(alice).Following)
}

func TestFollow_Self(t *testing.T) {
	s := newTestStore()
	before := s.GetUser(alice)

	_, err := s.Follow(context.Background(), alice, []common.Address{alice})

	var selfErr *apperrors.ErrSelfFollow
	require.True(t, errors.As(err, &selfErr))
	assert.Contains(t, err.Error(), "Cannot follow yourself")
	assert.Equal(t, before, s.GetUser(alice))
}

func TestFollow_AlreadyFollowing(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{bob})
	require.NoError(t, err)

	_, err = s.Follow(ctx, alice, []common.Address{bob})
	var dupErr *apperrors.ErrAlreadyFollowing
	require.True(t, errors.As(err, &dupErr))
	assert.Contains(t, err.Error(), "Already following")
	assert.Equal(t, bob, dupErr.Target)

	assert.Equal(t, []common.Address{bob}, s.GetUser(alice).Following)
	assert.Equal(t, []common.Address{alice}, s.GetUser(bob).Followers)
}

func TestFollow_DuplicateWithinBatchAbortsWholeCall(t *testing.T) {
	s := newTestStore()

	_, err := s.Follow(context.Background(), alice, []common.Address{bob, carol, bob, dave})

	var dupErr *apperrors.ErrAlreadyFollowing
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, 2, dupErr.Index)

	assert.Empty(t, s.GetUser(alice).Following)
	assert.Empty(t, s.GetUser(bob).Followers)
	assert.Empty(t, s.GetUser(carol).Followers)
}

func TestFollow_MidBatchSelfFollowLeavesEarlierStateIntact(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{dave})
	require.NoError(t, err)

	_, err = s.Follow(ctx, alice, []common.Address{bob, alice, carol})
	require.Error(t, err)

	assert.Equal(t, []common.Address{dave}, s.GetUser(alice).Following)
	assert.Empty(t, s.GetUser(bob).Followers)
}

func TestFollow_LargeRepeatedBatchFailsOnDuplicate(t *testing.T) {
	s := newTestStore()
	targets := make([]common.Address, 1000)
	for i := range targets {
		targets[i] = bob
	}

	ctx := WithMeter(context.Background(), NewGasMeter(constants.GasLimitFor(constants.DefaultMaxBatchSize)))
	_, err := s.Follow(ctx, alice, targets)

	var dupErr *apperrors.ErrAlreadyFollowing
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, 1, dupErr.Index)
	assert.NotContains(t, err.Error(), "out of gas")

	_, err = s.Unfollow(ctx, alice, targets)
	var notErr *apperrors.ErrNotFollowing
	require.True(t, errors.As(err, &notErr))
	assert.Equal(t, 0, notErr.Index)
}

func TestFollow_EmptyIsNoOp(t *testing.T) {
	ledger := NewMemoryLedger()
	s := NewStore(ledger, 0)
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{bob})
	require.NoError(t, err)
	before := s.GetUser(alice)

	changes, err := s.Follow(ctx, alice, nil)
	require.NoError(t, err)
	assert.Nil(t, changes)

	changes, err = s.Unfollow(ctx, alice, []common.Address{})
	require.NoError(t, err)
	assert.Nil(t, changes)

	assert.Equal(t, before, s.GetUser(alice))
	assert.Equal(t, 1, ledger.Len())
}

func TestUnfollow(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{bob, carol, dave})
	require.NoError(t, err)

	changes, err := s.Unfollow(ctx, alice, []common.Address{carol})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ChangeUnfollow, changes[0].Kind)

	assert.Equal(t, []common.Address{bob, dave}, s.GetUser(alice).Following)
	assert.Empty(t, s.GetUser(carol).Followers)
	assert.False(t, s.IsFollowing(alice, carol))
	assert.True(t, s.IsFollowing(alice, dave))
}

func TestUnfollow_NotFollowing(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{bob})
	require.NoError(t, err)

	_, err = s.Unfollow(ctx, alice, []common.Address{bob, carol})
	var notErr *apperrors.ErrNotFollowing
	require.True(t, errors.As(err, &notErr))
	assert.Contains(t, err.Error(), "Not following this user")
	assert.Equal(t, 1, notErr.Index)

	// the bob removal belonged to the aborted call
	assert.Equal(t, []common.Address{bob}, s.GetUser(alice).Following)
	assert.Equal(t, []common.Address{alice}, s.GetUser(bob).Followers)
}

func TestUnfollowAll(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(ctx, alice, []common.Address{bob, carol, dave})
	require.NoError(t, err)
	_, err = s.Follow(ctx, carol, []common.Address{bob})
	require.NoError(t, err)

	changes, err := s.UnfollowAll(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, changes, 3)

	assert.Empty(t, s.GetUser(alice).Following)
	assert.Equal(t, []common.Address{carol}, s.GetUser(bob).Followers)
	assert.Empty(t, s.GetUser(carol).Followers)
	assert.Empty(t, s.GetUser(dave).Followers)
	assert.Equal(t, []common.Address{bob}, s.GetUser(carol).Following)
}

func TestUnfollowAll_WhenEmpty(t *testing.T) {
	s := newTestStore()

	changes, err := s.UnfollowAll(context.Background(), alice)
	require.NoError(t, err)
	assert.Nil(t, changes)
	assert.Empty(t, s.GetUser(alice).Following)
}

func TestGetUser_Unknown(t *testing.T) {
	s := newTestStore()

	u := s.GetUser(dave)
	assert.Equal(t, dave, u.Address)
	assert.NotNil(t, u.Following)
	assert.NotNil(t, u.Followers)
	assert.Empty(t, u.Following)
	assert.Empty(t, u.Followers)

	following, followers := s.Counts(dave)
	assert.Zero(t, following)
	assert.Zero(t, followers)
}

func TestGetUser_ReturnsCopies(t *testing.T) {
	s := newTestStore()
	_, err := s.Follow(context.Background(), alice, []common.Address{bob})
	require.NoError(t, err)

	u := s.GetUser(alice)
	u.Following[0] = carol

	assert.Equal(t, []common.Address{bob}, s.GetUser(alice).Following)
}

func TestBatchTooLarge(t *testing.T) {
	s := NewStore(NewMemoryLedger(), 3)

	_, err := s.Follow(context.Background(), alice, []common.Address{bob, carol, dave, addr(5)})

	var resErr *apperrors.ErrResourceExhausted
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, uint64(4), resErr.Used)
	assert.Equal(t, uint64(3), resErr.Limit)
	assert.Empty(t, s.GetUser(alice).Following)
}

func TestOutOfGasAbortsWholeCall(t *testing.T) {
	s := newTestStore()
	meter := NewGasMeter(2*constants.FollowGasPerTarget + 1)
	ctx := WithMeter(context.Background(), meter)

	_, err := s.Follow(ctx, alice, []common.Address{bob, carol, dave})

	var resErr *apperrors.ErrResourceExhausted
	require.True(t, errors.As(err, &resErr))
	assert.Contains(t, err.Error(), "out of gas")
	assert.Empty(t, s.GetUser(alice).Following)
	assert.Empty(t, s.GetUser(bob).Followers)
	assert.Equal(t, 2*constants.FollowGasPerTarget, meter.Used())
}

func TestCancelledContextAborts(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Follow(ctx, alice, []common.Address{bob})

	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeResource))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, s.GetUser(alice).Following)
}

func TestLedgerFailureLeavesStateUntouched(t *testing.T) {
	ledger := &failingLedger{MemoryLedger: NewMemoryLedger(), err: fmt.Errorf("connection reset")}
	s := NewStore(ledger, 0)

	_, err := s.Follow(context.Background(), alice, []common.Address{bob})

	var commitErr *apperrors.ErrLedgerCommitFailed
	require.True(t, errors.As(err, &commitErr))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Empty(t, s.GetUser(alice).Following)
	assert.Empty(t, s.GetUser(bob).Followers)
}

func TestLoad_RebuildsFromLedger(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	s := NewStore(ledger, 0)
	_, err := s.Follow(ctx, alice, []common.Address{bob, carol, dave})
	require.NoError(t, err)
	_, err = s.Follow(ctx, dave, []common.Address{carol})
	require.NoError(t, err)
	_, err = s.Unfollow(ctx, alice, []common.Address{carol})
	require.NoError(t, err)

	restored := NewStore(ledger, 0)
	require.NoError(t, restored.Load(ctx))

	for _, a := range []common.Address{alice, bob, carol, dave} {
		assert.Equal(t, s.GetUser(a), restored.GetUser(a), "user %s", a.Hex())
	}

	// four follows and one unfollow were committed before the reload
	changes, err := restored.Follow(ctx, bob, []common.Address{alice})
	require.NoError(t, err)
	assert.Equal(t, int64(6), changes[0].Seq)
}

func TestLoad_SequenceSurvivesTrailingUnfollows(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	s := NewStore(ledger, 0)
	_, err := s.Follow(ctx, alice, []common.Address{bob})
	require.NoError(t, err)
	unfollowed, err := s.UnfollowAll(ctx, alice)
	require.NoError(t, err)

	restored := NewStore(ledger, 0)
	require.NoError(t, restored.Load(ctx))

	changes, err := restored.Follow(ctx, carol, []common.Address{dave})
	require.NoError(t, err)
	assert.Greater(t, changes[0].Seq, unfollowed[0].Seq)
}

func TestNonce_AdvancesWithCommit(t *testing.T) {
	ledger := NewMemoryLedger()
	s := NewStore(ledger, 0)
	ctx := context.Background()

	_, err := s.Follow(WithNonce(ctx, alice, 0), alice, []common.Address{bob})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Nonce(alice))

	// calls that change nothing still consume the nonce
	changes, err := s.Follow(WithNonce(ctx, alice, 1), alice, nil)
	require.NoError(t, err)
	assert.Nil(t, changes)
	_, err = s.UnfollowAll(WithNonce(ctx, carol, 0), carol)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), s.Nonce(alice))
	assert.Equal(t, uint64(1), s.Nonce(carol))
	assert.Zero(t, s.Nonce(bob))

	restored := NewStore(ledger, 0)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, uint64(2), restored.Nonce(alice))
	assert.Equal(t, uint64(1), restored.Nonce(carol))
}

func TestNonce_Rejections(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.Follow(WithNonce(ctx, alice, 0), alice, []common.Address{bob})
	require.NoError(t, err)

	tests := []struct {
		name    string
		account common.Address
		nonce   uint64
	}{
		{name: "replayed nonce", account: alice, nonce: 0},
		{name: "future nonce", account: alice, nonce: 5},
		{name: "other account", account: carol, nonce: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Follow(WithNonce(ctx, tt.account, tt.nonce), alice, []common.Address{carol})

			var metaErr *apperrors.ErrInvalidMetaTransaction
			require.True(t, errors.As(err, &metaErr))
			assert.False(t, s.IsFollowing(alice, carol))
		})
	}
	assert.Equal(t, uint64(1), s.Nonce(alice))
}

func TestNonce_FailedCallKeepsNonce(t *testing.T) {
	s := newTestStore()

	_, err := s.Follow(WithNonce(context.Background(), alice, 0), alice, []common.Address{alice})
	require.Error(t, err)
	assert.Zero(t, s.Nonce(alice))
}

func TestSymmetryUnderRandomOperations(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	population := make([]common.Address, 8)
	for i := range population {
		population[i] = addr(i + 10)
	}

	for step := 0; step < 500; step++ {
		actor := population[rng.Intn(len(population))]
		n := rng.Intn(4)
		targets := make([]common.Address, n)
		for i := range targets {
			targets[i] = population[rng.Intn(len(population))]
		}

		switch rng.Intn(3) {
		case 0:
			_, _ = s.Follow(ctx, actor, targets)
		case 1:
			_, _ = s.Unfollow(ctx, actor, targets)
		default:
			if rng.Intn(4) == 0 {
				_, _ = s.UnfollowAll(ctx, actor)
			}
		}

		assertSymmetric(t, s, population)
	}
}

func TestConcurrentReadsSeeCommittedState(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	targets := make([]common.Address, 50)
	for i := range targets {
		targets[i] = addr(i + 20)
	}

	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 20; i++ {
			if _, err := s.Follow(ctx, alice, targets); err != nil {
				return err
			}
			if _, err := s.UnfollowAll(ctx, alice); err != nil {
				return err
			}
		}
		return nil
	})
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				n := len(s.GetUser(alice).Following)
				if n != 0 && n != len(targets) {
					return fmt.Errorf("observed partial batch of %d", n)
				}
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
}

func assertSymmetric(t *testing.T, s *Store, population []common.Address) {
	t.Helper()

	for _, a := range population {
		u := s.GetUser(a)
		seen := make(map[common.Address]bool)
		for _, f := range u.Following {
			require.NotEqual(t, a, f, "self in following")
			require.False(t, seen[f], "duplicate in following")
			seen[f] = true
			require.Contains(t, s.GetUser(f).Followers, a, "missing back edge")
		}
		seen = make(map[common.Address]bool)
		for _, f := range u.Followers {
			require.NotEqual(t, a, f, "self in followers")
			require.False(t, seen[f], "duplicate in followers")
			seen[f] = true
			require.Contains(t, s.GetUser(f).Following, a, "missing forward edge")
		}
	}
}
