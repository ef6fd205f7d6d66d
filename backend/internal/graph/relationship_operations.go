package graph

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"social-connections/backend/internal/constants"
	apperrors "social-connections/backend/pkg/errors"
)

// ============================================================================
// Follow / Unfollow Operations
// ============================================================================

// Follow makes actor follow every target, in order. The first invalid target
// aborts the call and nothing is applied. Returns the committed changes.
func (s *Store) Follow(ctx context.Context, actor common.Address, targets []common.Address) ([]Change, error) {
	if err := s.checkBatchSize("follow", len(targets)); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := s.begin(ctx, "follow", actor)
	if err != nil {
		return nil, err
	}
	for i, target := range targets {
		if err := b.charge("follow", constants.FollowGasPerTarget); err != nil {
			return nil, s.rejected("follow", actor, i, err)
		}
		if target == actor {
			return nil, s.rejected("follow", actor, i, apperrors.NewSelfFollow(actor, i))
		}
		if b.record(actor).following.has(target) {
			return nil, s.rejected("follow", actor, i, apperrors.NewAlreadyFollowing(actor, target, i))
		}
		b.link(target)
	}

	changes, err := b.commit()
	if err != nil || len(changes) == 0 {
		return changes, err
	}

	s.logger.Info("Followed users",
		zap.String("actor", actor.Hex()),
		zap.Int("targets", len(targets)),
	)
	return changes, nil
}

// Unfollow removes every target from actor's following, in order, with the
// same all-or-nothing behavior as Follow.
func (s *Store) Unfollow(ctx context.Context, actor common.Address, targets []common.Address) ([]Change, error) {
	if err := s.checkBatchSize("unfollow", len(targets)); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := s.begin(ctx, "unfollow", actor)
	if err != nil {
		return nil, err
	}
	for i, target := range targets {
		if err := b.charge("unfollow", constants.UnfollowGasPerTarget); err != nil {
			return nil, s.rejected("unfollow", actor, i, err)
		}
		if !b.record(actor).following.has(target) {
			return nil, s.rejected("unfollow", actor, i, apperrors.NewNotFollowing(actor, target, i))
		}
		b.unlink(target)
	}

	changes, err := b.commit()
	if err != nil || len(changes) == 0 {
		return changes, err
	}

	s.logger.Info("Unfollowed users",
		zap.String("actor", actor.Hex()),
		zap.Int("targets", len(targets)),
	)
	return changes, nil
}

// UnfollowAll clears actor's following. Succeeds without changes when it is already empty.
func (s *Store) UnfollowAll(ctx context.Context, actor common.Address) ([]Change, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b, err := s.begin(ctx, "unfollowAll", actor)
	if err != nil {
		return nil, err
	}
	var following []common.Address
	if base, ok := s.users[actor]; ok {
		following = base.following.list()
	}
	for i, target := range following {
		if err := b.charge("unfollowAll", constants.UnfollowGasPerTarget); err != nil {
			return nil, s.rejected("unfollowAll", actor, i, err)
		}
		b.unlink(target)
	}

	changes, err := b.commit()
	if err != nil || len(changes) == 0 {
		return changes, err
	}

	s.logger.Info("Unfollowed all users",
		zap.String("actor", actor.Hex()),
		zap.Int("targets", len(changes)),
	)
	return changes, nil
}

func (s *Store) rejected(operation string, actor common.Address, index int, err error) error {
	s.logger.Debug("Call rejected",
		zap.String("operation", operation),
		zap.String("actor", actor.Hex()),
		zap.Int("index", index),
		zap.Error(err),
	)
	return err
}
