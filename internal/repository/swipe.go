package repository

import (
	"context"
	"fmt"

	"mazl/internal/models"
	"mazl/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SwipeRepository defines the interface for the swipe ledger.
type SwipeRepository interface {
	Upsert(ctx context.Context, swipe *models.Swipe) error
	Get(ctx context.Context, actorID, targetID uint) (*models.Swipe, error)
	HasPositive(ctx context.Context, actorID, targetID uint) (bool, error)
}

type swipeRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewSwipeRepository creates a new swipe repository
func NewSwipeRepository(db *gorm.DB) SwipeRepository {
	return &swipeRepository{db: db, log: observability.NewRepoLogger("swipes")}
}

// Upsert stores the latest decision for (actor, target), replacing any
// previous action and timestamp in a single statement.
func (r *swipeRepository) Upsert(ctx context.Context, swipe *models.Swipe) error {
	err := conn(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"action", "decided_at"}),
		}).
		Create(swipe).Error
	if err != nil {
		if isCheckViolation(err) {
			return models.NewValidationError("invalid swipe")
		}
		r.log.LogError(ctx, err, "upsert")
		return fmt.Errorf("upsert swipe: %w", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{
		"actor_id":  swipe.ActorID,
		"target_id": swipe.TargetID,
		"action":    swipe.Action,
	})
	return nil
}

func (r *swipeRepository) Get(ctx context.Context, actorID, targetID uint) (*models.Swipe, error) {
	var swipe models.Swipe
	err := conn(ctx, r.db).
		Where("actor_id = ? AND target_id = ?", actorID, targetID).
		First(&swipe).Error
	if err != nil {
		return nil, notFoundOr(err, "Swipe", fmt.Sprintf("%d->%d", actorID, targetID))
	}
	return &swipe, nil
}

// HasPositive reports whether actor currently likes or super-likes target.
// It always reads the primary so a just-committed reciprocal swipe is visible.
func (r *swipeRepository) HasPositive(ctx context.Context, actorID, targetID uint) (bool, error) {
	var count int64
	err := conn(ctx, r.db).
		Model(&models.Swipe{}).
		Where("actor_id = ? AND target_id = ? AND action IN ?", actorID, targetID,
			[]models.SwipeAction{models.SwipeLike, models.SwipeSuperLike}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("lookup reciprocal swipe: %w", err)
	}
	return count > 0, nil
}
