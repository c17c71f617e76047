package repository

import (
	"context"
	"fmt"

	"mazl/internal/models"
	"mazl/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MatchRepository defines the interface for match data operations
type MatchRepository interface {
	// CreateIfAbsent inserts the match unless its canonical pair already
	// exists. created is true only for the call that inserted the row.
	CreateIfAbsent(ctx context.Context, match *models.Match) (created bool, err error)
	GetByPair(ctx context.Context, lowID, highID uint) (*models.Match, error)
	GetByID(ctx context.Context, id uint) (*models.Match, error)
	ListForUser(ctx context.Context, userID uint) ([]models.MatchSummary, error)
}

type matchRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db, log: observability.NewRepoLogger("matches")}
}

func (r *matchRepository) CreateIfAbsent(ctx context.Context, match *models.Match) (bool, error) {
	if match.UserLowID >= match.UserHighID {
		return false, models.NewValidationError("match pair must be canonical")
	}

	result := conn(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
			DoNothing: true,
		}).
		Create(match)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		r.log.LogError(ctx, result.Error, "create")
		return false, fmt.Errorf("insert match: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	r.log.LogCreate(ctx, map[string]interface{}{
		"match_id":     match.ID,
		"user_low_id":  match.UserLowID,
		"user_high_id": match.UserHighID,
	})
	return true, nil
}

func (r *matchRepository) GetByPair(ctx context.Context, lowID, highID uint) (*models.Match, error) {
	var match models.Match
	err := conn(ctx, r.db).
		Where("user_low_id = ? AND user_high_id = ?", lowID, highID).
		First(&match).Error
	if err != nil {
		return nil, notFoundOr(err, "Match", fmt.Sprintf("%d:%d", lowID, highID))
	}
	return &match, nil
}

func (r *matchRepository) GetByID(ctx context.Context, id uint) (*models.Match, error) {
	var match models.Match
	if err := conn(ctx, r.db).First(&match, id).Error; err != nil {
		return nil, notFoundOr(err, "Match", id)
	}
	return &match, nil
}

// ListForUser returns the user's matches, newest first, with the bound conversation id.
func (r *matchRepository) ListForUser(ctx context.Context, userID uint) ([]models.MatchSummary, error) {
	defer observability.TrackQuery("list", "matches")()

	var matches []models.Match
	if err := readConn(ctx, r.db).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&matches).Error; err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	if len(matches) == 0 {
		return []models.MatchSummary{}, nil
	}

	ids := make([]uint, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}

	var convs []models.Conversation
	if err := readConn(ctx, r.db).
		Select("id", "match_id").
		Where("match_id IN ?", ids).
		Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list match conversations: %w", err)
	}
	convByMatch := make(map[uint]uint, len(convs))
	for _, c := range convs {
		convByMatch[c.MatchID] = c.ID
	}

	out := make([]models.MatchSummary, 0, len(matches))
	for i := range matches {
		m := &matches[i]
		out = append(out, models.MatchSummary{
			MatchID:        m.ID,
			OtherUserID:    m.OtherUser(userID),
			ConversationID: convByMatch[m.ID],
			CreatedAt:      m.CreatedAt,
		})
	}
	return out, nil
}
