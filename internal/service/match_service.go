package service

import (
	"context"
	"fmt"
	"log/slog"

	"mazl/internal/cache"
	"mazl/internal/events"
	"mazl/internal/middleware"
	"mazl/internal/models"
	"mazl/internal/observability"
	"mazl/internal/repository"
	"mazl/internal/validation"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// MatchService records swipes and turns mutual interest into matches.
type MatchService struct {
	swipeRepo repository.SwipeRepository
	matchRepo repository.MatchRepository
	chat      *ChatService
	db        *gorm.DB
	redis     *redis.Client
	events    events.Publisher
}

// RecordSwipeInput is the input for recording a swipe.
type RecordSwipeInput struct {
	ActorID  uint
	TargetID uint
	Action   string
}

// SwipeResult reports what a swipe led to. Created is true only for the call
// that inserted the match.
type SwipeResult struct {
	Matched      bool                 `json:"matched"`
	Match        *models.Match        `json:"match,omitempty"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	Created      bool                 `json:"-"`
}

// MatchOutcome is a match together with its conversation.
type MatchOutcome struct {
	Match        *models.Match
	Conversation *models.Conversation
	Created      bool
}

// NewMatchService returns a new MatchService. rdb and publisher may be nil.
func NewMatchService(
	swipeRepo repository.SwipeRepository,
	matchRepo repository.MatchRepository,
	chat *ChatService,
	db *gorm.DB,
	rdb *redis.Client,
	publisher events.Publisher,
) *MatchService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &MatchService{
		swipeRepo: swipeRepo,
		matchRepo: matchRepo,
		chat:      chat,
		db:        db,
		redis:     rdb,
		events:    publisher,
	}
}

// RecordSwipe stores the actor's latest decision about the target. Positive
// decisions then look for reciprocal interest.
func (s *MatchService) RecordSwipe(ctx context.Context, in RecordSwipeInput) (*SwipeResult, error) {
	span, ctx := observability.NewSpan(ctx, "match.record_swipe",
		attribute.Int64("actor.id", int64(in.ActorID)),
		attribute.Int64("target.id", int64(in.TargetID)),
	)
	defer span.End()

	action, err := validation.Swipe(in.ActorID, in.TargetID, in.Action)
	if err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	span.AddAttributes(attribute.String("swipe.action", string(action)))

	// Committed on its own before the reciprocal lookup: of two racing
	// mutual likes, at least one sees the other.
	swipe := &models.Swipe{
		ActorID:   in.ActorID,
		TargetID:  in.TargetID,
		Action:    action,
		DecidedAt: now(),
	}
	if err := s.swipeRepo.Upsert(ctx, swipe); err != nil {
		span.SetError(err)
		return nil, err
	}
	observability.SwipesTotal.WithLabelValues(string(action)).Inc()

	if !action.IsPositive() {
		return &SwipeResult{}, nil
	}

	outcome, err := s.TryMatch(ctx, in.ActorID, in.TargetID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if outcome == nil {
		return &SwipeResult{}, nil
	}
	span.AddAttributes(
		attribute.Int64("match.id", int64(outcome.Match.ID)),
		attribute.Bool("match.created", outcome.Created),
	)
	return &SwipeResult{
		Matched:      true,
		Match:        outcome.Match,
		Conversation: outcome.Conversation,
		Created:      outcome.Created,
	}, nil
}

// TryMatch creates the match for (actorID, targetID) if targetID already
// likes actorID. It returns nil without reciprocal interest. A match that
// already exists is returned with Created=false. The match and its
// conversation are written in one transaction; a concurrent creator wins
// silently and this call returns the winner's pair with Created=false.
func (s *MatchService) TryMatch(ctx context.Context, actorID, targetID uint) (*MatchOutcome, error) {
	reciprocal, err := s.swipeRepo.HasPositive(ctx, targetID, actorID)
	if err != nil {
		return nil, err
	}
	if !reciprocal {
		return nil, nil
	}

	low, high := models.CanonicalPair(actorID, targetID)

	existing, err := s.existingOutcome(ctx, low, high)
	if err != nil || existing != nil {
		return existing, err
	}

	outcome := &MatchOutcome{}
	err = repository.WithTransaction(ctx, s.db, func(ctx context.Context) error {
		match := &models.Match{UserLowID: low, UserHighID: high, CreatedAt: now()}
		created, err := s.matchRepo.CreateIfAbsent(ctx, match)
		if err != nil {
			return err
		}

		if !created {
			// Absent a moment ago: another request inserted it in between.
			observability.MatchRaces.Inc()
			winner, err := s.existingOutcome(ctx, low, high)
			if err != nil {
				return err
			}
			if winner == nil {
				return models.NewInternalError(fmt.Errorf("match %d:%d neither inserted nor found", low, high))
			}
			outcome = winner
			return nil
		}

		conv, err := s.chat.CreateConversationForMatch(ctx, match.ID, low, high)
		if err != nil {
			return err
		}
		outcome.Match, outcome.Conversation, outcome.Created = match, conv, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !outcome.Created {
		return outcome, nil
	}

	observability.MatchesCreated.Inc()
	cache.InvalidateMatchLists(ctx, s.redis, low, high)
	if err := s.events.PublishMatchCreated(ctx, outcome.Match, outcome.Conversation); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to publish match event",
			slog.Uint64("match_id", uint64(outcome.Match.ID)),
			slog.String("error", err.Error()),
		)
	}
	return outcome, nil
}

// existingOutcome loads the pair's match and conversation, or returns nil
// when the pair has no match yet.
func (s *MatchService) existingOutcome(ctx context.Context, low, high uint) (*MatchOutcome, error) {
	match, err := s.matchRepo.GetByPair(ctx, low, high)
	if models.IsCode(err, models.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv, err := s.chat.chatRepo.GetConversationByMatch(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	return &MatchOutcome{Match: match, Conversation: conv}, nil
}

// ListMatches returns the user's matches, newest first. Results are cached
// per user and dropped whenever the user gains a match.
func (s *MatchService) ListMatches(ctx context.Context, userID uint) ([]models.MatchSummary, error) {
	return cache.Aside(ctx, s.redis, cache.MatchListKey(userID), cache.MatchListTTL,
		func(ctx context.Context) ([]models.MatchSummary, error) {
			return s.matchRepo.ListForUser(ctx, userID)
		})
}

// GetMatchForUser returns one match seen from userID. A missing match is
// NotFound; someone else's match is AccessDenied.
func (s *MatchService) GetMatchForUser(ctx context.Context, matchID, userID uint) (*models.MatchSummary, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.HasUser(userID) {
		return nil, accessDenied(ctx, "match", matchID, userID)
	}

	summary := &models.MatchSummary{
		MatchID:     match.ID,
		OtherUserID: match.OtherUser(userID),
		CreatedAt:   match.CreatedAt,
	}
	conv, err := s.chat.chatRepo.GetConversationByMatch(ctx, match.ID)
	if err != nil {
		return nil, err
	}
	summary.ConversationID = conv.ID
	return summary, nil
}
