package service

import (
	"context"
	"sync"
	"testing"

	"mazl/internal/cache"
	"mazl/internal/models"
	"mazl/internal/observability"
	"mazl/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchService_RecordSwipe_Validation(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()

	cases := []RecordSwipeInput{
		{ActorID: 1, TargetID: 1, Action: "like"},
		{ActorID: 1, TargetID: 0, Action: "like"},
		{ActorID: 1, TargetID: 2, Action: "wink"},
	}
	for _, in := range cases {
		_, err := s.match.RecordSwipe(ctx, in)
		assert.True(t, models.IsCode(err, models.CodeValidation), "%+v", in)
	}

	var count int64
	require.NoError(t, s.db.Model(&models.Swipe{}).Count(&count).Error)
	assert.Zero(t, count)
}

// Scenario: a one-sided like creates nothing.
func TestMatchService_NoPrematureConversation(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()

	res, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 1, TargetID: 2, Action: "like"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	res, err = s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 2, TargetID: 1, Action: "pass"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	var matches, convs int64
	require.NoError(t, s.db.Model(&models.Match{}).Count(&matches).Error)
	require.NoError(t, s.db.Model(&models.Conversation{}).Count(&convs).Error)
	assert.Zero(t, matches)
	assert.Zero(t, convs)
	assert.Empty(t, s.events.matches)
}

// Scenario: mutual like creates one canonical match with its conversation.
func TestMatchService_MutualLike(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()

	res, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 9, TargetID: 4, Action: "like"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	res, err = s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 4, TargetID: 9, Action: "super_like"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.True(t, res.Created)
	assert.Equal(t, uint(4), res.Match.UserLowID)
	assert.Equal(t, uint(9), res.Match.UserHighID)
	require.NotNil(t, res.Conversation)
	assert.Equal(t, res.Match.ID, res.Conversation.MatchID)
	assert.True(t, res.Conversation.HasParticipant(4))
	assert.True(t, res.Conversation.HasParticipant(9))
	assert.Len(t, s.events.matches, 1)
}

// Scenario: repeating a swipe changes nothing but the timestamp.
func TestMatchService_IdempotentSwipe(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()
	first := s.mutualLike(t, 1, 2)

	again, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 2, TargetID: 1, Action: "like"})
	require.NoError(t, err)
	assert.True(t, again.Matched)
	assert.False(t, again.Created)
	assert.Equal(t, first.Match.ID, again.Match.ID)
	assert.Equal(t, first.Conversation.ID, again.Conversation.ID)

	var swipes, matches int64
	require.NoError(t, s.db.Model(&models.Swipe{}).Count(&swipes).Error)
	require.NoError(t, s.db.Model(&models.Match{}).Count(&matches).Error)
	assert.Equal(t, int64(2), swipes)
	assert.Equal(t, int64(1), matches)
	assert.Len(t, s.events.matches, 1, "only the creator announces the match")
}

func TestMatchService_PassOverwritesLike(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()

	_, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 1, TargetID: 2, Action: "like"})
	require.NoError(t, err)
	_, err = s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 1, TargetID: 2, Action: "pass"})
	require.NoError(t, err)

	res, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 2, TargetID: 1, Action: "like"})
	require.NoError(t, err)
	assert.False(t, res.Matched, "the latest decision wins")
}

// Scenario: both users like each other at the same time.
func TestMatchService_ConcurrentMutualLike(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()

	const pairs = 10
	type result struct {
		res *SwipeResult
		err error
	}
	results := make(chan result, pairs*2)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := uint(0); p < pairs; p++ {
		a, b := 100+p*2, 101+p*2
		for _, in := range []RecordSwipeInput{
			{ActorID: a, TargetID: b, Action: "like"},
			{ActorID: b, TargetID: a, Action: "like"},
		} {
			wg.Add(1)
			go func(in RecordSwipeInput) {
				defer wg.Done()
				<-start
				res, err := s.match.RecordSwipe(ctx, in)
				results <- result{res, err}
			}(in)
		}
	}
	close(start)
	wg.Wait()
	close(results)

	created := map[uint]int{}
	for r := range results {
		require.NoError(t, r.err)
		if r.res.Matched {
			low, _ := models.CanonicalPair(r.res.Match.UserLowID, r.res.Match.UserHighID)
			if r.res.Created {
				created[low]++
			}
		}
	}

	var matches, convs int64
	require.NoError(t, s.db.Model(&models.Match{}).Count(&matches).Error)
	require.NoError(t, s.db.Model(&models.Conversation{}).Count(&convs).Error)
	assert.Equal(t, int64(pairs), matches)
	assert.Equal(t, int64(pairs), convs)
	assert.Len(t, created, pairs)
	for low, n := range created {
		assert.Equal(t, 1, n, "pair starting at %d has a single creator", low)
	}
}

func TestMatchService_TryMatch_NoReciprocal(t *testing.T) {
	s := newTestServices(t, nil)
	outcome, err := s.match.TryMatch(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, outcome)
}

func TestMatchService_GetMatchForUser(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()
	res := s.mutualLike(t, 3, 8)

	got, err := s.match.GetMatchForUser(ctx, res.Match.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, uint(3), got.OtherUserID)
	assert.Equal(t, res.Conversation.ID, got.ConversationID)

	_, err = s.match.GetMatchForUser(ctx, res.Match.ID, 5)
	assert.True(t, models.IsCode(err, models.CodeAccessDenied))

	_, err = s.match.GetMatchForUser(ctx, res.Match.ID+50, 8)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestMatchService_ListMatchesCacheAside(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	db := setupTestDB(t)
	chat := NewChatService(repository.NewChatRepository(db), db, nil, nil)
	svc := NewMatchService(repository.NewSwipeRepository(db), repository.NewMatchRepository(db), chat, db, rdb, nil)
	ctx := context.Background()

	list, err := svc.ListMatches(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, mr.Exists(cache.MatchListKey(1)))

	_, err = svc.RecordSwipe(ctx, RecordSwipeInput{ActorID: 1, TargetID: 2, Action: "like"})
	require.NoError(t, err)
	res, err := svc.RecordSwipe(ctx, RecordSwipeInput{ActorID: 2, TargetID: 1, Action: "like"})
	require.NoError(t, err)
	require.True(t, res.Created)
	assert.False(t, mr.Exists(cache.MatchListKey(1)), "match creation invalidates both lists")

	list, err = svc.ListMatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint(2), list[0].OtherUserID)
	assert.Equal(t, res.Conversation.ID, list[0].ConversationID)

	cached, err := svc.ListMatches(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, list[0].MatchID, cached[0].MatchID)
}

// lateMatchRepository hides existing matches from the first GetByPair, the
// view of a request that checked just before a concurrent insert committed.
type lateMatchRepository struct {
	repository.MatchRepository
	hidden int
}

func (r *lateMatchRepository) GetByPair(ctx context.Context, lowID, highID uint) (*models.Match, error) {
	if r.hidden > 0 {
		r.hidden--
		return nil, models.NewNotFoundError("Match", lowID)
	}
	return r.MatchRepository.GetByPair(ctx, lowID, highID)
}

func TestMatchService_RaceCounter(t *testing.T) {
	s := newTestServices(t, nil)
	ctx := context.Background()
	first := s.mutualLike(t, 1, 2)
	require.True(t, first.Created)

	before := testutil.ToFloat64(observability.MatchRaces)

	// A repeat like finds the match up front: not a race.
	res, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: 1, TargetID: 2, Action: "like"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.False(t, res.Created)
	assert.Equal(t, first.Match.ID, res.Match.ID)
	assert.Equal(t, before, testutil.ToFloat64(observability.MatchRaces))

	// The insert loses to a row it did not see beforehand: a race.
	late := &lateMatchRepository{MatchRepository: repository.NewMatchRepository(s.db), hidden: 1}
	racer := NewMatchService(repository.NewSwipeRepository(s.db), late, s.chat, s.db, nil, s.events)
	outcome, err := racer.TryMatch(ctx, 2, 1)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Created)
	assert.Equal(t, first.Match.ID, outcome.Match.ID)
	assert.Equal(t, first.Conversation.ID, outcome.Conversation.ID)
	assert.Equal(t, before+1, testutil.ToFloat64(observability.MatchRaces))
	assert.Len(t, s.events.matches, 1, "only the creator announces the match")
}
