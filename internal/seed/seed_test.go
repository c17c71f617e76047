package seed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"mazl/internal/models"
	"mazl/internal/repository"
	"mazl/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seed_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Swipe{}, &models.Match{}, &models.Conversation{}, &models.Message{}))
	return db
}

func newTestSeeder(t *testing.T, db *gorm.DB, opts Options) *Seeder {
	t.Helper()
	chat := service.NewChatService(repository.NewChatRepository(db), db, nil, nil)
	match := service.NewMatchService(repository.NewSwipeRepository(db), repository.NewMatchRepository(db), chat, db, nil, nil)
	return NewSeeder(db, match, chat, opts)
}

func count(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestNewSeeder_Defaults(t *testing.T) {
	s := NewSeeder(nil, nil, nil, Options{LikeRatio: 3, MessagesPerMatch: -1})
	assert.Equal(t, 20, s.opts.NumUsers)
	assert.Equal(t, uint(1), s.opts.FirstUserID)
	assert.Equal(t, 0.5, s.opts.LikeRatio)
	assert.Zero(t, s.opts.MessagesPerMatch)

	s = NewSeeder(nil, nil, nil, Options{NumUsers: 3, FirstUserID: 100})
	assert.Equal(t, []uint{100, 101, 102}, s.UserIDs())
}

func TestSeedSwipes_EveryoneLikesEveryone(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSeeder(t, db, Options{NumUsers: 4, LikeRatio: 1, MessagesPerMatch: 3, RandSeed: 42})

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, res.Swipes)
	assert.Equal(t, 6, res.Matches, "one match per unordered pair")
	assert.Equal(t, 18, res.Messages)

	assert.EqualValues(t, 12, count(t, db, &models.Swipe{}))
	assert.EqualValues(t, 6, count(t, db, &models.Match{}))
	assert.EqualValues(t, 6, count(t, db, &models.Conversation{}))
	assert.EqualValues(t, 18, count(t, db, &models.Message{}))

	var senders []uint
	require.NoError(t, db.Model(&models.Message{}).Distinct("sender_id").Pluck("sender_id", &senders).Error)
	assert.Len(t, senders, 4)
}

func TestSeedSwipes_MostlyPasses(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSeeder(t, db, Options{NumUsers: 5, LikeRatio: 0.0001, MessagesPerMatch: 1, RandSeed: 7})

	res, err := s.SeedSwipes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Swipes)
	assert.Equal(t, res.Matches, res.Messages)
	assert.EqualValues(t, res.Matches, count(t, db, &models.Match{}))
}

func TestClearAll(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSeeder(t, db, Options{NumUsers: 3, LikeRatio: 1, MessagesPerMatch: 1, RandSeed: 1})
	ctx := context.Background()

	_, err := s.SeedSwipes(ctx)
	require.NoError(t, err)
	require.NotZero(t, count(t, db, &models.Message{}))

	require.NoError(t, s.ClearAll(ctx))
	for _, model := range []interface{}{&models.Swipe{}, &models.Match{}, &models.Conversation{}, &models.Message{}} {
		assert.Zero(t, count(t, db, model))
	}

	// Reseeding after a clean starts from an empty pair space.
	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matches)
}

func TestDecide_FollowsRatios(t *testing.T) {
	tally := func(opts Options) map[models.SwipeAction]int {
		s := NewSeeder(nil, nil, nil, opts)
		out := map[models.SwipeAction]int{}
		for i := 0; i < 1000; i++ {
			out[s.decide()]++
		}
		return out
	}

	assert.Equal(t, map[models.SwipeAction]int{models.SwipeLike: 1000}, tally(Options{LikeRatio: 1, RandSeed: 3}))
	assert.Equal(t, map[models.SwipeAction]int{models.SwipeSuperLike: 1000}, tally(Options{LikeRatio: 1, SuperLikeRatio: 1, RandSeed: 3}))

	half := tally(Options{LikeRatio: 0.5, RandSeed: 3})
	assert.InDelta(t, 500, half[models.SwipeLike], 100)
	assert.InDelta(t, 500, half[models.SwipePass], 100)
}
