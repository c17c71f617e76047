package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"mazl/internal/models"
	"mazl/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory sqlite database on a single
// connection so transactions serialize instead of failing with SQLITE_LOCKED.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

type testServices struct {
	db     *gorm.DB
	chat   *ChatService
	match  *MatchService
	events *recordingPublisher
}

func newTestServices(t *testing.T, presence PresenceReader) *testServices {
	t.Helper()
	db := setupTestDB(t)
	pub := &recordingPublisher{}
	chat := NewChatService(repository.NewChatRepository(db), db, presence, pub)
	match := NewMatchService(repository.NewSwipeRepository(db), repository.NewMatchRepository(db), chat, db, nil, pub)
	return &testServices{db: db, chat: chat, match: match, events: pub}
}

// mutualLike makes a and b like each other and returns the second result.
func (s *testServices) mutualLike(t *testing.T, a, b uint) *SwipeResult {
	t.Helper()
	ctx := context.Background()
	_, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: a, TargetID: b, Action: "like"})
	require.NoError(t, err)
	res, err := s.match.RecordSwipe(ctx, RecordSwipeInput{ActorID: b, TargetID: a, Action: "like"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	return res
}

type recordingPublisher struct {
	mu       sync.Mutex
	matches  []*models.Match
	messages []*models.Message
	err      error
}

func (p *recordingPublisher) PublishMatchCreated(_ context.Context, match *models.Match, _ *models.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches = append(p.matches, match)
	return p.err
}

func (p *recordingPublisher) PublishMessageCreated(_ context.Context, msg *models.Message, _ uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

type presenceStub map[uint]bool

func (p presenceStub) Online(_ context.Context, ids []uint) map[uint]bool {
	out := make(map[uint]bool, len(ids))
	for _, id := range ids {
		out[id] = p[id]
	}
	return out
}

type chatRepoStub struct {
	getConversationFn func(context.Context, uint) (*models.Conversation, error)
	createMessageFn   func(context.Context, *models.Message) error
	getMessagesFn     func(context.Context, uint, int, int) ([]models.Message, error)
	markReadFn        func(context.Context, uint, uint, time.Time) (int64, error)
}

func (s *chatRepoStub) CreateConversationIfAbsent(context.Context, *models.Conversation) (bool, error) {
	return true, nil
}
func (s *chatRepoStub) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	return s.getConversationFn(ctx, id)
}
func (s *chatRepoStub) GetConversationByMatch(_ context.Context, matchID uint) (*models.Conversation, error) {
	return nil, models.NewNotFoundError("Conversation for match", matchID)
}
func (s *chatRepoStub) ListConversations(context.Context, uint) ([]models.ConversationSummary, error) {
	return nil, nil
}
func (s *chatRepoStub) TouchLastMessage(context.Context, uint, time.Time) error { return nil }
func (s *chatRepoStub) CreateMessage(ctx context.Context, msg *models.Message) error {
	return s.createMessageFn(ctx, msg)
}
func (s *chatRepoStub) GetMessages(ctx context.Context, convID uint, limit, offset int) ([]models.Message, error) {
	return s.getMessagesFn(ctx, convID, limit, offset)
}
func (s *chatRepoStub) MarkRead(ctx context.Context, convID, readerID uint, at time.Time) (int64, error) {
	return s.markReadFn(ctx, convID, readerID, at)
}

func noopChatRepo() *chatRepoStub {
	return &chatRepoStub{
		getConversationFn: func(_ context.Context, id uint) (*models.Conversation, error) {
			return &models.Conversation{ID: id, MatchID: 1, UserLowID: 1, UserHighID: 2}, nil
		},
		createMessageFn: func(context.Context, *models.Message) error { return nil },
		getMessagesFn:   func(context.Context, uint, int, int) ([]models.Message, error) { return nil, nil },
		markReadFn:      func(context.Context, uint, uint, time.Time) (int64, error) { return 0, nil },
	}
}
