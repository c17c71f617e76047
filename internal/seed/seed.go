// Package seed populates the database with synthetic swipes, matches and
// opening messages for development and load testing.
package seed

import (
	"context"
	"fmt"
	"log"
	"time"

	"mazl/internal/models"
	"mazl/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configures a seeding run.
type Options struct {
	NumUsers int
	// FirstUserID is the id given to the first synthetic user; the rest
	// follow consecutively.
	FirstUserID uint
	// LikeRatio is the probability that a decision is positive.
	LikeRatio float64
	// SuperLikeRatio is the share of positive decisions that are super likes.
	SuperLikeRatio   float64
	MessagesPerMatch int
	ShouldClean      bool
	// RandSeed makes runs reproducible. Zero seeds from the clock.
	RandSeed int64
}

// Result counts what a run produced.
type Result struct {
	Swipes   int
	Matches  int
	Messages int
}

// Seeder drives the match and chat services with fake decisions, so seeded
// data passes through the same validation and transactions as real traffic.
type Seeder struct {
	db    *gorm.DB
	match *service.MatchService
	chat  *service.ChatService
	faker *gofakeit.Faker
	opts  Options
}

// NewSeeder creates a Seeder. Zero-valued options fall back to defaults.
func NewSeeder(db *gorm.DB, match *service.MatchService, chat *service.ChatService, opts Options) *Seeder {
	if opts.NumUsers <= 0 {
		opts.NumUsers = 20
	}
	if opts.FirstUserID == 0 {
		opts.FirstUserID = 1
	}
	if opts.LikeRatio <= 0 || opts.LikeRatio > 1 {
		opts.LikeRatio = 0.5
	}
	if opts.SuperLikeRatio < 0 || opts.SuperLikeRatio > 1 {
		opts.SuperLikeRatio = 0
	}
	if opts.MessagesPerMatch < 0 {
		opts.MessagesPerMatch = 0
	}
	seed := opts.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Seeder{
		db:    db,
		match: match,
		chat:  chat,
		faker: gofakeit.New(seed),
		opts:  opts,
	}
}

// UserIDs returns the synthetic user ids this seeder decides for.
func (s *Seeder) UserIDs() []uint {
	ids := make([]uint, s.opts.NumUsers)
	for i := range ids {
		ids[i] = s.opts.FirstUserID + uint(i)
	}
	return ids
}

// Run cleans if requested, then seeds.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	log.Printf("🌱 Seeding swipes among %d users (like ratio %.2f)...", s.opts.NumUsers, s.opts.LikeRatio)
	if s.opts.ShouldClean {
		if err := s.ClearAll(ctx); err != nil {
			return nil, fmt.Errorf("clear data: %w", err)
		}
	}
	res, err := s.SeedSwipes(ctx)
	if err != nil {
		return res, err
	}
	log.Printf("✓ %d swipes, %d matches, %d messages", res.Swipes, res.Matches, res.Messages)
	return res, nil
}

// SeedSwipes has every synthetic user decide about every other one in a
// shuffled order. Each newly created match gets MessagesPerMatch opening
// messages alternating between the two participants.
func (s *Seeder) SeedSwipes(ctx context.Context) (*Result, error) {
	users := s.UserIDs()
	res := &Result{}

	type pair struct{ actor, target uint }
	pairs := make([]pair, 0, len(users)*(len(users)-1))
	for _, a := range users {
		for _, b := range users {
			if a != b {
				pairs = append(pairs, pair{a, b})
			}
		}
	}
	s.faker.ShuffleAnySlice(pairs)

	for _, p := range pairs {
		out, err := s.match.RecordSwipe(ctx, service.RecordSwipeInput{
			ActorID:  p.actor,
			TargetID: p.target,
			Action:   string(s.decide()),
		})
		if err != nil {
			return res, fmt.Errorf("swipe %d->%d: %w", p.actor, p.target, err)
		}
		res.Swipes++

		if !out.Created {
			continue
		}
		res.Matches++

		n, err := s.openConversation(ctx, out.Conversation, p.actor)
		res.Messages += n
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Seeder) decide() models.SwipeAction {
	if s.faker.Float64Range(0, 1) >= s.opts.LikeRatio {
		return models.SwipePass
	}
	if s.faker.Float64Range(0, 1) < s.opts.SuperLikeRatio {
		return models.SwipeSuperLike
	}
	return models.SwipeLike
}

func (s *Seeder) openConversation(ctx context.Context, conv *models.Conversation, first uint) (int, error) {
	sender := first
	for i := 0; i < s.opts.MessagesPerMatch; i++ {
		if _, err := s.chat.AppendMessage(ctx, conv.ID, sender, s.openingLine(i)); err != nil {
			return i, fmt.Errorf("message in conversation %d: %w", conv.ID, err)
		}
		sender = conv.OtherParticipant(sender)
	}
	return s.opts.MessagesPerMatch, nil
}

func (s *Seeder) openingLine(i int) string {
	if i == 0 {
		return s.faker.RandomString([]string{
			"Hey! " + s.faker.Question(),
			"Hi " + s.faker.FirstName() + " here. " + s.faker.HipsterSentence(6),
			s.faker.Hobby() + " fan too?",
		})
	}
	return s.faker.Sentence(s.faker.Number(3, 12))
}

// ClearAll removes every seeded row. Children go first so the statements work
// on databases without cascading deletes.
func (s *Seeder) ClearAll(ctx context.Context) error {
	log.Println("🗑️  Clearing existing data...")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, model := range []interface{}{&models.Message{}, &models.Conversation{}, &models.Match{}, &models.Swipe{}} {
			if err := all.Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
