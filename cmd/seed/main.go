// Command main seeds the database with synthetic swipes and conversations.
package main

import (
	"context"
	"flag"
	"log"

	"mazl/internal/config"
	"mazl/internal/database"
	"mazl/internal/repository"
	"mazl/internal/seed"
	"mazl/internal/service"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of synthetic users")
	firstID := flag.Uint("first-id", 1, "ID of the first synthetic user")
	likeRatio := flag.Float64("like-ratio", 0.5, "Probability that a decision is a like")
	superRatio := flag.Float64("super-ratio", 0.1, "Share of likes that are super likes")
	messages := flag.Int("messages", 3, "Opening messages per new match")
	shouldClean := flag.Bool("clean", false, "Delete swipes, matches and messages before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 uses the clock)")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users from id %d, like ratio %.2f, clean=%v", *numUsers, *firstID, *likeRatio, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	// Events and presence stay off: seeded activity should not reach
	// the push collaborator.
	chat := service.NewChatService(repository.NewChatRepository(db), db, nil, nil)
	match := service.NewMatchService(repository.NewSwipeRepository(db), repository.NewMatchRepository(db), chat, db, nil, nil)

	s := seed.NewSeeder(db, match, chat, seed.Options{
		NumUsers:         *numUsers,
		FirstUserID:      uint(*firstID),
		LikeRatio:        *likeRatio,
		SuperLikeRatio:   *superRatio,
		MessagesPerMatch: *messages,
		ShouldClean:      *shouldClean,
		RandSeed:         *randSeed,
	})
	if _, err := s.Run(context.Background()); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("✨ All done! Mint tokens for the seeded ids with cmd/chattest -print-token.")
}
