// Package models contains data structures for the application's domain models.
package models

import (
	"strings"
	"time"
)

// SwipeAction is a unilateral decision one user makes about another.
type SwipeAction string

const (
	SwipeLike      SwipeAction = "like"
	SwipePass      SwipeAction = "pass"
	SwipeSuperLike SwipeAction = "super_like"
)

// ParseSwipeAction normalizes raw input into a known action.
func ParseSwipeAction(raw string) (SwipeAction, bool) {
	switch action := SwipeAction(strings.ToLower(strings.TrimSpace(raw))); action {
	case SwipeLike, SwipePass, SwipeSuperLike:
		return action, true
	default:
		return "", false
	}
}

// IsPositive reports whether the action expresses interest.
func (a SwipeAction) IsPositive() bool {
	return a == SwipeLike || a == SwipeSuperLike
}

// Swipe is the latest decision for an ordered (actor, target) pair.
type Swipe struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ActorID   uint        `gorm:"not null;uniqueIndex:idx_swipes_actor_target,priority:1;check:chk_swipes_not_self,actor_id <> target_id" json:"actor_id"`
	TargetID  uint        `gorm:"not null;uniqueIndex:idx_swipes_actor_target,priority:2;index" json:"target_id"`
	Action    SwipeAction `gorm:"size:16;not null" json:"action"`
	DecidedAt time.Time   `gorm:"not null" json:"decided_at"`
}

// TableName returns the database table name for Swipe.
func (Swipe) TableName() string {
	return "swipes"
}
