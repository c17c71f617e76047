package validation

import (
	"fmt"

	"mazl/internal/models"
)

// Swipe checks a swipe request and returns the parsed action.
func Swipe(actorID, targetID uint, rawAction string) (models.SwipeAction, error) {
	if actorID == 0 || targetID == 0 {
		return "", fmt.Errorf("target_id is required")
	}
	if actorID == targetID {
		return "", fmt.Errorf("cannot swipe on yourself")
	}
	action, ok := models.ParseSwipeAction(rawAction)
	if !ok {
		return "", fmt.Errorf("action must be one of like, pass, super_like")
	}
	return action, nil
}
