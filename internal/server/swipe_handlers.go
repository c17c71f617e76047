package server

import (
	"mazl/internal/models"
	"mazl/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RecordSwipeRequest is the body of POST /api/swipes.
type RecordSwipeRequest struct {
	TargetID uint   `json:"target_id"`
	Action   string `json:"action"`
}

// RecordSwipe handles POST /api/swipes
// @Summary Record a swipe
// @Description Store the caller's latest decision about another user. A mutual like creates a match and its conversation.
// @Tags matching
// @Accept json
// @Produce json
// @Param request body RecordSwipeRequest true "Swipe"
// @Success 200 {object} service.SwipeResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /swipes [post]
func (s *Server) RecordSwipe(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var req RecordSwipeRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	res, err := s.matchService.RecordSwipe(ctx, service.RecordSwipeInput{
		ActorID:  userID,
		TargetID: req.TargetID,
		Action:   req.Action,
	})
	if err != nil {
		return respondServiceError(c, err)
	}

	s.publishMatchCreated(ctx, userID, res)
	return c.JSON(res)
}

// GetMatches handles GET /api/matches
// @Summary List matches
// @Description List the caller's matches, newest first.
// @Tags matching
// @Produce json
// @Success 200 {array} models.MatchSummary
// @Security BearerAuth
// @Router /matches [get]
func (s *Server) GetMatches(c *fiber.Ctx) error {
	matches, err := s.matchService.ListMatches(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	if matches == nil {
		matches = []models.MatchSummary{}
	}
	return c.JSON(matches)
}

// GetMatch handles GET /api/matches/:id
// @Summary Get a match
// @Tags matching
// @Produce json
// @Param id path int true "Match ID"
// @Success 200 {object} models.MatchSummary
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /matches/{id} [get]
func (s *Server) GetMatch(c *fiber.Ctx) error {
	matchID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	match, err := s.matchService.GetMatchForUser(c.UserContext(), matchID, currentUserID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(match)
}
