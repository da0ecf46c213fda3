// handlers/challenge_routes.go
package handlers

import (
	"errors"
	"log"
	"time"

	"challenge-engine/engine"
	"challenge-engine/middleware"
	"challenge-engine/models"
	"challenge-engine/services"

	"github.com/gofiber/fiber/v2"
)

type createChallengeRequest struct {
	Title                string                  `json:"title"`
	Description          string                  `json:"description"`
	Type                 models.ChallengeType    `json:"type"`
	Goal                 models.Goal             `json:"goal"`
	StartDate            time.Time               `json:"start_date"`
	EndDate              time.Time               `json:"end_date"`
	Visibility           models.Visibility       `json:"visibility"`
	RequiresApproval     bool                    `json:"requires_approval"`
	MaxParticipants      int                     `json:"max_participants"`
	JoinCode             string                  `json:"join_code"`
	WinnerReward         models.RewardDescriptor `json:"winner_reward"`
	Milestones           []models.Milestone      `json:"milestones"`
	AllowedActivityTypes []models.ActivityType   `json:"allowed_activity_types"`
}

type contributionRequest struct {
	ActivityID      string              `json:"activity_id"`
	SportType       models.ActivityType `json:"sport_type"`
	Distance        float64             `json:"distance"`
	Elevation       float64             `json:"elevation"`
	DurationSeconds float64             `json:"duration_seconds"`
	Calories        float64             `json:"calories"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

type challengeResponse struct {
	*models.Challenge
	DurationDays int `json:"duration_days"`
}

// SetupChallengeRoutes registers the challenge API. Every route acts on behalf
// of the user forwarded by the gateway; ingestion routes are rate limited per user.
func SetupChallengeRoutes(app *fiber.App, challengeService *services.ChallengeService, limiter *middleware.RateLimiter) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	ingest := []fiber.Handler{}
	if limiter != nil {
		ingest = append(ingest, limiter.Handler())
	}

	secured.Post("/challenges", func(c *fiber.Ctx) error {
		var req createChallengeRequest
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		challenge, err := challengeService.CreateChallenge(c.UserContext(), engine.Definition{
			CreatorID:            middleware.UserID(c),
			Title:                req.Title,
			Description:          req.Description,
			Type:                 req.Type,
			Goal:                 req.Goal,
			StartDate:            req.StartDate,
			EndDate:              req.EndDate,
			Visibility:           req.Visibility,
			RequiresApproval:     req.RequiresApproval,
			MaxParticipants:      req.MaxParticipants,
			JoinCode:             req.JoinCode,
			WinnerReward:         req.WinnerReward,
			Milestones:           req.Milestones,
			AllowedActivityTypes: req.AllowedActivityTypes,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(challenge)
	})

	secured.Get("/challenges/code/:code", func(c *fiber.Ctx) error {
		challenge, err := challengeService.ResolveJoinCode(c.UserContext(), c.Params("code"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"id":         challenge.ID,
			"title":      challenge.Title,
			"visibility": challenge.Visibility,
			"status":     challenge.Status,
			"start_date": challenge.StartDate,
			"end_date":   challenge.EndDate,
		})
	})

	secured.Get("/challenges/:id", func(c *fiber.Ctx) error {
		challenge, err := challengeService.GetChallenge(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		// The join code is only shown to the creator.
		if challenge.CreatorID != middleware.UserID(c) {
			challenge.JoinCode = nil
		}
		return c.JSON(challengeResponse{Challenge: challenge, DurationDays: challenge.DurationDays()})
	})

	secured.Post("/challenges/:id/join", func(c *fiber.Ctx) error {
		var req struct {
			JoinCode string `json:"join_code"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badJSON(c, err)
			}
		}
		res, err := challengeService.JoinChallenge(c.UserContext(), c.Params("id"), middleware.UserID(c), req.JoinCode)
		if err != nil {
			return writeError(c, err)
		}
		status := fiber.StatusOK
		if res.Pending {
			status = fiber.StatusAccepted
		}
		return c.Status(status).JSON(fiber.Map{
			"participant": res.Participant,
			"pending":     res.Pending,
			"rejoined":    res.Rejoined,
		})
	})

	secured.Post("/challenges/:id/leave", func(c *fiber.Ctx) error {
		p, err := challengeService.LeaveChallenge(c.UserContext(), c.Params("id"), middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(p)
	})

	secured.Post("/challenges/:id/participants/:user_id/approve", func(c *fiber.Ctx) error {
		p, err := challengeService.ApproveParticipant(c.UserContext(), c.Params("id"), middleware.UserID(c), c.Params("user_id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(p)
	})

	secured.Post("/challenges/:id/participants/:user_id/reject", func(c *fiber.Ctx) error {
		p, err := challengeService.RejectParticipant(c.UserContext(), c.Params("id"), middleware.UserID(c), c.Params("user_id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(p)
	})

	secured.Post("/challenges/:id/invites", func(c *fiber.Ctx) error {
		var req struct {
			UserID string `json:"user_id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		invite, err := challengeService.InviteUser(c.UserContext(), c.Params("id"), middleware.UserID(c), req.UserID)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(invite)
	})

	secured.Patch("/challenges/:id/status", func(c *fiber.Ctx) error {
		var req struct {
			Status models.ChallengeStatus `json:"status"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		challenge, err := challengeService.UpdateStatus(c.UserContext(), c.Params("id"), middleware.UserID(c), req.Status)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"id":           challenge.ID,
			"status":       challenge.Status,
			"winner_id":    challenge.WinnerID,
			"completed_at": challenge.CompletedAt,
		})
	})

	secured.Get("/challenges/:id/leaderboard", func(c *fiber.Ctx) error {
		entries, err := challengeService.GetLeaderboard(c.UserContext(), c.Params("id"), c.QueryBool("persist", false))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{
			"challenge_id": c.Params("id"),
			"entries":      entries,
		})
	})

	secured.Post("/challenges/:id/repair", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if !middleware.HasRole(c, "admin") {
			challenge, err := challengeService.GetChallenge(c.UserContext(), id)
			if err != nil {
				return writeError(c, err)
			}
			if challenge.CreatorID != middleware.UserID(c) {
				return writeError(c, engine.ErrNotCreator)
			}
		}
		drifted, err := challengeService.RepairTotals(c.UserContext(), id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"challenge_id": id, "repaired": drifted})
	})

	secured.Post("/challenges/:id/contributions", append(ingest, func(c *fiber.Ctx) error {
		var req contributionRequest
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		res, err := challengeService.RecordActivityContribution(c.UserContext(), c.Params("id"), middleware.UserID(c), services.ActivityInput{
			ActivityID: req.ActivityID,
			SportType:  req.SportType,
			Contribution: engine.Contribution{
				Distance:        req.Distance,
				Elevation:       req.Elevation,
				DurationSeconds: req.DurationSeconds,
				Calories:        req.Calories,
			},
			OccurredAt: req.OccurredAt,
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(res)
	})...)

	secured.Post("/activities", append(ingest, func(c *fiber.Ctx) error {
		var ev services.ActivityEvent
		if err := c.BodyParser(&ev); err != nil {
			return badJSON(c, err)
		}
		userID := middleware.UserID(c)
		ev.UserID = userID
		results, err := challengeService.OnActivityCompleted(c.UserContext(), userID, ev)
		if err != nil {
			// Partial failures still report what was applied.
			log.Printf("[Challenge] activity %s for %s partially failed: %v", ev.ActivityID, userID, err)
			return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
				"results": results,
				"error":   err.Error(),
			})
		}
		return c.JSON(fiber.Map{"results": results})
	})...)

	secured.Get("/user/challenges/active", func(c *fiber.Ctx) error {
		challenges, err := challengeService.ListActiveChallengesForUser(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(challenges)
	})
}

func badJSON(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid JSON",
		"cause": err.Error(),
	})
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{engine.ErrInvalidGoal, fiber.StatusBadRequest},
	{engine.ErrInvalidTimeWindow, fiber.StatusBadRequest},
	{engine.ErrInvalidDefinition, fiber.StatusBadRequest},
	{engine.ErrInvalidMilestone, fiber.StatusBadRequest},
	{engine.ErrInvalidContribution, fiber.StatusBadRequest},
	{engine.ErrActivityTypeNotAllowed, fiber.StatusBadRequest},
	{engine.ErrAccessDenied, fiber.StatusForbidden},
	{engine.ErrNotCreator, fiber.StatusForbidden},
	{engine.ErrNotFound, fiber.StatusNotFound},
	{engine.ErrNotAParticipant, fiber.StatusNotFound},
	{engine.ErrChallengeFull, fiber.StatusConflict},
	{engine.ErrAlreadyJoined, fiber.StatusConflict},
	{engine.ErrApprovalPending, fiber.StatusConflict},
	{engine.ErrDuplicateJoinCode, fiber.StatusConflict},
	{engine.ErrChallengeClosed, fiber.StatusConflict},
	{engine.ErrChallengeNotActive, fiber.StatusConflict},
	{engine.ErrInvalidStatusTransition, fiber.StatusConflict},
	{services.ErrRewardAlreadyClaimed, fiber.StatusConflict},
	{engine.ErrConcurrentUpdateFailed, fiber.StatusServiceUnavailable},
}

// writeError maps domain errors onto HTTP statuses. Anything unknown is a 500.
func writeError(c *fiber.Ctx, err error) error {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return c.Status(e.status).JSON(fiber.Map{"error": err.Error()})
		}
	}
	log.Printf("❌ [Challenge] %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"cause": err.Error(),
	})
}
