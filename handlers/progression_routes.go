// handlers/progression_routes.go
package handlers

import (
	"challenge-engine/middleware"
	"challenge-engine/services"

	"github.com/gofiber/fiber/v2"
)

func SetupProgressionRoutes(app *fiber.App, progressionService *services.ProgressionService, badgeService *services.BadgeService, rewardService *services.RewardService) {
	// 🔐 The gateway forwards paths like /api/v1/challenges/s/user/progress -> /user/progress
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/user/progress", func(c *fiber.Ctx) error {
		prog, err := progressionService.GetProgress(middleware.UserID(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load progress record",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"id":                   prog.ID,
			"points":               prog.TotalPoints,
			"level":                prog.Level,
			"rank":                 prog.Rank,
			"rank_name":            services.RankName(prog.Rank),
			"challenges_joined":    prog.ChallengesJoined,
			"challenges_completed": prog.ChallengesCompleted,
			"challenges_won":       prog.ChallengesWon,
			"milestones_earned":    prog.MilestonesEarned,
			"last_level_up_at":     prog.LastLevelUpAt,
			"last_rank_up_at":      prog.LastRankUpAt,
		})
	})

	securedGroup.Get("/user/progress/badges", func(c *fiber.Ctx) error {
		userBadges, err := badgeService.ListUserBadges(middleware.UserID(c))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to get badges",
				"cause": err.Error(),
			})
		}

		response := make([]fiber.Map, 0, len(userBadges))
		for _, ub := range userBadges {
			response = append(response, fiber.Map{
				"id":            ub.ID,
				"badge_type_id": ub.BadgeType.ID,
				"code":          ub.BadgeType.Code,
				"name":          ub.BadgeType.Name,
				"description":   ub.BadgeType.Description,
				"icon_url":      ub.BadgeType.IconURL,
				"rarity":        ub.BadgeType.Rarity,
				"challenge_id":  ub.ChallengeID,
				"awarded_at":    ub.AwardedAt,
			})
		}
		return c.JSON(response)
	})

	securedGroup.Get("/user/rewards", func(c *fiber.Ctx) error {
		rewards, err := rewardService.ListUserRewards(middleware.UserID(c), c.QueryBool("unviewed", false))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to get rewards",
				"cause": err.Error(),
			})
		}
		return c.JSON(rewards)
	})

	securedGroup.Get("/user/rewards/stream", rewardService.StreamUserRewardsSSE)

	securedGroup.Patch("/user/rewards/:id/viewed", func(c *fiber.Ctx) error {
		if err := rewardService.MarkViewed(middleware.UserID(c), c.Params("id")); err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"message": "reward marked as viewed"})
	})

	securedGroup.Post("/user/rewards/:id/claim", func(c *fiber.Ctx) error {
		reward, err := rewardService.Claim(middleware.UserID(c), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(reward)
	})
}
