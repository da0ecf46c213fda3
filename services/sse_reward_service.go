package services

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"challenge-engine/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RewardStreamInterval is how often an open stream polls for new rewards.
var RewardStreamInterval = 2 * time.Second

// RewardsSince returns the user's unclaimed rewards created after since, oldest first.
func (s *RewardService) RewardsSince(userID string, since time.Time) ([]models.Reward, error) {
	var rewards []models.Reward
	err := s.DB.
		Where("user_id = ? AND status = ?", userID, models.RewardStatusPublished).
		Where("created_at > ?", since).
		Order("created_at ASC").
		Find(&rewards).Error
	return rewards, err
}

// latestRewardTime is the creation time of the user's newest reward, or zero.
func (s *RewardService) latestRewardTime(userID string) time.Time {
	var latest models.Reward
	err := s.DB.Where("user_id = ?", userID).Order("created_at DESC").First(&latest).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("SSE init error for user %s: %v", userID, err)
		}
		return time.Time{}
	}
	return latest.CreatedAt
}

// writeRewardEvents writes one SSE "reward" event per reward and flushes.
func writeRewardEvents(w *bufio.Writer, rewards []models.Reward) error {
	for _, r := range rewards {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: reward\ndata: %s\n\n", payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

// pollRewards writes the rewards created after cursor, or a keepalive comment
// when there are none, and returns the advanced cursor. A write error means the
// client has gone away.
func (s *RewardService) pollRewards(w *bufio.Writer, userID string, cursor time.Time) (time.Time, error) {
	rewards, err := s.RewardsSince(userID, cursor)
	if err != nil {
		log.Printf("SSE query error for user %s: %v", userID, err)
	}
	if len(rewards) == 0 {
		if _, err := w.WriteString(":\n\n"); err != nil {
			return cursor, err
		}
		return cursor, w.Flush()
	}
	if err := writeRewardEvents(w, rewards); err != nil {
		return cursor, err
	}
	return rewards[len(rewards)-1].CreatedAt, nil
}

// StreamUserRewardsSSE streams rewards as challenges pay them out. Only rewards
// created after the stream opened are sent; the list endpoint covers history.
func (s *RewardService) StreamUserRewardsSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(RewardStreamInterval)
		defer ticker.Stop()

		cursor := s.latestRewardTime(userID)

		// Initial keepalive (comment event)
		_, _ = w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				next, err := s.pollRewards(w, userID, cursor)
				if err != nil {
					// Client disconnected
					return
				}
				cursor = next
			case <-done:
				return
			}
		}
	})
	return nil
}
