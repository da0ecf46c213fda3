// services/contribution_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"challenge-engine/engine"
	"challenge-engine/metrics"
	"challenge-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityInput is one contribution to one challenge.
type ActivityInput struct {
	// ActivityID identifies the activity at its source. Contributions with an
	// id are applied at most once per challenge and user.
	ActivityID   string
	SportType    models.ActivityType
	Contribution engine.Contribution
	OccurredAt   time.Time
	RecordedAt   time.Time
}

// ContributionResult describes the committed effect of a contribution.
type ContributionResult struct {
	ChallengeID  string               `json:"challenge_id"`
	Progress     models.Progress      `json:"progress"`
	Achievements []models.Achievement `json:"achievements"`
	Events       []engine.Event       `json:"events,omitempty"`
	// Duplicate is set when the activity had already been applied; nothing changed.
	Duplicate bool `json:"duplicate"`
}

// RecordActivityContribution applies one activity to userID's progress on a
// challenge, evaluates milestones and the win condition, and pays out
// rewards once the update has committed.
func (s *ChallengeService) RecordActivityContribution(ctx context.Context, challengeID, userID string, in ActivityInput) (*ContributionResult, error) {
	if err := in.Contribution.Validate(); err != nil {
		metrics.Activities.WithLabelValues("rejected").Inc()
		return nil, err
	}
	sport := models.ActivityType(strings.ToLower(strings.TrimSpace(string(in.SportType))))
	if sport == "" {
		sport = models.ActivityOther
	}
	activityID := strings.TrimSpace(in.ActivityID)

	var res ContributionResult
	c, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		res = ContributionResult{ChallengeID: challengeID}

		if activityID != "" {
			var n int64
			if err := tx.Model(&models.ActivityContribution{}).
				Where("challenge_id = ? AND user_id = ? AND activity_id = ?", challengeID, userID, activityID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				res.Duplicate = true
				if p := engine.FindParticipant(c, userID); p != nil {
					res.Progress = p.Progress
				}
				return nil
			}
		}

		if err := engine.CheckActivityType(c, sport); err != nil {
			return err
		}
		now := s.clock()
		occurred := in.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}
		if c.Status != models.StatusActive || occurred.Before(c.StartDate) || occurred.After(c.EndDate) {
			return engine.ErrChallengeNotActive
		}

		p, err := engine.ApplyActivity(c, userID, in.Contribution)
		if err != nil {
			return err
		}
		seen := len(p.Achievements)
		events, evalErrs := engine.Evaluate(c, p, now)
		for _, e := range evalErrs {
			log.Printf("[Challenge] milestone skipped on %s: %v", challengeID, e)
		}

		recorded := in.RecordedAt
		if recorded.IsZero() {
			recorded = now
		}
		entry := models.ActivityContribution{
			ID:              uuid.NewString(),
			ChallengeID:     challengeID,
			UserID:          userID,
			SportType:       sport,
			Distance:        in.Contribution.Distance,
			Elevation:       in.Contribution.Elevation,
			DurationSeconds: in.Contribution.DurationSeconds,
			Calories:        in.Contribution.Calories,
			Collective:      c.Goal.IsCollective,
			OccurredAt:      occurred.UTC(),
			RecordedAt:      recorded.UTC(),
		}
		if activityID != "" {
			entry.ActivityID = &activityID
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("record contribution: %w", err)
		}

		res.Progress = p.Progress
		res.Events = events
		// Evaluate may also credit other participants (collective goals); the
		// caller only sees its own new achievements.
		res.Achievements = append([]models.Achievement(nil), p.Achievements[seen:]...)
		return nil
	})
	if err != nil {
		metrics.Activities.WithLabelValues(activityLabel(err)).Inc()
		return nil, err
	}
	if res.Duplicate {
		metrics.Activities.WithLabelValues("duplicate").Inc()
		return &res, nil
	}

	// New achievement ids are assigned during save; reread them from the aggregate.
	if p := engine.FindParticipant(c, userID); p != nil {
		n := len(res.Achievements)
		if n > 0 && len(p.Achievements) >= n {
			res.Achievements = append([]models.Achievement(nil), p.Achievements[len(p.Achievements)-n:]...)
		}
	}

	metrics.Activities.WithLabelValues("applied").Inc()
	s.dispatch(ctx, c, res.Events, "goal")
	return &res, nil
}

func activityLabel(err error) string {
	switch {
	case errors.Is(err, engine.ErrActivityTypeNotAllowed):
		return "type_not_allowed"
	case errors.Is(err, engine.ErrNotAParticipant):
		return "not_participant"
	case errors.Is(err, engine.ErrChallengeNotActive):
		return "not_active"
	case errors.Is(err, engine.ErrInvalidContribution):
		return "rejected"
	}
	return "error"
}

// ActivityEvent is a completed workout as reported by the activity source.
type ActivityEvent struct {
	ActivityID      string              `json:"activity_id"`
	UserID          string              `json:"user_id"`
	SportType       models.ActivityType `json:"sport_type"`
	DistanceKm      float64             `json:"distance_km"`
	DurationSeconds float64             `json:"duration_seconds"`
	ElevationM      float64             `json:"elevation_m"`
	Calories        float64             `json:"calories"`
	OccurredAt      time.Time           `json:"occurred_at"`
	RecordedAt      time.Time           `json:"recorded_at"`
}

// OnActivityCompleted fans a finished activity out to every active challenge
// of the user that accepts its sport and window. Per-challenge failures are
// collected; one bad challenge never blocks the others.
func (s *ChallengeService) OnActivityCompleted(ctx context.Context, userID string, ev ActivityEvent) ([]ContributionResult, error) {
	challenges, err := s.ListActiveChallengesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	}
	sport := models.ActivityType(strings.ToLower(strings.TrimSpace(string(ev.SportType))))
	if sport == "" {
		sport = models.ActivityOther
	}

	var results []ContributionResult
	var errs []error
	for i := range challenges {
		c := &challenges[i]
		if occurred.Before(c.StartDate) || occurred.After(c.EndDate) {
			continue
		}
		if engine.CheckActivityType(c, sport) != nil {
			continue
		}
		res, err := s.RecordActivityContribution(ctx, c.ID, userID, ActivityInput{
			ActivityID: ev.ActivityID,
			SportType:  sport,
			Contribution: engine.Contribution{
				Distance:        ev.DistanceKm,
				Elevation:       ev.ElevationM,
				DurationSeconds: ev.DurationSeconds,
				Calories:        ev.Calories,
			},
			OccurredAt: occurred,
			RecordedAt: ev.RecordedAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("challenge %s: %w", c.ID, err))
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// dispatch turns committed events into points, badges and reward entries.
// Failures are logged; the challenge update has already succeeded.
func (s *ChallengeService) dispatch(ctx context.Context, c *models.Challenge, events []engine.Event, trigger string) {
	for _, ev := range events {
		switch ev.Kind {
		case engine.EventMilestoneReached:
			log.Printf("🎯 [Challenge] %s reached milestone %s on %s", ev.UserID, ev.MilestoneID, c.ID)
			s.payOut(ev, CounterMilestones, models.RewardCategoryMilestone, c.ID+":milestone:"+ev.MilestoneID)
		case engine.EventGoalCompleted:
			log.Printf("✅ [Challenge] %s completed the goal on %s", ev.UserID, c.ID)
			s.addPoints(ev.UserID, DefaultPointWeights.CompletionPoints, "goal_completed:"+c.ID, CounterCompleted)
		case engine.EventChallengeWon:
			log.Printf("🏆 [Challenge] %s won %s", ev.UserID, c.ID)
			s.payOut(ev, CounterWon, models.RewardCategoryWinner, c.ID+":winner")
		case engine.EventCollectiveGoalReached:
			log.Printf("🤝 [Challenge] collective goal reached on %s, crediting %s", c.ID, ev.UserID)
			s.payOut(ev, CounterCompleted, models.RewardCategoryCollective, c.ID+":collective")
		case engine.EventChallengeCompleted:
			metrics.Completions.WithLabelValues(trigger).Inc()
			log.Printf("🏁 [Challenge] %s completed (%s)", c.ID, trigger)
			s.archiveSnapshot(ctx, c)
		}
	}
}

func (s *ChallengeService) payOut(ev engine.Event, counter Counter, category models.RewardCategory, sourceKey string) {
	s.addPoints(ev.UserID, ev.Points, sourceKey, counter)

	if ev.Badge != "" && s.Badges != nil {
		if _, err := s.Badges.AwardBadge(ev.UserID, ev.Badge, ev.ChallengeID, ev.Title); err != nil {
			log.Printf("[Challenge] badge %s for %s failed: %v", ev.Badge, ev.UserID, err)
		}
	}

	if s.Rewards == nil || (ev.Title == "" && ev.Badge == "" && ev.Points == 0) {
		return
	}
	title := ev.Title
	if title == "" {
		title = string(category)
	}
	if _, err := s.Rewards.Issue(models.Reward{
		UserID:      ev.UserID,
		ChallengeID: ev.ChallengeID,
		SourceKey:   sourceKey,
		Category:    category,
		Title:       title,
		Badge:       ev.Badge,
		Points:      ev.Points,
	}); err != nil {
		log.Printf("[Challenge] reward %s for %s failed: %v", sourceKey, ev.UserID, err)
	}
}

func (s *ChallengeService) addPoints(userID string, points int64, reason string, counter Counter) {
	if s.Progression == nil {
		return
	}
	if _, err := s.Progression.AwardPoints(userID, points, reason, counter); err != nil {
		log.Printf("[Challenge] points for %s failed (%s): %v", userID, reason, err)
	}
}

type leaderboardSnapshot struct {
	ChallengeID string          `json:"challenge_id"`
	Title       string          `json:"title"`
	WinnerID    *string         `json:"winner_id,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Total       models.Progress `json:"total_progress"`
	Entries     []engine.Entry  `json:"entries"`
}

// archiveSnapshot uploads the final leaderboard and stores its URL.
func (s *ChallengeService) archiveSnapshot(ctx context.Context, c *models.Challenge) {
	if s.archiver == nil {
		return
	}
	entries, err := engine.Leaderboard(c)
	if err != nil {
		log.Printf("[Challenge] snapshot of %s skipped: %v", c.ID, err)
		return
	}
	body, err := json.Marshal(leaderboardSnapshot{
		ChallengeID: c.ID,
		Title:       c.Title,
		WinnerID:    c.WinnerID,
		CompletedAt: c.CompletedAt,
		Total:       c.TotalProgress,
		Entries:     entries,
	})
	if err != nil {
		log.Printf("[Challenge] snapshot of %s failed: %v", c.ID, err)
		return
	}

	url, err := s.archiver.ArchiveLeaderboard(ctx, "challenges/"+c.ID+"/leaderboard.json", body)
	if err != nil {
		log.Printf("[Challenge] snapshot upload for %s failed: %v", c.ID, err)
		return
	}
	if err := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("id = ?", c.ID).
		Update("snapshot_url", url).Error; err != nil {
		log.Printf("[Challenge] saving snapshot url for %s failed: %v", c.ID, err)
		return
	}
	c.SnapshotURL = url
	log.Printf("☁️ [Challenge] archived leaderboard of %s to %s", c.ID, url)
}
