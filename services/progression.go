package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"challenge-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PointWeights define the fixed point values that do not come from a
// challenge's own reward descriptors.
type PointWeights struct {
	JoinPoints       int64
	CompletionPoints int64
}

var DefaultPointWeights = PointWeights{
	JoinPoints:       10,
	CompletionPoints: 100,
}

// Points needed for the next level grow as BasePointsPerLevel * level^1.2.
const BasePointsPerLevel = 100

func pointsForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	return int64(float64(BasePointsPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// levelThreshold is the cumulative total needed to reach level.
func levelThreshold(level int) int64 {
	var total int64
	for l := 1; l < level; l++ {
		total += pointsForNextLevel(l)
	}
	return total
}

// RankThresholds maps rank → minimum level.
var RankThresholds = map[int]int{
	1: 1,   // Rookie
	2: 5,   // Bronze
	3: 10,  // Silver
	4: 25,  // Gold
	5: 50,  // Platinum
	6: 100, // Diamond
}

func determineRank(level int) int {
	for rank := len(RankThresholds); rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

// Counter names a UserProgress counter that an award may bump.
type Counter string

const (
	CounterJoined     Counter = "challenges_joined"
	CounterCompleted  Counter = "challenges_completed"
	CounterWon        Counter = "challenges_won"
	CounterMilestones Counter = "milestones_earned"
)

type ProgressionService struct {
	DB     *gorm.DB
	Badges *BadgeService
	now    func() time.Time
}

func NewProgressionService(db *gorm.DB, badges *BadgeService) *ProgressionService {
	return &ProgressionService{DB: db, Badges: badges, now: time.Now}
}

// EnsureProgressRecord ensures a UserProgress row exists (idempotent, race safe).
func (s *ProgressionService) EnsureProgressRecord(externalUserID string) (*models.UserProgress, error) {
	prog := models.UserProgress{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Level:          1,
		Rank:           1,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}},
		DoNothing: true,
	}).Create(&prog).Error; err != nil {
		return nil, fmt.Errorf("create progress record: %w", err)
	}

	var stored models.UserProgress
	if err := s.DB.Where("external_user_id = ?", externalUserID).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("load progress record: %w", err)
	}
	return &stored, nil
}

// AwardPoints atomically adds points and bumps counters, then levels and
// ranks the user up. Badges are evaluated after the transaction commits.
func (s *ProgressionService) AwardPoints(externalUserID string, points int64, reason string, counters ...Counter) (*models.UserProgress, error) {
	if points < 0 {
		return nil, errors.New("points must not be negative")
	}
	if _, err := s.EnsureProgressRecord(externalUserID); err != nil {
		return nil, err
	}

	var updated models.UserProgress
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var prog models.UserProgress
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_user_id = ?", externalUserID).
			First(&prog).Error; err != nil {
			return fmt.Errorf("progress record not found for %s: %w", externalUserID, err)
		}

		prog.TotalPoints += points
		for _, c := range counters {
			switch c {
			case CounterJoined:
				prog.ChallengesJoined++
			case CounterCompleted:
				prog.ChallengesCompleted++
			case CounterWon:
				prog.ChallengesWon++
			case CounterMilestones:
				prog.MilestonesEarned++
			}
		}

		now := s.now()
		for prog.TotalPoints >= levelThreshold(prog.Level+1) {
			prog.Level++
			prog.LastLevelUpAt = &now
		}
		if newRank := determineRank(prog.Level); newRank > prog.Rank {
			prog.Rank = newRank
			prog.LastRankUpAt = &now
		}

		if err := tx.Save(&prog).Error; err != nil {
			return err
		}
		updated = prog
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🏅 [Progression] %s +%d points → total=%d lvl=%d rank=%d (reason: %s)",
		externalUserID, points, updated.TotalPoints, updated.Level, updated.Rank, reason)

	if s.Badges != nil {
		if _, err := s.Badges.AutoAwardBadges(externalUserID); err != nil {
			log.Printf("[Progression] badge evaluation failed for %s: %v", externalUserID, err)
		}
	}
	return &updated, nil
}

// GetProgress returns the user's progression, creating an empty record on first access.
func (s *ProgressionService) GetProgress(externalUserID string) (*models.UserProgress, error) {
	return s.EnsureProgressRecord(externalUserID)
}

func RankName(rank int) string {
	switch rank {
	case 1:
		return "Rookie"
	case 2:
		return "Bronze"
	case 3:
		return "Silver"
	case 4:
		return "Gold"
	case 5:
		return "Platinum"
	case 6:
		return "Diamond"
	default:
		if rank > 6 {
			return "Legend"
		}
		return "Rookie"
	}
}
