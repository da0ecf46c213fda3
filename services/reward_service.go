// services/reward_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"challenge-engine/engine"
	"challenge-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRewardAlreadyClaimed = errors.New("reward already claimed")

type RewardService struct {
	DB  *gorm.DB
	now func() time.Time
}

func NewRewardService(db *gorm.DB) *RewardService {
	return &RewardService{DB: db, now: time.Now}
}

// Issue records a reward once per (user, source key). It reports whether a new
// row was written.
func (s *RewardService) Issue(r models.Reward) (bool, error) {
	if r.UserID == "" || r.SourceKey == "" {
		return false, errors.New("reward needs a user and a source key")
	}
	r.ID = uuid.NewString()
	if r.Status == "" {
		r.Status = models.RewardStatusPublished
	}
	res := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_key"}},
		DoNothing: true,
	}).Create(&r)
	if res.Error != nil {
		return false, fmt.Errorf("issue reward %s: %w", r.SourceKey, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListUserRewards returns the user's rewards, newest first.
func (s *RewardService) ListUserRewards(userID string, unviewedOnly bool) ([]models.Reward, error) {
	q := s.DB.Where("user_id = ?", userID)
	if unviewedOnly {
		q = q.Where("viewed = ?", false)
	}
	var rewards []models.Reward
	err := q.Order("created_at DESC").Find(&rewards).Error
	return rewards, err
}

// MarkViewed flags a reward as seen by its owner.
func (s *RewardService) MarkViewed(userID, rewardID string) error {
	res := s.DB.Model(&models.Reward{}).
		Where("id = ? AND user_id = ?", rewardID, userID).
		Update("viewed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// Claim moves a published reward to claimed under a row lock.
func (s *RewardService) Claim(userID, rewardID string) (*models.Reward, error) {
	var claimed models.Reward
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var r models.Reward
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", rewardID, userID).
			First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return engine.ErrNotFound
			}
			return err
		}
		if r.Status == models.RewardStatusClaimed {
			return ErrRewardAlreadyClaimed
		}
		now := s.now()
		r.Status = models.RewardStatusClaimed
		r.ClaimedAt = &now
		r.Viewed = true
		if err := tx.Save(&r).Error; err != nil {
			return err
		}
		claimed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}
