package services

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"challenge-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BadgeService struct {
	DB *gorm.DB
}

func NewBadgeService(db *gorm.DB) *BadgeService {
	return &BadgeService{DB: db}
}

// SeedBadgeTypes inserts the progression badges that are missing.
func (s *BadgeService) SeedBadgeTypes() error {
	for _, trigger := range models.BadgeTriggers {
		bt := trigger
		bt.ID = uuid.NewString()
		if err := s.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&bt).Error; err != nil {
			return fmt.Errorf("seed badge %s: %w", trigger.Code, err)
		}
	}
	return nil
}

// AutoAwardBadges checks every threshold badge against the user's progress and
// returns the codes awarded by this call.
func (s *BadgeService) AutoAwardBadges(externalUserID string) ([]string, error) {
	var prog models.UserProgress
	if err := s.DB.Where("external_user_id = ?", externalUserID).First(&prog).Error; err != nil {
		return nil, err
	}

	var types []models.BadgeType
	if err := s.DB.Where("threshold IS NOT NULL").Find(&types).Error; err != nil {
		return nil, err
	}

	var awarded []string
	for _, bt := range types {
		if len(bt.Threshold) == 0 || !meetsThreshold(&prog, bt.Threshold) {
			continue
		}
		created, err := s.grant(externalUserID, bt.ID, "")
		if err != nil {
			return awarded, err
		}
		if created {
			awarded = append(awarded, bt.Code)
			log.Printf("🎖️ [Badges] %s → %s", bt.Name, externalUserID)
		}
	}
	return awarded, nil
}

// AwardBadge grants a challenge-scoped badge by code, creating the badge type
// the first time the code is seen. Repeat awards are no-ops.
func (s *BadgeService) AwardBadge(externalUserID, code, challengeID, title string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false, nil
	}
	name := title
	if name == "" {
		name = code
	}

	bt := models.BadgeType{ID: uuid.NewString(), Code: code, Name: name, Rarity: "common"}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&bt).Error; err != nil {
		return false, fmt.Errorf("create badge type %s: %w", code, err)
	}
	if err := s.DB.Where("code = ?", code).First(&bt).Error; err != nil {
		return false, fmt.Errorf("load badge type %s: %w", code, err)
	}
	return s.grant(externalUserID, bt.ID, challengeID)
}

func (s *BadgeService) grant(externalUserID, badgeTypeID, challengeID string) (bool, error) {
	ub := models.UserBadge{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		BadgeTypeID:    badgeTypeID,
		ChallengeID:    challengeID,
	}
	res := s.DB.Omit("BadgeType").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_user_id"}, {Name: "badge_type_id"}, {Name: "challenge_id"}},
		DoNothing: true,
	}).Create(&ub)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListUserBadges returns the user's badges, newest first.
func (s *BadgeService) ListUserBadges(externalUserID string) ([]models.UserBadge, error) {
	var badges []models.UserBadge
	err := s.DB.Preload("BadgeType").
		Where("external_user_id = ?", externalUserID).
		Order("awarded_at DESC").
		Find(&badges).Error
	return badges, err
}

func meetsThreshold(prog *models.UserProgress, req map[string]interface{}) bool {
	for key, raw := range req {
		required, ok := thresholdValue(raw)
		if !ok {
			return false
		}
		var have int64
		switch key {
		case "challenges_joined":
			have = prog.ChallengesJoined
		case "challenges_completed":
			have = prog.ChallengesCompleted
		case "challenges_won":
			have = prog.ChallengesWon
		case "milestones_earned":
			have = prog.MilestonesEarned
		case "level":
			have = int64(prog.Level)
		case "rank":
			have = int64(prog.Rank)
		default:
			return false
		}
		if have < required {
			return false
		}
	}
	return true
}

// thresholdValue reads a JSON threshold. Values decoded from the database
// arrive as float64; seeded values may still be ints.
func thresholdValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
