package models

import (
	"time"

	"gorm.io/datatypes"
)

// BadgeType: static config (seeded from BadgeTriggers, milestone badges created on first award)
type BadgeType struct {
	ID          string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code        string            `gorm:"uniqueIndex;not null" json:"code"` // e.g., "FIRST_CHALLENGE", "HALF_WAY"
	Name        string            `gorm:"not null" json:"name"`
	Description string            `json:"description"`
	IconURL     string            `gorm:"type:text" json:"icon_url"`
	Rarity      string            `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	Threshold   datatypes.JSONMap `json:"threshold,omitempty"`                             // e.g., {"challenges_won": 1}
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// UserBadge: awarded instance. ChallengeID is empty for progression badges.
type UserBadge struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string    `gorm:"not null;uniqueIndex:idx_user_badge_scope" json:"external_user_id"`
	BadgeTypeID    string    `gorm:"not null;uniqueIndex:idx_user_badge_scope" json:"badge_type_id"`
	ChallengeID    string    `gorm:"not null;default:'';uniqueIndex:idx_user_badge_scope" json:"challenge_id,omitempty"`
	AwardedAt      time.Time `gorm:"autoCreateTime" json:"awarded_at"`

	BadgeType BadgeType `gorm:"foreignKey:BadgeTypeID" json:"badge_type"`
}

// Predefined badge triggers evaluated against UserProgress counters
var BadgeTriggers = []BadgeType{
	{
		Code:        "FIRST_CHALLENGE",
		Name:        "Lace Up",
		Description: "Joined your first challenge",
		Rarity:      "common",
		Threshold:   datatypes.JSONMap{"challenges_joined": 1},
	},
	{
		Code:        "FIRST_MILESTONE",
		Name:        "On The Board",
		Description: "Earned your first milestone",
		Rarity:      "common",
		Threshold:   datatypes.JSONMap{"milestones_earned": 1},
	},
	{
		Code:        "CHALLENGE_CHAMP",
		Name:        "Challenge Champion",
		Description: "Won a challenge",
		Rarity:      "epic",
		Threshold:   datatypes.JSONMap{"challenges_won": 1},
	},
	{
		Code:        "FINISHER_5",
		Name:        "Finisher",
		Description: "Completed five challenges",
		Rarity:      "rare",
		Threshold:   datatypes.JSONMap{"challenges_completed": 5},
	},
	{
		Code:        "LEVEL_10",
		Name:        "Seasoned",
		Description: "Reached Level 10",
		Rarity:      "rare",
		Threshold:   datatypes.JSONMap{"level": 10},
	},
}
