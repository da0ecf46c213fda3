package models

import (
	"time"

	"gorm.io/gorm"
)

// UserProgress tracks cross-challenge progression for each user (denormalized for performance)
type UserProgress struct {
	ID             string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalUserID string `gorm:"uniqueIndex;not null" json:"external_user_id"` // opaque id from the identity service

	// Core progression
	TotalPoints int64 `json:"total_points" gorm:"default:0"`
	Level       int   `json:"level" gorm:"default:1"`
	Rank        int   `json:"rank" gorm:"default:1"` // Rookie(1)→Bronze(2)→Silver(3)→Gold(4)→Platinum(5)

	// Activity counters
	ChallengesJoined    int64 `json:"challenges_joined" gorm:"default:0"`
	ChallengesCompleted int64 `json:"challenges_completed" gorm:"default:0"`
	ChallengesWon       int64 `json:"challenges_won" gorm:"default:0"`
	MilestonesEarned    int64 `json:"milestones_earned" gorm:"default:0"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
	LastRankUpAt  *time.Time `json:"last_rank_up_at,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
