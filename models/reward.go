package models

import (
	"time"
)

type RewardCategory string

const (
	RewardCategoryWinner     RewardCategory = "challenge_winner"
	RewardCategoryMilestone  RewardCategory = "milestone"
	RewardCategoryCollective RewardCategory = "collective_goal"
)

// RewardStatus indicates the publishing status of the reward
type RewardStatus string

const (
	RewardStatusPublished RewardStatus = "published"
	RewardStatusClaimed   RewardStatus = "claimed"
)

// Reward is a user-facing ledger entry created when a challenge pays out.
// SourceKey makes issuing idempotent: one reward per (user, source).
type Reward struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string         `gorm:"not null;index;uniqueIndex:idx_reward_source" json:"user_id"`
	ChallengeID string         `gorm:"not null;index" json:"challenge_id"`
	SourceKey   string         `gorm:"not null;uniqueIndex:idx_reward_source" json:"source_key"` // e.g., "<challenge>:milestone:<id>"
	Category    RewardCategory `gorm:"type:varchar(32);not null" json:"category"`
	Title       string         `gorm:"not null" json:"title"`
	Badge       string         `json:"badge,omitempty"`
	Points      int64          `json:"points"`
	Status      RewardStatus   `gorm:"type:varchar(16);not null;default:'published'" json:"status"`
	Viewed      bool           `gorm:"default:false;index" json:"viewed"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
