package models

import (
	"time"
)

// Progress holds the five accumulated metrics. Time is in seconds, distance in
// kilometres and elevation in metres.
type Progress struct {
	Distance   float64 `json:"distance" gorm:"default:0"`
	Activities int64   `json:"activities" gorm:"default:0"`
	Elevation  float64 `json:"elevation" gorm:"default:0"`
	Time       float64 `json:"time" gorm:"default:0"`
	Calories   float64 `json:"calories" gorm:"default:0"`
}

// Add returns the metric-wise sum of p and o.
func (p Progress) Add(o Progress) Progress {
	return Progress{
		Distance:   p.Distance + o.Distance,
		Activities: p.Activities + o.Activities,
		Elevation:  p.Elevation + o.Elevation,
		Time:       p.Time + o.Time,
		Calories:   p.Calories + o.Calories,
	}
}

type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Participant is one user's entry on a challenge roster. There is at most one
// row per (challenge, user); leaving flips IsActive and keeps the progress.
type Participant struct {
	ID          string `json:"id" gorm:"primaryKey"`
	ChallengeID string `json:"challenge_id" gorm:"not null;uniqueIndex:idx_participant_challenge_user;index"`
	UserID      string `json:"user_id" gorm:"not null;uniqueIndex:idx_participant_challenge_user;index"`

	// Position is the roster slot assigned on first join; leaderboard ties
	// resolve in ascending Position.
	Position int        `json:"position" gorm:"not null"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`

	IsActive bool           `json:"is_active" gorm:"default:false;index"`
	Approval ApprovalStatus `json:"approval,omitempty" gorm:"type:varchar(16)"`

	Progress Progress `json:"progress" gorm:"embedded;embeddedPrefix:progress_"`

	// Rank is the last persisted leaderboard position. It is a cache only.
	Rank int `json:"rank" gorm:"default:0"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	IsWinner    bool       `json:"is_winner" gorm:"default:false"`

	Achievements []Achievement `json:"achievements,omitempty" gorm:"foreignKey:ParticipantID"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// HasMilestone reports whether the participant already earned milestone id.
func (p *Participant) HasMilestone(id string) bool {
	for _, a := range p.Achievements {
		if a.Type == AchievementMilestone && a.MilestoneID == id {
			return true
		}
	}
	return false
}

// HasAchievement reports whether an achievement of type t was earned.
func (p *Participant) HasAchievement(t AchievementType) bool {
	for _, a := range p.Achievements {
		if a.Type == t {
			return true
		}
	}
	return false
}

type AchievementType string

const (
	AchievementMilestone      AchievementType = "milestone"
	AchievementGoalCompleted  AchievementType = "goal_completed"
	AchievementWinner         AchievementType = "winner"
	AchievementCollectiveGoal AchievementType = "collective_goal"
)

// Achievement is append-only.
type Achievement struct {
	ID            string          `json:"id" gorm:"primaryKey"`
	ParticipantID string          `json:"participant_id" gorm:"not null;index"`
	ChallengeID   string          `json:"challenge_id" gorm:"not null;index"`
	UserID        string          `json:"user_id" gorm:"not null;index"`
	Type          AchievementType `json:"type" gorm:"type:varchar(32);not null"`
	MilestoneID   string          `json:"milestone_id,omitempty"`
	EarnedAt      time.Time       `json:"earned_at"`
	Value         float64         `json:"value"`
}
