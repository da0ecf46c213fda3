package models

import (
	"time"

	"gorm.io/datatypes"
)

type ChallengeType string

const (
	ChallengeTypeDistance   ChallengeType = "distance"
	ChallengeTypeTime       ChallengeType = "time"
	ChallengeTypeActivities ChallengeType = "activities"
	ChallengeTypeElevation  ChallengeType = "elevation"
	ChallengeTypeCustom     ChallengeType = "custom"
)

type GoalUnit string

const (
	UnitKm         GoalUnit = "km"
	UnitHours      GoalUnit = "hours"
	UnitActivities GoalUnit = "activities"
	UnitMeters     GoalUnit = "meters"
	UnitSeconds    GoalUnit = "seconds"
)

type WinCondition string

const (
	WinFirstToComplete   WinCondition = "first_to_complete"
	WinHighestIndividual WinCondition = "highest_individual"
	WinCollectiveGoal    WinCondition = "collective_goal"
)

type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityPrivate     Visibility = "private"
	VisibilityFriendsOnly Visibility = "friends_only"
)

type ChallengeStatus string

const (
	StatusUpcoming  ChallengeStatus = "upcoming"
	StatusActive    ChallengeStatus = "active"
	StatusCompleted ChallengeStatus = "completed"
	StatusCancelled ChallengeStatus = "cancelled"
)

type ActivityType string

const (
	ActivityRunning  ActivityType = "running"
	ActivityCycling  ActivityType = "cycling"
	ActivityWalking  ActivityType = "walking"
	ActivitySwimming ActivityType = "swimming"
	ActivityOther    ActivityType = "other"
)

// AllActivityTypes is the default allow-list for new challenges.
var AllActivityTypes = []ActivityType{
	ActivityRunning, ActivityCycling, ActivityWalking, ActivitySwimming, ActivityOther,
}

// DefaultMaxParticipants applies when a definition leaves the cap unset.
const DefaultMaxParticipants = 50

// Goal is embedded in the challenges table with a goal_ prefix.
type Goal struct {
	Target       float64      `json:"target"`
	Unit         GoalUnit     `json:"unit" gorm:"type:varchar(16)"`
	IsCollective bool         `json:"is_collective"`
	WinCondition WinCondition `json:"win_condition" gorm:"type:varchar(32)"`
}

// RewardDescriptor describes what the winner of a challenge receives.
type RewardDescriptor struct {
	Title  string `json:"title,omitempty"`
	Badge  string `json:"badge,omitempty"`
	Points int64  `json:"points"`
}

// Milestone unlocks an achievement once a participant's goal metric reaches At.
// When IsPercentage is set, At is a percentage of the goal target.
type Milestone struct {
	ID           string  `json:"id"`
	At           float64 `json:"at"`
	IsPercentage bool    `json:"is_percentage"`
	Badge        string  `json:"badge,omitempty"`
	Points       int64   `json:"points"`
	Title        string  `json:"title"`
}

// GrowthPoint is one day of roster growth. Date is YYYY-MM-DD in UTC.
type GrowthPoint struct {
	Date               string `json:"date"`
	Joins              int    `json:"joins"`
	ActiveParticipants int    `json:"active_participants"`
}

// Analytics holds derived challenge statistics. Everything except
// TotalActivities and GrowthSeries is recomputed from the roster.
type Analytics struct {
	TotalActivities             int64                            `json:"total_activities" gorm:"default:0"`
	ActiveParticipants          int                              `json:"active_participants" gorm:"default:0"`
	AvgDistancePerActivity      float64                          `json:"avg_distance_per_activity"`
	AvgDurationPerActivity      float64                          `json:"avg_duration_per_activity"`
	AvgDistancePerParticipant   float64                          `json:"avg_distance_per_participant"`
	AvgActivitiesPerParticipant float64                          `json:"avg_activities_per_participant"`
	GrowthSeries                datatypes.JSONSlice[GrowthPoint] `json:"growth_series"`
}

// Challenge is the aggregate root. Participants are stored in their own table
// and loaded in roster order.
type Challenge struct {
	ID          string        `json:"id" gorm:"primaryKey"`
	CreatorID   string        `json:"creator_id" gorm:"index;not null"`
	Title       string        `json:"title" gorm:"not null"`
	Description string        `json:"description"`
	Type        ChallengeType `json:"type" gorm:"type:varchar(16);not null"`
	Goal        Goal          `json:"goal" gorm:"embedded;embeddedPrefix:goal_"`

	StartDate time.Time `json:"start_date" gorm:"not null;index"`
	EndDate   time.Time `json:"end_date" gorm:"not null;index"`

	Visibility       Visibility `json:"visibility" gorm:"type:varchar(16);default:'public'"`
	JoinCode         *string    `json:"join_code,omitempty" gorm:"uniqueIndex"`
	RequiresApproval bool       `json:"requires_approval" gorm:"default:false"`
	MaxParticipants  int        `json:"max_participants" gorm:"default:50"`

	Status ChallengeStatus `json:"status" gorm:"type:varchar(16);default:'upcoming';index"`

	TotalProgress Progress `json:"total_progress" gorm:"embedded;embeddedPrefix:total_"`

	WinnerReward         RewardDescriptor                  `json:"winner_reward" gorm:"embedded;embeddedPrefix:winner_reward_"`
	Milestones           datatypes.JSONSlice[Milestone]    `json:"milestones"`
	AllowedActivityTypes datatypes.JSONSlice[ActivityType] `json:"allowed_activity_types"`

	Analytics Analytics `json:"analytics" gorm:"embedded;embeddedPrefix:analytics_"`

	WinnerID       *string    `json:"winner_id,omitempty"`
	GoalAchievedAt *time.Time `json:"goal_achieved_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	SnapshotURL    string     `json:"snapshot_url,omitempty"`

	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:ChallengeID"`

	Timestamps
}

// DurationDays is the length of the challenge window in whole days, rounded up.
func (c *Challenge) DurationDays() int {
	d := c.EndDate.Sub(c.StartDate)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// IsActive reports whether contributions are currently accepted: the status is
// active and now falls inside the challenge window.
func (c *Challenge) IsActive(now time.Time) bool {
	return c.Status == StatusActive && !now.Before(c.StartDate) && !now.After(c.EndDate)
}

// ChallengeInvite lets a user join a private challenge without its join code.
type ChallengeInvite struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	ChallengeID string    `json:"challenge_id" gorm:"not null;uniqueIndex:idx_invite_challenge_user"`
	UserID      string    `json:"user_id" gorm:"not null;uniqueIndex:idx_invite_challenge_user"`
	InvitedBy   string    `json:"invited_by" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}
