package models

import "time"

// ActivityContribution records one activity applied to one challenge. It is the
// idempotency ledger for replays from the activity source and the audit trail
// behind participant progress.
type ActivityContribution struct {
	ID          string `gorm:"primaryKey" json:"id"`
	ChallengeID string `gorm:"not null;index;uniqueIndex:idx_contribution_activity,priority:1" json:"challenge_id"`
	UserID      string `gorm:"not null;index;uniqueIndex:idx_contribution_activity,priority:2" json:"user_id"`

	// ActivityID is the source's id, unique per (challenge, user); nil for
	// manual contributions, which are never deduplicated.
	ActivityID *string      `gorm:"uniqueIndex:idx_contribution_activity,priority:3" json:"activity_id,omitempty"`
	SportType  ActivityType `gorm:"type:varchar(16)" json:"sport_type,omitempty"`

	Distance        float64 `json:"distance"`
	Elevation       float64 `json:"elevation"`
	DurationSeconds float64 `json:"duration_seconds"`
	Calories        float64 `json:"calories"`

	// Collective is true when the contribution also went into the challenge totals.
	Collective bool `json:"collective"`

	OccurredAt time.Time `json:"occurred_at"`
	// RecordedAt is the source's timestamp, used as the sync cursor.
	RecordedAt time.Time `gorm:"index" json:"recorded_at"`
	AppliedAt  time.Time `gorm:"autoCreateTime" json:"applied_at"`
}
