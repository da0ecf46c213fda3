package engine

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"challenge-engine/models"
)

// Definition is the creator-supplied shape of a new challenge.
type Definition struct {
	CreatorID   string
	Title       string
	Description string
	Type        models.ChallengeType
	Goal        models.Goal

	StartDate time.Time
	EndDate   time.Time

	Visibility       models.Visibility
	RequiresApproval bool
	MaxParticipants  int
	// JoinCode is an optional creator-chosen code. Private challenges without
	// one get a generated code from the service.
	JoinCode string

	WinnerReward         models.RewardDescriptor
	Milestones           []models.Milestone
	AllowedActivityTypes []models.ActivityType
}

// NewChallenge validates def and builds the aggregate. The id and join code
// are assigned by the caller. The initial status is active when now is already
// inside the window and upcoming otherwise.
func NewChallenge(def Definition, now time.Time) (*models.Challenge, error) {
	if err := ValidateGoal(def.Goal); err != nil {
		return nil, err
	}
	if !def.StartDate.Before(def.EndDate) {
		return nil, ErrInvalidTimeWindow
	}
	if strings.TrimSpace(def.CreatorID) == "" {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(def.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidDefinition)
	}
	if !now.Before(def.EndDate) {
		return nil, fmt.Errorf("%w: end date is in the past", ErrInvalidTimeWindow)
	}

	ctype := def.Type
	if ctype == "" {
		ctype = typeForUnit(def.Goal.Unit)
	}
	switch ctype {
	case models.ChallengeTypeDistance, models.ChallengeTypeTime, models.ChallengeTypeActivities,
		models.ChallengeTypeElevation, models.ChallengeTypeCustom:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, ctype)
	}

	visibility := def.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	switch visibility {
	case models.VisibilityPublic, models.VisibilityPrivate, models.VisibilityFriendsOnly:
	default:
		return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidDefinition, visibility)
	}

	maxParticipants := def.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = models.DefaultMaxParticipants
	}
	if maxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants must be positive", ErrInvalidDefinition)
	}

	allowed, err := normalizeActivityTypes(def.AllowedActivityTypes)
	if err != nil {
		return nil, err
	}

	goal := def.Goal
	if goal.WinCondition == "" {
		goal.WinCondition = models.WinFirstToComplete
		if goal.IsCollective {
			goal.WinCondition = models.WinCollectiveGoal
		}
	}

	milestones, err := normalizeMilestones(def.Milestones, goal)
	if err != nil {
		return nil, err
	}

	status := models.StatusUpcoming
	if !now.Before(def.StartDate) {
		status = models.StatusActive
	}

	c := &models.Challenge{
		CreatorID:            def.CreatorID,
		Title:                strings.TrimSpace(def.Title),
		Description:          def.Description,
		Type:                 ctype,
		Goal:                 goal,
		StartDate:            def.StartDate,
		EndDate:              def.EndDate,
		Visibility:           visibility,
		RequiresApproval:     def.RequiresApproval,
		MaxParticipants:      maxParticipants,
		Status:               status,
		WinnerReward:         def.WinnerReward,
		Milestones:           milestones,
		AllowedActivityTypes: allowed,
	}
	c.Analytics.GrowthSeries = []models.GrowthPoint{}
	return c, nil
}

// ValidateGoal checks the target, unit and win condition.
func ValidateGoal(g models.Goal) error {
	if math.IsNaN(g.Target) || math.IsInf(g.Target, 0) || g.Target <= 0 {
		return fmt.Errorf("%w: target must be a positive number", ErrInvalidGoal)
	}
	if _, ok := unitMetrics[g.Unit]; !ok {
		return fmt.Errorf("%w: unknown unit %q", ErrInvalidGoal, g.Unit)
	}
	switch g.WinCondition {
	case "", models.WinFirstToComplete, models.WinHighestIndividual:
	case models.WinCollectiveGoal:
		if !g.IsCollective {
			return fmt.Errorf("%w: collective_goal requires a collective goal", ErrInvalidGoal)
		}
	default:
		return fmt.Errorf("%w: unknown win condition %q", ErrInvalidGoal, g.WinCondition)
	}
	return nil
}

func typeForUnit(u models.GoalUnit) models.ChallengeType {
	switch u {
	case models.UnitKm:
		return models.ChallengeTypeDistance
	case models.UnitHours, models.UnitSeconds:
		return models.ChallengeTypeTime
	case models.UnitMeters:
		return models.ChallengeTypeElevation
	case models.UnitActivities:
		return models.ChallengeTypeActivities
	}
	return models.ChallengeTypeCustom
}

func normalizeActivityTypes(in []models.ActivityType) ([]models.ActivityType, error) {
	if len(in) == 0 {
		return slices.Clone(models.AllActivityTypes), nil
	}
	out := make([]models.ActivityType, 0, len(in))
	for _, t := range in {
		t = models.ActivityType(strings.ToLower(strings.TrimSpace(string(t))))
		if !slices.Contains(models.AllActivityTypes, t) {
			return nil, fmt.Errorf("%w: unknown activity type %q", ErrInvalidDefinition, t)
		}
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// normalizeMilestones assigns missing ids and rejects malformed thresholds.
// Milestones keep the creator's order.
func normalizeMilestones(in []models.Milestone, goal models.Goal) ([]models.Milestone, error) {
	out := make([]models.Milestone, 0, len(in))
	seen := make(map[string]bool, len(in))
	for i, m := range in {
		if m.ID == "" {
			m.ID = fmt.Sprintf("m%d", i+1)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidMilestone, m.ID)
		}
		seen[m.ID] = true
		if _, err := MilestoneThreshold(m, goal); err != nil {
			return nil, err
		}
		if m.Points < 0 {
			return nil, fmt.Errorf("%w: %s has negative points", ErrInvalidMilestone, m.ID)
		}
		out = append(out, m)
	}
	return out, nil
}
