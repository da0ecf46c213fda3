package engine

import (
	"fmt"
	"math"
	"time"

	"challenge-engine/models"
)

type EventKind string

const (
	EventMilestoneReached      EventKind = "milestone_reached"
	EventGoalCompleted         EventKind = "goal_completed"
	EventChallengeWon          EventKind = "challenge_won"
	EventCollectiveGoalReached EventKind = "collective_goal_reached"
	EventChallengeCompleted    EventKind = "challenge_completed"
)

// Event is a reward-relevant outcome of an evaluation. Services turn events
// into points, badges and reward ledger entries after the update commits.
type Event struct {
	Kind        EventKind `json:"kind"`
	ChallengeID string    `json:"challenge_id"`
	UserID      string    `json:"user_id,omitempty"`
	MilestoneID string    `json:"milestone_id,omitempty"`
	Title       string    `json:"title,omitempty"`
	Badge       string    `json:"badge,omitempty"`
	Points      int64     `json:"points,omitempty"`
	Value       float64   `json:"value"`
	At          time.Time `json:"at"`
}

// MilestoneThreshold resolves m to an absolute value in goal units.
func MilestoneThreshold(m models.Milestone, goal models.Goal) (float64, error) {
	if math.IsNaN(m.At) || math.IsInf(m.At, 0) || m.At <= 0 {
		return 0, fmt.Errorf("%w: %s threshold must be positive", ErrInvalidMilestone, m.ID)
	}
	if m.IsPercentage {
		return goal.Target * m.At / 100, nil
	}
	return m.At, nil
}

// Evaluate inspects p after a progress update and appends any newly earned
// achievements to the roster. Malformed milestones are skipped and reported in
// the returned errors; they never block the other checks.
func Evaluate(c *models.Challenge, p *models.Participant, now time.Time) ([]Event, []error) {
	var events []Event
	var errs []error

	v := GoalValue(p.Progress, c.Goal.Unit)

	for _, m := range c.Milestones {
		threshold, err := MilestoneThreshold(m, c.Goal)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v < threshold || p.HasMilestone(m.ID) {
			continue
		}
		award(c, p, models.AchievementMilestone, m.ID, m.At, now)
		events = append(events, Event{
			Kind:        EventMilestoneReached,
			ChallengeID: c.ID,
			UserID:      p.UserID,
			MilestoneID: m.ID,
			Title:       m.Title,
			Badge:       m.Badge,
			Points:      m.Points,
			Value:       m.At,
			At:          now,
		})
	}

	if v >= c.Goal.Target && p.CompletedAt == nil {
		done := now
		p.CompletedAt = &done
		award(c, p, models.AchievementGoalCompleted, "", c.Goal.Target, now)
		events = append(events, Event{
			Kind:        EventGoalCompleted,
			ChallengeID: c.ID,
			UserID:      p.UserID,
			Value:       v,
			At:          now,
		})
	}

	if c.Goal.WinCondition == models.WinFirstToComplete && c.WinnerID == nil && v >= c.Goal.Target {
		events = append(events, declareWinner(c, p, v, now)...)
		events = append(events, complete(c, now)...)
	}

	if c.Goal.IsCollective && c.GoalAchievedAt == nil {
		total := GoalValue(c.TotalProgress, c.Goal.Unit)
		if total >= c.Goal.Target {
			events = append(events, creditCollective(c, total, now)...)
		}
	}

	return events, errs
}

// Sweep applies wall-clock transitions: upcoming challenges whose window has
// opened become active and active challenges whose window has closed complete.
func Sweep(c *models.Challenge, now time.Time) []Event {
	var events []Event
	if c.Status == models.StatusUpcoming && !now.Before(c.StartDate) {
		c.Status = models.StatusActive
	}
	if c.Status == models.StatusActive && now.After(c.EndDate) {
		events = append(events, complete(c, now)...)
	}
	return events
}

var transitions = map[models.ChallengeStatus][]models.ChallengeStatus{
	models.StatusUpcoming: {models.StatusActive, models.StatusCancelled},
	models.StatusActive:   {models.StatusCompleted, models.StatusCancelled},
}

// Transition moves c to status to, if the lifecycle allows it. Completing an
// active challenge early resolves its winner the same way the window end does.
func Transition(c *models.Challenge, to models.ChallengeStatus, now time.Time) ([]Event, error) {
	allowed := false
	for _, s := range transitions[c.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, c.Status, to)
	}
	if to == models.StatusCompleted {
		return complete(c, now), nil
	}
	c.Status = to
	return nil, nil
}

// complete closes c. A highest_individual challenge without a winner takes the
// leader of the final leaderboard, provided the leader has any progress.
func complete(c *models.Challenge, now time.Time) []Event {
	var events []Event
	if c.Goal.WinCondition == models.WinHighestIndividual && c.WinnerID == nil {
		entries, err := Leaderboard(c)
		if err == nil && len(entries) > 0 && entries[0].Value > 0 {
			if p := FindParticipant(c, entries[0].UserID); p != nil {
				events = append(events, declareWinner(c, p, entries[0].Value, now)...)
			}
		}
	}
	c.Status = models.StatusCompleted
	done := now
	c.CompletedAt = &done
	events = append(events, Event{
		Kind:        EventChallengeCompleted,
		ChallengeID: c.ID,
		At:          now,
	})
	return events
}

func declareWinner(c *models.Challenge, p *models.Participant, v float64, now time.Time) []Event {
	winner := p.UserID
	c.WinnerID = &winner
	if c.GoalAchievedAt == nil && v >= c.Goal.Target {
		at := now
		c.GoalAchievedAt = &at
	}
	p.IsWinner = true
	award(c, p, models.AchievementWinner, "", v, now)
	return []Event{{
		Kind:        EventChallengeWon,
		ChallengeID: c.ID,
		UserID:      p.UserID,
		Title:       c.WinnerReward.Title,
		Badge:       c.WinnerReward.Badge,
		Points:      c.WinnerReward.Points,
		Value:       v,
		At:          now,
	}}
}

func creditCollective(c *models.Challenge, total float64, now time.Time) []Event {
	at := now
	c.GoalAchievedAt = &at
	var events []Event
	for i := range c.Participants {
		p := &c.Participants[i]
		if !p.IsActive || p.HasAchievement(models.AchievementCollectiveGoal) {
			continue
		}
		award(c, p, models.AchievementCollectiveGoal, "", total, now)
		events = append(events, Event{
			Kind:        EventCollectiveGoalReached,
			ChallengeID: c.ID,
			UserID:      p.UserID,
			Title:       c.WinnerReward.Title,
			Badge:       c.WinnerReward.Badge,
			Points:      c.WinnerReward.Points,
			Value:       total,
			At:          now,
		})
	}
	return events
}

// award appends an achievement without an id; the store assigns ids to new
// entries when it saves the roster.
func award(c *models.Challenge, p *models.Participant, t models.AchievementType, milestoneID string, value float64, now time.Time) {
	p.Achievements = append(p.Achievements, models.Achievement{
		ParticipantID: p.ID,
		ChallengeID:   c.ID,
		UserID:        p.UserID,
		Type:          t,
		MilestoneID:   milestoneID,
		EarnedAt:      now,
		Value:         value,
	})
}
