package engine

import (
	"cmp"
	"fmt"
	"slices"

	"challenge-engine/models"
)

// Metric names a Progress field.
type Metric string

const (
	MetricDistance   Metric = "distance"
	MetricActivities Metric = "activities"
	MetricElevation  Metric = "elevation"
	MetricTime       Metric = "time"
	MetricCalories   Metric = "calories"
)

// unitMetric binds a goal unit to the progress field it is measured on and the
// divisor that converts the stored value into goal units.
type unitMetric struct {
	metric Metric
	scale  float64
}

// unitMetrics is the single source for unit → field resolution. A new unit
// must be added here or goal validation rejects it.
var unitMetrics = map[models.GoalUnit]unitMetric{
	models.UnitKm:         {MetricDistance, 1},
	models.UnitHours:      {MetricTime, 3600},
	models.UnitSeconds:    {MetricTime, 1},
	models.UnitMeters:     {MetricElevation, 1},
	models.UnitActivities: {MetricActivities, 1},
}

// MetricFor returns the progress field a goal unit is measured on.
func MetricFor(unit models.GoalUnit) (Metric, error) {
	um, ok := unitMetrics[unit]
	if !ok {
		return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidGoal, unit)
	}
	return um.metric, nil
}

// Value reads metric m from p.
func Value(p models.Progress, m Metric) float64 {
	switch m {
	case MetricDistance:
		return p.Distance
	case MetricActivities:
		return float64(p.Activities)
	case MetricElevation:
		return p.Elevation
	case MetricTime:
		return p.Time
	case MetricCalories:
		return p.Calories
	}
	return 0
}

// GoalValue expresses p in the goal's unit, e.g. seconds of time as hours.
// Unknown units read as 0.
func GoalValue(p models.Progress, unit models.GoalUnit) float64 {
	um, ok := unitMetrics[unit]
	if !ok {
		return 0
	}
	return Value(p, um.metric) / um.scale
}

// Entry is one row of a leaderboard snapshot.
type Entry struct {
	UserID   string          `json:"user_id"`
	Progress models.Progress `json:"progress"`
	Value    float64         `json:"value"`
	Rank     int             `json:"rank"`
}

// Leaderboard ranks the active participants of c by the goal metric, highest
// first. Equal values keep roster order, so the earlier joiner ranks higher.
// It never writes to c.
func Leaderboard(c *models.Challenge) ([]Entry, error) {
	if _, err := MetricFor(c.Goal.Unit); err != nil {
		return nil, err
	}

	active := make([]*models.Participant, 0, len(c.Participants))
	for i := range c.Participants {
		if c.Participants[i].IsActive {
			active = append(active, &c.Participants[i])
		}
	}
	slices.SortStableFunc(active, func(a, b *models.Participant) int {
		return cmp.Compare(a.Position, b.Position)
	})

	entries := make([]Entry, len(active))
	for i, p := range active {
		entries[i] = Entry{
			UserID:   p.UserID,
			Progress: p.Progress,
			Value:    GoalValue(p.Progress, c.Goal.Unit),
		}
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(b.Value, a.Value)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// ApplyRanks copies computed ranks onto the roster's rank cache and clears the
// cache for inactive entries. It reports whether anything changed.
func ApplyRanks(c *models.Challenge, entries []Entry) bool {
	ranks := make(map[string]int, len(entries))
	for _, e := range entries {
		ranks[e.UserID] = e.Rank
	}
	changed := false
	for i := range c.Participants {
		p := &c.Participants[i]
		r := ranks[p.UserID]
		if !p.IsActive {
			r = 0
		}
		if p.Rank != r {
			p.Rank = r
			changed = true
		}
	}
	return changed
}
