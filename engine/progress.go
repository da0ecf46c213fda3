package engine

import (
	"fmt"
	"math"
	"slices"

	"challenge-engine/models"
)

// Contribution is one activity's effect on progress. Absent values are zero.
type Contribution struct {
	Distance        float64 `json:"distance"`
	Elevation       float64 `json:"elevation"`
	DurationSeconds float64 `json:"duration_seconds"`
	Calories        float64 `json:"calories"`
}

// Validate rejects values that would decrease or poison a counter.
func (k Contribution) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"distance", k.Distance},
		{"elevation", k.Elevation},
		{"duration_seconds", k.DurationSeconds},
		{"calories", k.Calories},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidContribution, f.name)
		}
	}
	return nil
}

// Delta is the progress increment a contribution represents.
func (k Contribution) Delta() models.Progress {
	return models.Progress{
		Distance:   k.Distance,
		Activities: 1,
		Elevation:  k.Elevation,
		Time:       k.DurationSeconds,
		Calories:   k.Calories,
	}
}

// CheckActivityType enforces the challenge's activity allow-list. An empty
// list allows everything.
func CheckActivityType(c *models.Challenge, t models.ActivityType) error {
	if len(c.AllowedActivityTypes) == 0 {
		return nil
	}
	if !slices.Contains(c.AllowedActivityTypes, t) {
		return fmt.Errorf("%w: %q", ErrActivityTypeNotAllowed, t)
	}
	return nil
}

// ApplyActivity adds one contribution to userID's progress and, for collective
// challenges, to the challenge total and activity counter. All checks run
// before anything is written, so a failed call leaves c untouched.
func ApplyActivity(c *models.Challenge, userID string, k Contribution) (*models.Participant, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	if c.Status != models.StatusActive {
		return nil, ErrChallengeNotActive
	}
	p, err := FindActive(c, userID)
	if err != nil {
		return nil, err
	}

	delta := k.Delta()
	p.Progress = p.Progress.Add(delta)
	if c.Goal.IsCollective {
		c.TotalProgress = c.TotalProgress.Add(delta)
		c.Analytics.TotalActivities++
	}
	refreshAverages(c)
	return p, nil
}
