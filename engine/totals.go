package engine

import (
	"time"

	"challenge-engine/models"
)

// RecomputeTotals sums the progress of the active participants. For an
// individual challenge the collective total is always zero.
func RecomputeTotals(c *models.Challenge) models.Progress {
	var total models.Progress
	if !c.Goal.IsCollective {
		return total
	}
	for i := range c.Participants {
		if c.Participants[i].IsActive {
			total = total.Add(c.Participants[i].Progress)
		}
	}
	return total
}

// TotalsConsistent reports whether the stored collective total matches a
// recomputation from the roster.
func TotalsConsistent(c *models.Challenge) bool {
	return progressEqual(c.TotalProgress, RecomputeTotals(c))
}

// RefreshRoster re-derives everything that depends on roster membership: the
// active count, the collective total and the averages. It runs after every
// roster mutation.
func RefreshRoster(c *models.Challenge) {
	c.Analytics.ActiveParticipants = ActiveCount(c)
	c.TotalProgress = RecomputeTotals(c)
	refreshAverages(c)
}

// RecordGrowth appends today's growth point, or updates it when a point for
// the same UTC day already exists.
func RecordGrowth(c *models.Challenge, now time.Time) {
	day := now.UTC().Format("2006-01-02")
	active := ActiveCount(c)
	series := c.Analytics.GrowthSeries
	if n := len(series); n > 0 && series[n-1].Date == day {
		series[n-1].Joins++
		series[n-1].ActiveParticipants = active
		c.Analytics.GrowthSeries = series
		return
	}
	c.Analytics.GrowthSeries = append(series, models.GrowthPoint{
		Date:               day,
		Joins:              1,
		ActiveParticipants: active,
	})
}

// refreshAverages derives the rolling averages from every roster entry that
// has progress, including those who left, so history is not lost on leave.
func refreshAverages(c *models.Challenge) {
	var sum models.Progress
	contributors := 0
	for i := range c.Participants {
		p := c.Participants[i].Progress
		if p.Activities == 0 {
			continue
		}
		sum = sum.Add(p)
		contributors++
	}

	a := &c.Analytics
	a.AvgDistancePerActivity, a.AvgDurationPerActivity = 0, 0
	a.AvgDistancePerParticipant, a.AvgActivitiesPerParticipant = 0, 0
	if sum.Activities > 0 {
		a.AvgDistancePerActivity = sum.Distance / float64(sum.Activities)
		a.AvgDurationPerActivity = sum.Time / float64(sum.Activities)
	}
	if contributors > 0 {
		a.AvgDistancePerParticipant = sum.Distance / float64(contributors)
		a.AvgActivitiesPerParticipant = float64(sum.Activities) / float64(contributors)
	}
}

const totalsEpsilon = 1e-9

func progressEqual(a, b models.Progress) bool {
	return a.Activities == b.Activities &&
		near(a.Distance, b.Distance) &&
		near(a.Elevation, b.Elevation) &&
		near(a.Time, b.Time) &&
		near(a.Calories, b.Calories)
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= totalsEpsilon*(1+abs(a)+abs(b))
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
