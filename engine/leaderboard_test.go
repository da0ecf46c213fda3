package engine

import (
	"errors"
	"testing"

	"challenge-engine/models"
)

func TestLeaderboardCollectiveScenario(t *testing.T) {
	c := newActive(t, models.Goal{Target: 100, Unit: models.UnitKm, IsCollective: true}, 2)
	mustJoin(t, c, "A")
	mustJoin(t, c, "B")

	if _, err := ApplyActivity(c, "A", Contribution{Distance: 60}); err != nil {
		t.Fatalf("apply A: %v", err)
	}
	evA, _ := Evaluate(c, FindParticipant(c, "A"), fixedNow)
	if _, err := ApplyActivity(c, "B", Contribution{Distance: 50}); err != nil {
		t.Fatalf("apply B: %v", err)
	}
	evB, _ := Evaluate(c, FindParticipant(c, "B"), fixedNow)

	if c.TotalProgress.Distance != 110 {
		t.Fatalf("expected total 110, got %v", c.TotalProgress.Distance)
	}
	entries, err := Leaderboard(c)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 ||
		entries[0].UserID != "A" || entries[0].Value != 60 || entries[0].Rank != 1 ||
		entries[1].UserID != "B" || entries[1].Value != 50 || entries[1].Rank != 2 {
		t.Fatalf("unexpected leaderboard %+v", entries)
	}

	if len(evA) != 0 {
		t.Fatalf("expected no events before the goal, got %+v", evA)
	}
	if c.GoalAchievedAt == nil {
		t.Fatalf("expected collective goal achieved")
	}
	credited := 0
	for _, e := range evB {
		if e.Kind == EventCollectiveGoalReached {
			credited++
		}
		if e.Kind == EventGoalCompleted {
			t.Fatalf("no individual reached the target, got %+v", e)
		}
	}
	if credited != 2 {
		t.Fatalf("expected both participants credited, got %d", credited)
	}
	if FindParticipant(c, "B").CompletedAt != nil {
		t.Fatalf("B alone has not completed the goal")
	}

	if _, err := Join(c, JoinRequest{UserID: "C", Now: fixedNow}); !errors.Is(err, ErrChallengeFull) {
		t.Fatalf("expected ErrChallengeFull for third user, got %v", err)
	}
}

func TestLeaderboardTotalOrderWithTies(t *testing.T) {
	c := newActive(t, models.Goal{Target: 1000, Unit: models.UnitKm}, 0)
	users := []string{"first", "second", "third", "fourth", "fifth"}
	for _, u := range users {
		mustJoin(t, c, u)
	}
	km := map[string]float64{"first": 5, "second": 9, "third": 5, "fourth": 0, "fifth": 9}
	for _, u := range users {
		if km[u] == 0 {
			continue
		}
		if _, err := ApplyActivity(c, u, Contribution{Distance: km[u]}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	entries, err := Leaderboard(c)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	want := []string{"second", "fifth", "first", "third", "fourth"}
	for i, e := range entries {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("position %d: expected %s rank %d, got %s rank %d", i, want[i], i+1, e.UserID, e.Rank)
		}
	}
	for i := range entries {
		for j := range entries {
			if entries[i].Value > entries[j].Value && entries[i].Rank >= entries[j].Rank {
				t.Fatalf("larger value must rank higher: %+v vs %+v", entries[i], entries[j])
			}
		}
	}
}

func TestLeaderboardSkipsInactiveAndDoesNotMutate(t *testing.T) {
	c := newActive(t, models.Goal{Target: 10, Unit: models.UnitActivities}, 0)
	mustJoin(t, c, "stay")
	mustJoin(t, c, "go")
	if _, err := ApplyActivity(c, "go", Contribution{}); err != nil {
		t.Fatal(err)
	}
	if _, err := Leave(c, "go", fixedNow); err != nil {
		t.Fatal(err)
	}
	for i := range c.Participants {
		c.Participants[i].Rank = 42
	}

	entries, err := Leaderboard(c)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "stay" {
		t.Fatalf("expected only the active participant, got %+v", entries)
	}
	for _, p := range c.Participants {
		if p.Rank != 42 {
			t.Fatalf("leaderboard wrote the rank cache")
		}
	}

	if !ApplyRanks(c, entries) {
		t.Fatalf("expected rank cache to change")
	}
	if FindParticipant(c, "stay").Rank != 1 || FindParticipant(c, "go").Rank != 0 {
		t.Fatalf("unexpected cached ranks")
	}
	if ApplyRanks(c, entries) {
		t.Fatalf("second apply should be a no-op")
	}
}

func TestGoalValueUnits(t *testing.T) {
	p := models.Progress{Distance: 12.5, Activities: 3, Elevation: 400, Time: 5400, Calories: 900}
	tests := []struct {
		unit models.GoalUnit
		want float64
	}{
		{models.UnitKm, 12.5},
		{models.UnitActivities, 3},
		{models.UnitMeters, 400},
		{models.UnitSeconds, 5400},
		{models.UnitHours, 1.5},
		{"parsecs", 0},
	}
	for _, tt := range tests {
		if got := GoalValue(p, tt.unit); got != tt.want {
			t.Fatalf("%s: expected %v, got %v", tt.unit, tt.want, got)
		}
	}
	if _, err := MetricFor("parsecs"); !errors.Is(err, ErrInvalidGoal) {
		t.Fatalf("expected ErrInvalidGoal for unknown unit, got %v", err)
	}
}
