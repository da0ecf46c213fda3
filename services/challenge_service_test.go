package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"challenge-engine/engine"
	"challenge-engine/models"
)

var kmGoal = models.Goal{Target: 100, Unit: models.UnitKm}

func TestCreateChallengeJoinCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	public := env.create(t, definition(kmGoal))
	if public.JoinCode != nil {
		t.Fatalf("public challenge got join code %q", *public.JoinCode)
	}
	if public.Status != models.StatusActive {
		t.Fatalf("status = %s, want active", public.Status)
	}

	def := definition(kmGoal)
	def.Visibility = models.VisibilityPrivate
	private := env.create(t, def)
	if private.JoinCode == nil || !strings.HasPrefix(*private.JoinCode, "SPRING-MILES") {
		t.Fatalf("generated code = %v", private.JoinCode)
	}

	def.JoinCode = " crew-42 "
	named := env.create(t, def)
	if named.JoinCode == nil || *named.JoinCode != "CREW-42" {
		t.Fatalf("requested code = %v", named.JoinCode)
	}
	if _, err := env.svc.CreateChallenge(ctx, def); !errors.Is(err, engine.ErrDuplicateJoinCode) {
		t.Fatalf("duplicate code: %v", err)
	}

	found, err := env.svc.ResolveJoinCode(ctx, "crew-42")
	if err != nil || found.ID != named.ID {
		t.Fatalf("resolve: %v %v", found, err)
	}
	if _, err := env.svc.ResolveJoinCode(ctx, "NOPE"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("unknown code: %v", err)
	}

	bad := definition(models.Goal{Target: -1, Unit: models.UnitKm})
	if _, err := env.svc.CreateChallenge(ctx, bad); !errors.Is(err, engine.ErrInvalidGoal) {
		t.Fatalf("invalid goal: %v", err)
	}
}

func TestJoinCapacityLeaveRejoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definition(kmGoal)
	def.MaxParticipants = 2
	c := env.create(t, def)

	env.join(t, c.ID, "a")
	env.join(t, c.ID, "b")
	if _, err := env.svc.JoinChallenge(ctx, c.ID, "c", ""); !errors.Is(err, engine.ErrChallengeFull) {
		t.Fatalf("third join: %v", err)
	}
	if _, err := env.svc.JoinChallenge(ctx, c.ID, "a", ""); !errors.Is(err, engine.ErrAlreadyJoined) {
		t.Fatalf("second join: %v", err)
	}

	env.contribute(t, c.ID, "a", "run-1", 12)

	if _, err := env.svc.LeaveChallenge(ctx, c.ID, "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	env.join(t, c.ID, "c")
	if _, err := env.svc.JoinChallenge(ctx, c.ID, "a", ""); !errors.Is(err, engine.ErrChallengeFull) {
		t.Fatalf("rejoin into full challenge: %v", err)
	}
	if _, err := env.svc.LeaveChallenge(ctx, c.ID, "c"); err != nil {
		t.Fatalf("leave c: %v", err)
	}

	res, err := env.svc.JoinChallenge(ctx, c.ID, "a", "")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.Rejoined || res.Participant.Progress.Distance != 12 || res.Participant.Position != 0 {
		t.Fatalf("rejoin result = %+v", res.Participant)
	}

	stored, err := env.svc.GetChallenge(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(stored.Participants) != 3 || stored.Analytics.ActiveParticipants != 2 {
		t.Fatalf("roster = %d entries, %d active", len(stored.Participants), stored.Analytics.ActiveParticipants)
	}

	prog, err := env.svc.Progression.GetProgress("a")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.ChallengesJoined != 1 || prog.TotalPoints != DefaultPointWeights.JoinPoints {
		t.Fatalf("rejoin paid join points again: %+v", prog)
	}
}

func TestJoinAccessRules(t *testing.T) {
	env := newTestEnv(t, WithFriendChecker(fakeFriends{"creator|pal": true}))
	ctx := context.Background()

	def := definition(kmGoal)
	def.Visibility = models.VisibilityFriendsOnly
	friendsOnly := env.create(t, def)

	env.join(t, friendsOnly.ID, "pal")
	if _, err := env.svc.JoinChallenge(ctx, friendsOnly.ID, "stranger", ""); !errors.Is(err, engine.ErrAccessDenied) {
		t.Fatalf("stranger join: %v", err)
	}
	if _, err := env.svc.JoinChallenge(ctx, friendsOnly.ID, "stranger", *friendsOnly.JoinCode); err != nil {
		t.Fatalf("join with code: %v", err)
	}

	def.Visibility = models.VisibilityPrivate
	def.RequiresApproval = true
	private := env.create(t, def)

	if _, err := env.svc.InviteUser(ctx, private.ID, "pal", "guest"); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("invite by non-creator: %v", err)
	}
	if _, err := env.svc.InviteUser(ctx, private.ID, "creator", "guest"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := env.svc.InviteUser(ctx, private.ID, "creator", "guest"); err != nil {
		t.Fatalf("repeat invite: %v", err)
	}
	res, err := env.svc.JoinChallenge(ctx, private.ID, "guest", "")
	if err != nil || res.Pending {
		t.Fatalf("invited join: %+v %v", res, err)
	}

	res, err = env.svc.JoinChallenge(ctx, private.ID, "asker", *private.JoinCode)
	if err != nil || !res.Pending {
		t.Fatalf("approval join: %+v %v", res, err)
	}
	if _, err := env.svc.JoinChallenge(ctx, private.ID, "asker", *private.JoinCode); !errors.Is(err, engine.ErrApprovalPending) {
		t.Fatalf("repeat request: %v", err)
	}
	if _, err := env.svc.ApproveParticipant(ctx, private.ID, "guest", "asker"); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("approve by non-creator: %v", err)
	}
	p, err := env.svc.ApproveParticipant(ctx, private.ID, "creator", "asker")
	if err != nil || !p.IsActive {
		t.Fatalf("approve: %+v %v", p, err)
	}

	if _, err := env.svc.JoinChallenge(ctx, "missing", "x", ""); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("missing challenge: %v", err)
	}
}

func TestContributionDedupeAndValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definition(kmGoal)
	def.AllowedActivityTypes = []models.ActivityType{models.ActivityRunning}
	c := env.create(t, def)
	env.join(t, c.ID, "a")

	env.contribute(t, c.ID, "a", "act-1", 5)
	res := env.contribute(t, c.ID, "a", "act-1", 5)
	if !res.Duplicate || res.Progress.Distance != 5 {
		t.Fatalf("replay = %+v", res)
	}
	// Manual contributions without a source id are never deduplicated.
	env.contribute(t, c.ID, "a", "", 1)
	res = env.contribute(t, c.ID, "a", "", 1)
	if res.Progress.Distance != 7 || res.Progress.Activities != 3 {
		t.Fatalf("progress = %+v", res.Progress)
	}

	var ledger int64
	env.db.Model(&models.ActivityContribution{}).Where("challenge_id = ?", c.ID).Count(&ledger)
	if ledger != 3 {
		t.Fatalf("ledger rows = %d, want 3", ledger)
	}

	tests := []struct {
		name string
		user string
		in   ActivityInput
		want error
	}{
		{"negative distance", "a", ActivityInput{Contribution: engine.Contribution{Distance: -1}}, engine.ErrInvalidContribution},
		{"sport not allowed", "a", ActivityInput{SportType: models.ActivityCycling, Contribution: engine.Contribution{Distance: 1}}, engine.ErrActivityTypeNotAllowed},
		{"not a participant", "z", ActivityInput{SportType: models.ActivityRunning, Contribution: engine.Contribution{Distance: 1}}, engine.ErrNotAParticipant},
		{"before window", "a", ActivityInput{SportType: models.ActivityRunning, OccurredAt: testStart.Add(-48 * time.Hour), Contribution: engine.Contribution{Distance: 1}}, engine.ErrChallengeNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.RecordActivityContribution(ctx, c.ID, tt.user, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if got := stored.Participants[0].Progress.Distance; got != 7 {
		t.Fatalf("failed contributions changed progress to %v", got)
	}
}

func TestSourceIDIsScopedPerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.create(t, definition(kmGoal))
	env.join(t, c.ID, "a")
	env.join(t, c.ID, "b")

	env.contribute(t, c.ID, "b", "strava-123", 1)
	res, err := env.svc.RecordActivityContribution(ctx, c.ID, "a", ActivityInput{
		ActivityID:   "strava-123",
		SportType:    models.ActivityRunning,
		Contribution: engine.Contribution{Distance: 42},
	})
	if err != nil {
		t.Fatalf("contribute a: %v", err)
	}
	if res.Duplicate || res.Progress.Distance != 42 {
		t.Fatalf("a's activity was treated as b's: %+v", res)
	}

	// The same user replaying the id is still a no-op.
	if res := env.contribute(t, c.ID, "a", "strava-123", 42); !res.Duplicate || res.Progress.Distance != 42 {
		t.Fatalf("replay = %+v", res)
	}
}

func TestConcurrentContributionsKeepTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.create(t, definition(models.Goal{Target: 10000, Unit: models.UnitKm, IsCollective: true}))
	users := []string{"a", "b", "c"}
	for _, u := range users {
		env.join(t, c.ID, u)
	}

	const perUser = 15
	var wg sync.WaitGroup
	errs := make(chan error, len(users)*perUser)
	for _, u := range users {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(u string, i int) {
				defer wg.Done()
				_, err := env.svc.RecordActivityContribution(ctx, c.ID, u, ActivityInput{
					ActivityID:   fmt.Sprintf("%s-%d", u, i),
					Contribution: engine.Contribution{Distance: 2},
				})
				if err != nil {
					errs <- err
				}
			}(u, i)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("contribution failed: %v", err)
	}

	stored, err := env.svc.GetChallenge(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, p := range stored.Participants {
		if p.Progress.Distance != 2*perUser || p.Progress.Activities != perUser {
			t.Fatalf("%s progress = %+v", p.UserID, p.Progress)
		}
	}
	want := float64(2 * perUser * len(users))
	if stored.TotalProgress.Distance != want || stored.Analytics.TotalActivities != int64(perUser*len(users)) {
		t.Fatalf("totals = %+v activities=%d", stored.TotalProgress, stored.Analytics.TotalActivities)
	}
	if !engine.TotalsConsistent(stored) {
		t.Fatal("stored totals do not match the roster")
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const capacity, extra = 3, 5
	def := definition(kmGoal)
	def.MaxParticipants = capacity
	c := env.create(t, def)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, full := 0, 0
	var unexpected []error
	for i := 0; i < capacity+extra; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.JoinChallenge(ctx, c.ID, fmt.Sprintf("user-%d", i), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, engine.ErrChallengeFull):
				full++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected join errors: %v", unexpected)
	}
	if joined != capacity || full != extra {
		t.Fatalf("joined=%d full=%d, want %d and %d", joined, full, capacity, extra)
	}

	stored, err := env.svc.GetChallenge(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := engine.ActiveCount(stored); n != capacity || len(stored.Participants) != capacity {
		t.Fatalf("active=%d rows=%d, want %d", n, len(stored.Participants), capacity)
	}
	if stored.Analytics.ActiveParticipants != capacity {
		t.Fatalf("analytics active = %d", stored.Analytics.ActiveParticipants)
	}
}

func TestCollectiveGoalCreditsEveryone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definition(models.Goal{Target: 100, Unit: models.UnitKm, IsCollective: true})
	def.WinnerReward = models.RewardDescriptor{Title: "Team Century", Badge: "team_century", Points: 200}
	c := env.create(t, def)
	for _, u := range []string{"a", "b", "c"} {
		env.join(t, c.ID, u)
	}

	env.contribute(t, c.ID, "a", "a1", 40)
	env.contribute(t, c.ID, "b", "b1", 35)
	res := env.contribute(t, c.ID, "c", "c1", 30)

	if len(res.Achievements) != 1 || res.Achievements[0].Type != models.AchievementCollectiveGoal {
		t.Fatalf("c achievements = %+v, want only the collective credit", res.Achievements)
	}
	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if stored.GoalAchievedAt == nil || stored.Status != models.StatusActive {
		t.Fatalf("collective state: achieved=%v status=%s", stored.GoalAchievedAt, stored.Status)
	}
	if stored.TotalProgress.Distance != 105 {
		t.Fatalf("total = %v", stored.TotalProgress.Distance)
	}

	for _, u := range []string{"a", "b", "c"} {
		rewards, err := env.svc.Rewards.ListUserRewards(u, false)
		if err != nil || len(rewards) != 1 || rewards[0].SourceKey != c.ID+":collective" {
			t.Fatalf("%s rewards = %+v %v", u, rewards, err)
		}
		prog, _ := env.svc.Progression.GetProgress(u)
		if prog.TotalPoints != DefaultPointWeights.JoinPoints+200 || prog.ChallengesCompleted != 1 {
			t.Fatalf("%s progress = %+v", u, prog)
		}
	}

	// Further progress credits nobody twice.
	env.contribute(t, c.ID, "a", "a2", 10)
	rewards, _ := env.svc.Rewards.ListUserRewards("a", false)
	if len(rewards) != 1 {
		t.Fatalf("a rewards after more progress = %d", len(rewards))
	}
}

func TestMilestonesPayOutOnce(t *testing.T) {
	env := newTestEnv(t)

	def := definition(kmGoal)
	def.Milestones = []models.Milestone{
		{ID: "half", At: 50, IsPercentage: true, Title: "Halfway", Badge: "half_way", Points: 50},
		{ID: "ten", At: 10, Title: "First Ten", Points: 5},
	}
	c := env.create(t, def)
	env.join(t, c.ID, "a")

	res := env.contribute(t, c.ID, "a", "r1", 55)
	if len(res.Achievements) != 2 {
		t.Fatalf("achievements = %+v", res.Achievements)
	}
	for _, a := range res.Achievements {
		if a.ID == "" || a.Type != models.AchievementMilestone {
			t.Fatalf("achievement = %+v", a)
		}
	}
	env.contribute(t, c.ID, "a", "r2", 5)

	prog, err := env.svc.Progression.GetProgress("a")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.MilestonesEarned != 2 || prog.TotalPoints != DefaultPointWeights.JoinPoints+55 {
		t.Fatalf("progress = %+v", prog)
	}

	badges, _ := env.svc.Badges.ListUserBadges("a")
	codes := map[string]bool{}
	for _, b := range badges {
		codes[b.BadgeType.Code] = true
	}
	for _, want := range []string{"FIRST_CHALLENGE", "FIRST_MILESTONE", "HALF_WAY"} {
		if !codes[want] {
			t.Fatalf("missing badge %s in %v", want, codes)
		}
	}

	rewards, _ := env.svc.Rewards.ListUserRewards("a", false)
	if len(rewards) != 2 {
		t.Fatalf("rewards = %d, want one per milestone", len(rewards))
	}

	var achievements int64
	env.db.Model(&models.Achievement{}).Where("challenge_id = ?", c.ID).Count(&achievements)
	if achievements != 2 {
		t.Fatalf("stored achievements = %d", achievements)
	}
}

func TestFirstToCompleteEndsChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definition(models.Goal{Target: 10, Unit: models.UnitKm})
	def.WinnerReward = models.RewardDescriptor{Title: "Fastest", Points: 300}
	c := env.create(t, def)
	env.join(t, c.ID, "a")
	env.join(t, c.ID, "b")

	env.contribute(t, c.ID, "b", "b1", 11)

	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if stored.Status != models.StatusCompleted || stored.WinnerID == nil || *stored.WinnerID != "b" {
		t.Fatalf("status=%s winner=%v", stored.Status, stored.WinnerID)
	}
	if len(env.archiver.keys) != 1 || stored.SnapshotURL == "" {
		t.Fatalf("snapshot not archived: %v %q", env.archiver.keys, stored.SnapshotURL)
	}

	prog, _ := env.svc.Progression.GetProgress("b")
	wantPoints := DefaultPointWeights.JoinPoints + DefaultPointWeights.CompletionPoints + 300
	if prog.TotalPoints != wantPoints || prog.ChallengesWon != 1 || prog.ChallengesCompleted != 1 {
		t.Fatalf("winner progress = %+v", prog)
	}

	if _, err := env.svc.RecordActivityContribution(ctx, c.ID, "a", ActivityInput{
		Contribution: engine.Contribution{Distance: 1},
	}); !errors.Is(err, engine.ErrChallengeNotActive) {
		t.Fatalf("contribution after completion: %v", err)
	}
	if _, err := env.svc.JoinChallenge(ctx, c.ID, "late", ""); !errors.Is(err, engine.ErrChallengeClosed) {
		t.Fatalf("join after completion: %v", err)
	}
}

func TestSweepStatusesRunsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := definition(models.Goal{Target: 50, Unit: models.UnitKm, WinCondition: models.WinHighestIndividual})
	def.StartDate = testStart.Add(time.Hour)
	def.EndDate = testStart.Add(2 * time.Hour)
	c := env.create(t, def)
	if c.Status != models.StatusUpcoming {
		t.Fatalf("status = %s, want upcoming", c.Status)
	}
	env.join(t, c.ID, "a")
	env.join(t, c.ID, "b")

	if n, err := env.svc.SweepStatuses(ctx); err != nil || n != 0 {
		t.Fatalf("early sweep: %d %v", n, err)
	}

	env.clock.Advance(90 * time.Minute)
	if n, err := env.svc.SweepStatuses(ctx); err != nil || n != 1 {
		t.Fatalf("activation sweep: %d %v", n, err)
	}
	env.contribute(t, c.ID, "a", "a1", 3)
	env.contribute(t, c.ID, "b", "b1", 8)

	env.clock.Advance(time.Hour)
	if n, err := env.svc.SweepStatuses(ctx); err != nil || n != 1 {
		t.Fatalf("completion sweep: %d %v", n, err)
	}

	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if stored.Status != models.StatusCompleted || stored.WinnerID == nil || *stored.WinnerID != "b" {
		t.Fatalf("status=%s winner=%v", stored.Status, stored.WinnerID)
	}
	if stored.GoalAchievedAt != nil {
		t.Fatal("goal marked achieved below target")
	}

	if len(env.archiver.keys) != 1 || env.archiver.keys[0] != "challenges/"+c.ID+"/leaderboard.json" {
		t.Fatalf("archived keys = %v", env.archiver.keys)
	}
	var snap leaderboardSnapshot
	if err := json.Unmarshal(env.archiver.body, &snap); err != nil {
		t.Fatalf("snapshot json: %v", err)
	}
	if len(snap.Entries) != 2 || snap.Entries[0].UserID != "b" {
		t.Fatalf("snapshot entries = %+v", snap.Entries)
	}

	if n, err := env.svc.SweepStatuses(ctx); err != nil || n != 0 {
		t.Fatalf("idle sweep: %d %v", n, err)
	}
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.create(t, definition(kmGoal))

	if _, err := env.svc.UpdateStatus(ctx, c.ID, "someone", models.StatusCancelled); !errors.Is(err, engine.ErrNotCreator) {
		t.Fatalf("non-creator: %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, c.ID, "creator", models.StatusUpcoming); !errors.Is(err, engine.ErrInvalidStatusTransition) {
		t.Fatalf("backwards: %v", err)
	}
	got, err := env.svc.UpdateStatus(ctx, c.ID, "creator", models.StatusCancelled)
	if err != nil || got.Status != models.StatusCancelled {
		t.Fatalf("cancel: %+v %v", got, err)
	}
	if _, err := env.svc.UpdateStatus(ctx, c.ID, "creator", models.StatusActive); !errors.Is(err, engine.ErrInvalidStatusTransition) {
		t.Fatalf("reopen: %v", err)
	}
}

func TestLeaderboardPersistsRanks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.create(t, definition(kmGoal))
	for _, u := range []string{"a", "b", "c"} {
		env.join(t, c.ID, u)
	}
	env.contribute(t, c.ID, "b", "b1", 9)
	env.contribute(t, c.ID, "c", "c1", 4)

	entries, err := env.svc.GetLeaderboard(ctx, c.ID, false)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	order := []string{entries[0].UserID, entries[1].UserID, entries[2].UserID}
	if strings.Join(order, ",") != "b,c,a" {
		t.Fatalf("order = %v", order)
	}
	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if stored.Participants[1].Rank != 0 {
		t.Fatal("read-only leaderboard persisted ranks")
	}

	if _, err := env.svc.GetLeaderboard(ctx, c.ID, true); err != nil {
		t.Fatalf("persist: %v", err)
	}
	stored, _ = env.svc.GetChallenge(ctx, c.ID)
	ranks := map[string]int{}
	for _, p := range stored.Participants {
		ranks[p.UserID] = p.Rank
	}
	if ranks["b"] != 1 || ranks["c"] != 2 || ranks["a"] != 3 {
		t.Fatalf("ranks = %v", ranks)
	}
}

func TestRepairTotals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.create(t, definition(models.Goal{Target: 500, Unit: models.UnitKm, IsCollective: true}))
	env.join(t, c.ID, "a")
	env.contribute(t, c.ID, "a", "a1", 12)

	if drifted, err := env.svc.RepairTotals(ctx, c.ID); err != nil || drifted {
		t.Fatalf("clean repair: %v %v", drifted, err)
	}

	env.db.Model(&models.Challenge{}).Where("id = ?", c.ID).Update("total_distance", 99)
	drifted, err := env.svc.RepairTotals(ctx, c.ID)
	if err != nil || !drifted {
		t.Fatalf("drifted repair: %v %v", drifted, err)
	}
	stored, _ := env.svc.GetChallenge(ctx, c.ID)
	if stored.TotalProgress.Distance != 12 {
		t.Fatalf("total = %v", stored.TotalProgress.Distance)
	}

	if _, err := env.svc.RepairTotals(ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
}

func TestOnActivityCompletedFansOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runDef := definition(kmGoal)
	runDef.AllowedActivityTypes = []models.ActivityType{models.ActivityRunning}
	run := env.create(t, runDef)

	rideDef := definition(kmGoal)
	rideDef.AllowedActivityTypes = []models.ActivityType{models.ActivityCycling}
	ride := env.create(t, rideDef)

	other := env.create(t, definition(kmGoal))

	left := env.create(t, definition(kmGoal))

	for _, id := range []string{run.ID, ride.ID, left.ID} {
		env.join(t, id, "a")
	}
	env.join(t, other.ID, "b")
	if _, err := env.svc.LeaveChallenge(ctx, left.ID, "a"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	active, err := env.svc.ListActiveChallengesForUser(ctx, "a")
	if err != nil || len(active) != 2 {
		t.Fatalf("active challenges = %d %v", len(active), err)
	}

	ev := ActivityEvent{ActivityID: "strava-1", SportType: "Running", DistanceKm: 6.5, DurationSeconds: 1900}
	results, err := env.svc.OnActivityCompleted(ctx, "a", ev)
	if err != nil {
		t.Fatalf("fan out: %v", err)
	}
	if len(results) != 1 || results[0].ChallengeID != run.ID || results[0].Progress.Distance != 6.5 {
		t.Fatalf("results = %+v", results)
	}

	results, err = env.svc.OnActivityCompleted(ctx, "a", ev)
	if err != nil || len(results) != 1 || !results[0].Duplicate {
		t.Fatalf("replay = %+v %v", results, err)
	}
}
