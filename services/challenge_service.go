// services/challenge_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"challenge-engine/engine"
	"challenge-engine/metrics"
	"challenge-engine/models"
	"challenge-engine/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendChecker answers friends_only visibility questions. It is backed by the
// social graph service; without one, friends_only challenges need a code or invite.
type FriendChecker interface {
	AreFriends(ctx context.Context, userA, userB string) (bool, error)
}

// SnapshotArchiver stores the final leaderboard of a completed challenge.
type SnapshotArchiver interface {
	ArchiveLeaderboard(ctx context.Context, key string, body []byte) (string, error)
}

type ChallengeService struct {
	DB          *gorm.DB
	Progression *ProgressionService
	Badges      *BadgeService
	Rewards     *RewardService

	friends    FriendChecker
	archiver   SnapshotArchiver
	maxRetries int
	now        func() time.Time
	locks      *keyedMutex
}

type ChallengeOption func(*ChallengeService)

func WithFriendChecker(f FriendChecker) ChallengeOption {
	return func(s *ChallengeService) { s.friends = f }
}

func WithSnapshotArchiver(a SnapshotArchiver) ChallengeOption {
	return func(s *ChallengeService) { s.archiver = a }
}

func WithMaxRetries(n int) ChallengeOption {
	return func(s *ChallengeService) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) ChallengeOption {
	return func(s *ChallengeService) { s.now = now }
}

func NewChallengeService(db *gorm.DB, progression *ProgressionService, badges *BadgeService, rewards *RewardService, opts ...ChallengeOption) *ChallengeService {
	s := &ChallengeService{
		DB:          db,
		Progression: progression,
		Badges:      badges,
		Rewards:     rewards,
		maxRetries:  3,
		now:         time.Now,
		locks:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChallengeService) clock() time.Time {
	return s.now().UTC()
}

const joinCodeAttempts = 5

// CreateChallenge validates def and stores the new challenge. Non-public
// challenges without a creator-chosen code get a generated one.
func (s *ChallengeService) CreateChallenge(ctx context.Context, def engine.Definition) (*models.Challenge, error) {
	c, err := engine.NewChallenge(def, s.clock())
	if err != nil {
		return nil, err
	}
	c.ID = uuid.NewString()

	requested := utils.NormalizeJoinCode(def.JoinCode)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := s.claimJoinCode(tx, requested, c)
		if err != nil {
			return err
		}
		if code != "" {
			c.JoinCode = &code
		}
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return engine.ErrDuplicateJoinCode
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🏁 [Challenge] created %s %q by %s (%s, target %.2f %s)",
		c.ID, c.Title, c.CreatorID, c.Status, c.Goal.Target, c.Goal.Unit)
	return c, nil
}

func (s *ChallengeService) claimJoinCode(tx *gorm.DB, requested string, c *models.Challenge) (string, error) {
	taken := func(code string) (bool, error) {
		var n int64
		err := tx.Model(&models.Challenge{}).Where("join_code = ?", code).Count(&n).Error
		return n > 0, err
	}

	if requested != "" {
		dup, err := taken(requested)
		if err != nil {
			return "", err
		}
		if dup {
			return "", engine.ErrDuplicateJoinCode
		}
		return requested, nil
	}
	if c.Visibility == models.VisibilityPublic {
		return "", nil
	}
	for i := 0; i < joinCodeAttempts; i++ {
		code, err := utils.GenerateJoinCode(c.Title)
		if err != nil {
			return "", err
		}
		dup, err := taken(code)
		if err != nil {
			return "", err
		}
		if !dup {
			return code, nil
		}
	}
	return "", engine.ErrDuplicateJoinCode
}

// GetChallenge loads a challenge with its roster in join order.
func (s *ChallengeService) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	return loadChallenge(s.DB.WithContext(ctx), id, false)
}

// ResolveJoinCode finds the challenge a join code belongs to.
func (s *ChallengeService) ResolveJoinCode(ctx context.Context, code string) (*models.Challenge, error) {
	code = utils.NormalizeJoinCode(code)
	if code == "" {
		return nil, engine.ErrNotFound
	}
	var c models.Challenge
	if err := s.DB.WithContext(ctx).Where("join_code = ?", code).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// JoinChallenge adds userID to the roster, or files a pending request when the
// challenge requires approval.
func (s *ChallengeService) JoinChallenge(ctx context.Context, challengeID, userID, joinCode string) (*engine.JoinResult, error) {
	friends, err := s.areFriends(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}

	var result engine.JoinResult
	_, err = s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		invited, err := isInvited(tx, challengeID, userID)
		if err != nil {
			return err
		}
		result, err = engine.Join(c, engine.JoinRequest{
			UserID:   userID,
			JoinCode: utils.NormalizeJoinCode(joinCode),
			Invited:  invited,
			Friends:  friends,
			Now:      s.clock(),
		})
		return err
	})
	metrics.Joins.WithLabelValues(joinLabel(result, err)).Inc()
	if err != nil {
		return nil, err
	}

	if !result.Pending && !result.Rejoined {
		s.awardJoin(userID, challengeID)
	}
	return &result, nil
}

func (s *ChallengeService) areFriends(ctx context.Context, challengeID, userID string) (bool, error) {
	var head models.Challenge
	if err := s.DB.WithContext(ctx).Select("id", "creator_id", "visibility").
		First(&head, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, engine.ErrNotFound
		}
		return false, err
	}
	if head.Visibility != models.VisibilityFriendsOnly || s.friends == nil || head.CreatorID == userID {
		return false, nil
	}
	ok, err := s.friends.AreFriends(ctx, head.CreatorID, userID)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return ok, nil
}

func isInvited(tx *gorm.DB, challengeID, userID string) (bool, error) {
	var n int64
	err := tx.Model(&models.ChallengeInvite{}).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		Count(&n).Error
	return n > 0, err
}

func joinLabel(res engine.JoinResult, err error) string {
	switch {
	case err == nil && res.Pending:
		return "pending"
	case err == nil:
		return "joined"
	case errors.Is(err, engine.ErrChallengeFull):
		return "full"
	case errors.Is(err, engine.ErrAlreadyJoined), errors.Is(err, engine.ErrApprovalPending):
		return "duplicate"
	case errors.Is(err, engine.ErrAccessDenied):
		return "denied"
	case errors.Is(err, engine.ErrChallengeClosed):
		return "closed"
	}
	return "error"
}

func (s *ChallengeService) awardJoin(userID, challengeID string) {
	if s.Progression == nil {
		return
	}
	if _, err := s.Progression.AwardPoints(userID, DefaultPointWeights.JoinPoints, "challenge_joined:"+challengeID, CounterJoined); err != nil {
		log.Printf("[Challenge] join points failed for %s on %s: %v", userID, challengeID, err)
	}
}

// LeaveChallenge soft-removes userID; progress and achievements are kept.
func (s *ChallengeService) LeaveChallenge(ctx context.Context, challengeID, userID string) (*models.Participant, error) {
	var left models.Participant
	_, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		p, err := engine.Leave(c, userID, s.clock())
		if err != nil {
			return err
		}
		left = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &left, nil
}

// ApproveParticipant activates a pending join request. Creator only.
func (s *ChallengeService) ApproveParticipant(ctx context.Context, challengeID, actorID, userID string) (*models.Participant, error) {
	var approved models.Participant
	_, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		if c.CreatorID != actorID {
			return engine.ErrNotCreator
		}
		p, err := engine.Approve(c, userID, s.clock())
		if err != nil {
			return err
		}
		approved = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Joins.WithLabelValues("approved").Inc()
	s.awardJoin(userID, challengeID)
	return &approved, nil
}

// RejectParticipant declines a pending join request. Creator only.
func (s *ChallengeService) RejectParticipant(ctx context.Context, challengeID, actorID, userID string) (*models.Participant, error) {
	var rejected models.Participant
	_, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		if c.CreatorID != actorID {
			return engine.ErrNotCreator
		}
		p, err := engine.Reject(c, userID)
		if err != nil {
			return err
		}
		rejected = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rejected, nil
}

// InviteUser lets userID join the challenge without its join code. Creator only.
func (s *ChallengeService) InviteUser(ctx context.Context, challengeID, actorID, userID string) (*models.ChallengeInvite, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: invitee is required", engine.ErrInvalidDefinition)
	}
	var c models.Challenge
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", challengeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	if c.CreatorID != actorID {
		return nil, engine.ErrNotCreator
	}
	if c.Status == models.StatusCompleted || c.Status == models.StatusCancelled {
		return nil, engine.ErrChallengeClosed
	}

	invite := models.ChallengeInvite{
		ID:          uuid.NewString(),
		ChallengeID: challengeID,
		UserID:      userID,
		InvitedBy:   actorID,
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "challenge_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&invite).Error; err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).
		Where("challenge_id = ? AND user_id = ?", challengeID, userID).
		First(&invite).Error; err != nil {
		return nil, err
	}
	return &invite, nil
}

// UpdateStatus applies a manual lifecycle transition. Creator only.
func (s *ChallengeService) UpdateStatus(ctx context.Context, challengeID, actorID string, to models.ChallengeStatus) (*models.Challenge, error) {
	var events []engine.Event
	c, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		if c.CreatorID != actorID {
			return engine.ErrNotCreator
		}
		var err error
		events, err = engine.Transition(c, to, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Challenge] %s status → %s by %s", challengeID, c.Status, actorID)
	s.dispatch(ctx, c, events, "manual")
	return c, nil
}

// GetLeaderboard ranks the active participants. With persistRanks the computed
// ranks are written back to the roster as a cache.
func (s *ChallengeService) GetLeaderboard(ctx context.Context, challengeID string, persistRanks bool) ([]engine.Entry, error) {
	if !persistRanks {
		c, err := loadChallenge(s.DB.WithContext(ctx), challengeID, false)
		if err != nil {
			return nil, err
		}
		return engine.Leaderboard(c)
	}

	var entries []engine.Entry
	_, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		var err error
		entries, err = engine.Leaderboard(c)
		if err != nil {
			return err
		}
		engine.ApplyRanks(c, entries)
		return nil
	})
	return entries, err
}

// ListActiveChallengesForUser returns the active challenges userID actively participates in.
func (s *ChallengeService) ListActiveChallengesForUser(ctx context.Context, userID string) ([]models.Challenge, error) {
	var out []models.Challenge
	err := s.DB.WithContext(ctx).
		Joins("JOIN participants ON participants.challenge_id = challenges.id").
		Where("participants.user_id = ? AND participants.is_active = ? AND challenges.status = ?",
			userID, true, models.StatusActive).
		Order("challenges.end_date ASC").
		Find(&out).Error
	return out, err
}

// RepairTotals recomputes the roster-derived aggregates and reports whether
// the stored collective total had drifted.
func (s *ChallengeService) RepairTotals(ctx context.Context, challengeID string) (bool, error) {
	var drifted bool
	_, err := s.withChallenge(ctx, challengeID, func(tx *gorm.DB, c *models.Challenge) error {
		drifted = !engine.TotalsConsistent(c)
		engine.RefreshRoster(c)
		return nil
	})
	if err != nil {
		return false, err
	}
	if drifted {
		log.Printf("🔧 [Challenge] repaired drifted totals on %s", challengeID)
	}
	return drifted, nil
}

// SweepStatuses applies wall-clock transitions to every challenge that is due
// and returns how many changed.
func (s *ChallengeService) SweepStatuses(ctx context.Context) (int, error) {
	now := s.clock()
	var due []string
	if err := s.DB.WithContext(ctx).Model(&models.Challenge{}).
		Where("((status = ? AND start_date <= ?) OR (status = ? AND end_date < ?))",
			models.StatusUpcoming, now, models.StatusActive, now).
		Pluck("id", &due).Error; err != nil {
		return 0, err
	}

	changed := 0
	var errs []error
	for _, id := range due {
		var events []engine.Event
		var before models.ChallengeStatus
		c, err := s.withChallenge(ctx, id, func(tx *gorm.DB, c *models.Challenge) error {
			before = c.Status
			events = engine.Sweep(c, s.clock())
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", id, err))
			continue
		}
		if c.Status != before {
			changed++
			log.Printf("[Scheduler] challenge %s %s → %s", id, before, c.Status)
		}
		s.dispatch(ctx, c, events, "window")
	}
	return changed, errors.Join(errs...)
}

// withChallenge runs fn against a locked, fully loaded challenge and saves
// everything fn changed in the same transaction. Conflicts are retried with a
// fresh load; fn must therefore be safe to run more than once. It returns the
// committed aggregate and the achievements created by the update.
func (s *ChallengeService) withChallenge(ctx context.Context, id string, fn func(tx *gorm.DB, c *models.Challenge) error) (*models.Challenge, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var committed *models.Challenge
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			c, err := loadChallenge(tx, id, true)
			if err != nil {
				return err
			}
			before := snapshotRoster(c)
			if err := fn(tx, c); err != nil {
				return err
			}
			if err := saveChallenge(tx, c, before); err != nil {
				return err
			}
			committed = c
			return nil
		})
		if err == nil {
			return committed, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		metrics.UpdateRetries.Inc()
		log.Printf("[Challenge] conflict on %s (attempt %d/%d): %v", id, attempt, s.maxRetries, err)
	}
	metrics.UpdateConflicts.Inc()
	return nil, fmt.Errorf("%w: %v", engine.ErrConcurrentUpdateFailed, lastErr)
}

func isRetryable(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func loadChallenge(db *gorm.DB, id string, forUpdate bool) (*models.Challenge, error) {
	q := db
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var c models.Challenge
	if err := q.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, engine.ErrNotFound
		}
		return nil, err
	}
	if err := db.Where("challenge_id = ?", id).
		Order("position ASC").
		Preload("Achievements", func(db *gorm.DB) *gorm.DB {
			return db.Order("earned_at ASC")
		}).
		Find(&c.Participants).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

type rosterSnapshot struct {
	participants map[string]models.Participant
}

func snapshotRoster(c *models.Challenge) rosterSnapshot {
	snap := rosterSnapshot{participants: make(map[string]models.Participant, len(c.Participants))}
	for _, p := range c.Participants {
		p.Achievements = nil
		snap.participants[p.ID] = p
	}
	return snap
}

// saveChallenge writes the aggregate row, inserts new participants, updates
// the changed ones and appends new achievements.
func saveChallenge(tx *gorm.DB, c *models.Challenge, before rosterSnapshot) error {
	if err := tx.Omit(clause.Associations).Save(c).Error; err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}

	for i := range c.Participants {
		p := &c.Participants[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
			p.ChallengeID = c.ID
			if err := tx.Omit(clause.Associations).Create(p).Error; err != nil {
				return fmt.Errorf("create participant %s: %w", p.UserID, err)
			}
		} else if old, ok := before.participants[p.ID]; !ok || participantChanged(old, *p) {
			if err := tx.Omit(clause.Associations).Save(p).Error; err != nil {
				return fmt.Errorf("save participant %s: %w", p.UserID, err)
			}
		}

		for j := range p.Achievements {
			a := &p.Achievements[j]
			if a.ID != "" {
				continue
			}
			a.ID = uuid.NewString()
			a.ParticipantID = p.ID
			a.ChallengeID = c.ID
			if err := tx.Create(a).Error; err != nil {
				return fmt.Errorf("create achievement: %w", err)
			}
			metrics.Achievements.WithLabelValues(string(a.Type)).Inc()
		}
	}
	return nil
}

func participantChanged(a, b models.Participant) bool {
	return a.Progress != b.Progress ||
		a.IsActive != b.IsActive ||
		a.Approval != b.Approval ||
		a.Rank != b.Rank ||
		a.IsWinner != b.IsWinner ||
		a.Position != b.Position ||
		!a.JoinedAt.Equal(b.JoinedAt) ||
		!sameTime(a.LeftAt, b.LeftAt) ||
		!sameTime(a.CompletedAt, b.CompletedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
