package engine

import (
	"time"

	"challenge-engine/models"
)

// JoinRequest carries everything the access rules need about the caller.
// Invited and Friends are resolved by the caller before the roster is locked.
type JoinRequest struct {
	UserID   string
	JoinCode string
	Invited  bool
	Friends  bool
	Now      time.Time
}

// JoinResult reports what a join did.
type JoinResult struct {
	Participant *models.Participant
	// Pending is set when the challenge requires approval and the entry waits for the creator.
	Pending bool
	// Rejoined is set when an earlier inactive entry was reactivated.
	Rejoined bool
}

// FindParticipant returns the roster entry for userID in any state.
func FindParticipant(c *models.Challenge, userID string) *models.Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// FindActive returns the active roster entry for userID.
func FindActive(c *models.Challenge, userID string) (*models.Participant, error) {
	p := FindParticipant(c, userID)
	if p == nil || !p.IsActive {
		return nil, ErrNotAParticipant
	}
	return p, nil
}

// ActiveCount is the number of active roster entries.
func ActiveCount(c *models.Challenge) int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].IsActive {
			n++
		}
	}
	return n
}

// CheckAccess applies the visibility rules. A matching join code or an invite
// opens any challenge; the creator can always join.
func CheckAccess(c *models.Challenge, req JoinRequest) error {
	if req.UserID == c.CreatorID || req.Invited {
		return nil
	}
	if c.JoinCode != nil && req.JoinCode != "" && *c.JoinCode == req.JoinCode {
		return nil
	}
	switch c.Visibility {
	case models.VisibilityPublic:
		return nil
	case models.VisibilityFriendsOnly:
		if req.Friends {
			return nil
		}
	}
	return ErrAccessDenied
}

// Join adds req.UserID to the roster. A user who left earlier is reactivated
// with their previous progress and roster position. On challenges that require
// approval the entry is created pending and does not take a slot until approved.
func Join(c *models.Challenge, req JoinRequest) (JoinResult, error) {
	if c.Status == models.StatusCompleted || c.Status == models.StatusCancelled {
		return JoinResult{}, ErrChallengeClosed
	}
	if err := CheckAccess(c, req); err != nil {
		return JoinResult{}, err
	}

	existing := FindParticipant(c, req.UserID)
	if existing != nil {
		if existing.IsActive {
			return JoinResult{}, ErrAlreadyJoined
		}
		if existing.Approval == models.ApprovalPending {
			return JoinResult{}, ErrApprovalPending
		}
	}
	if ActiveCount(c) >= c.MaxParticipants {
		return JoinResult{}, ErrChallengeFull
	}

	needsApproval := c.RequiresApproval && req.UserID != c.CreatorID && !req.Invited

	p := existing
	rejoined := existing != nil
	if p == nil {
		c.Participants = append(c.Participants, models.Participant{
			ChallengeID: c.ID,
			UserID:      req.UserID,
			Position:    nextPosition(c),
			JoinedAt:    req.Now,
		})
		p = &c.Participants[len(c.Participants)-1]
	}

	if needsApproval {
		p.Approval = models.ApprovalPending
		p.IsActive = false
		return JoinResult{Participant: p, Pending: true, Rejoined: rejoined}, nil
	}

	activate(c, p, req.Now)
	return JoinResult{Participant: p, Rejoined: rejoined}, nil
}

// Approve activates a pending entry. Capacity is checked again because other
// users may have joined since the request.
func Approve(c *models.Challenge, userID string, now time.Time) (*models.Participant, error) {
	if c.Status == models.StatusCompleted || c.Status == models.StatusCancelled {
		return nil, ErrChallengeClosed
	}
	p := FindParticipant(c, userID)
	if p == nil || p.Approval != models.ApprovalPending {
		return nil, ErrNotFound
	}
	if ActiveCount(c) >= c.MaxParticipants {
		return nil, ErrChallengeFull
	}
	p.Approval = models.ApprovalApproved
	activate(c, p, now)
	return p, nil
}

// Reject declines a pending entry. The row stays so the user may ask again.
func Reject(c *models.Challenge, userID string) (*models.Participant, error) {
	p := FindParticipant(c, userID)
	if p == nil || p.Approval != models.ApprovalPending {
		return nil, ErrNotFound
	}
	p.Approval = models.ApprovalRejected
	return p, nil
}

// Leave soft-removes userID. Progress and achievements are kept; a pending
// request is withdrawn instead.
func Leave(c *models.Challenge, userID string, now time.Time) (*models.Participant, error) {
	p := FindParticipant(c, userID)
	if p == nil {
		return nil, ErrNotAParticipant
	}
	if !p.IsActive {
		if p.Approval == models.ApprovalPending {
			p.Approval = models.ApprovalNone
			return p, nil
		}
		return nil, ErrNotAParticipant
	}
	p.IsActive = false
	left := now
	p.LeftAt = &left
	p.Rank = 0
	RefreshRoster(c)
	return p, nil
}

func activate(c *models.Challenge, p *models.Participant, now time.Time) {
	p.IsActive = true
	p.LeftAt = nil
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now
	}
	RefreshRoster(c)
	RecordGrowth(c, now)
}

func nextPosition(c *models.Challenge) int {
	next := 0
	for i := range c.Participants {
		if c.Participants[i].Position >= next {
			next = c.Participants[i].Position + 1
		}
	}
	return next
}
