// Package engine holds the challenge rules: membership, progress accumulation,
// leaderboard ranking, milestone evaluation and status transitions. It operates
// on in-memory aggregates only; persistence and locking live in services.
package engine

import "errors"

var (
	ErrInvalidGoal             = errors.New("invalid goal")
	ErrInvalidTimeWindow       = errors.New("invalid time window: start must be before end")
	ErrInvalidDefinition       = errors.New("invalid challenge definition")
	ErrChallengeFull           = errors.New("challenge is full")
	ErrAlreadyJoined           = errors.New("user already joined challenge")
	ErrApprovalPending         = errors.New("join request is pending approval")
	ErrNotAParticipant         = errors.New("user is not an active participant")
	ErrNotFound                = errors.New("not found")
	ErrDuplicateJoinCode       = errors.New("join code already in use")
	ErrActivityTypeNotAllowed  = errors.New("activity type not allowed for challenge")
	ErrInvalidContribution     = errors.New("invalid contribution")
	ErrAccessDenied            = errors.New("challenge requires an invite or join code")
	ErrChallengeClosed         = errors.New("challenge is closed")
	ErrChallengeNotActive      = errors.New("challenge is not active")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrNotCreator              = errors.New("only the challenge creator may do this")
	ErrInvalidMilestone        = errors.New("invalid milestone")
	ErrConcurrentUpdateFailed  = errors.New("concurrent update failed")
)
