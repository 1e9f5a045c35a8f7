package domain

import "github.com/google/uuid"

// The outcome types below describe what a committed group-call transition
// actually did. Join/Leave/End combine a read-modify-write that must be
// transactionally safe against concurrent callers, so the store reports the
// resolved result instead of letting callers re-derive it from racy reads.

// GroupJoinOutcome is the committed result of one Join.
type GroupJoinOutcome struct {
	Call        *GroupCall
	Participant *CallParticipant
	// Activated is true for exactly one joiner: the one whose join moved the
	// call from pending to active.
	Activated bool
	// Rejoined is true when an existing left/declined/missed row was moved
	// back to joined by an explicit re-join.
	Rejoined bool
}

// GroupLeaveOutcome is the committed result of one Leave.
type GroupLeaveOutcome struct {
	Call *GroupCall
	// NewHostID is set when the leaver held the host role and another joined
	// participant was promoted.
	NewHostID *uuid.UUID
	// Ended is true when the leaver was the last joined participant and the
	// call transitioned to ended.
	Ended bool
	// Participants holds every row of the call (all statuses) so a history
	// summary can be built when Ended is true.
	Participants []*CallParticipant
}

// GroupEndOutcome is the committed result of a forced End.
type GroupEndOutcome struct {
	Call *GroupCall
	// ForcedOut lists the users who were still joined and were moved to left.
	ForcedOut    []uuid.UUID
	Participants []*CallParticipant
}
