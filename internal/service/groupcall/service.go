package groupcall

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
	"voicelink-backend/pkg/logger"
	"voicelink-backend/pkg/metrics"
)

// GroupCallRepository interface for group call persistence
type GroupCallRepository interface {
	Create(ctx context.Context, call *domain.GroupCall, participants []*domain.CallParticipant) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error)
	FindLiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error)
	ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error)
	GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error)
	Join(ctx context.Context, callID, userID uuid.UUID, audioEnabled, videoEnabled bool) (*domain.GroupJoinOutcome, error)
	Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupLeaveOutcome, error)
	End(ctx context.Context, callID uuid.UUID) (*domain.GroupEndOutcome, error)
	SetMute(ctx context.Context, callID, userID uuid.UUID, muted bool) error
	SetRole(ctx context.Context, callID, userID uuid.UUID, role domain.ParticipantRole) error
}

// GroupRepository interface for group membership lookups
type GroupRepository interface {
	IsActiveMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	ListActiveMembers(ctx context.Context, groupID uuid.UUID) ([]*domain.GroupMember, error)
}

// HistoryRepository interface for finished-call summaries
type HistoryRepository interface {
	Save(history *domain.CallHistory) error
}

// Notifier delivers events to live connections, best-effort.
type Notifier interface {
	ToUser(userID uuid.UUID, event domain.Event) bool
	ToUsers(userIDs []uuid.UUID, event domain.Event) int
}

// Pusher sends wake-up nudges to devices without a live connection.
type Pusher interface {
	SendGroupCallInviteNudge(ctx context.Context, callID, groupID uuid.UUID, creatorName, callType string, inviteeIDs []uuid.UUID) error
}

// Service drives the group call state machine. All state transitions commit
// in the store before any event is fanned out; capability checks for every
// operation funnel through authorize so direct-call and group-call
// permission logic cannot drift apart.
type Service struct {
	callRepo    GroupCallRepository
	groupRepo   GroupRepository
	historyRepo HistoryRepository
	notifier    Notifier
	pusher      Pusher
	metrics     *metrics.Metrics

	now func() time.Time
}

// NewService creates a new group call service. pusher may be nil.
func NewService(
	callRepo GroupCallRepository,
	groupRepo GroupRepository,
	historyRepo HistoryRepository,
	notifier Notifier,
	pusher Pusher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		callRepo:    callRepo,
		groupRepo:   groupRepo,
		historyRepo: historyRepo,
		notifier:    notifier,
		pusher:      pusher,
		metrics:     m,
		now:         time.Now,
	}
}

// action names a capability the actor must hold for one operation.
type action string

const (
	actionCreate     action = "create"
	actionJoin       action = "join"
	actionEnd        action = "end"
	actionMuteOther  action = "mute_other"
	actionChangeRole action = "change_role"
)

// authorize is the single capability check every operation goes through.
// create/join require active group membership; end requires the current
// host or a group admin; mute_other requires a joined host or moderator;
// change_role requires the host.
func (s *Service) authorize(ctx context.Context, call *domain.GroupCall, actorID uuid.UUID, act action) error {
	switch act {
	case actionCreate, actionJoin:
		member, err := s.groupRepo.IsActiveMember(ctx, call.GroupID, actorID)
		if err != nil {
			return fmt.Errorf("failed to check group membership: %w", err)
		}
		if !member {
			return apperrors.NotAuthorizedError("not an active member of this group")
		}
		return nil

	case actionEnd:
		p, err := s.callRepo.GetParticipant(ctx, call.ID, actorID)
		if err == nil && p.Role == domain.RoleHost {
			return nil
		}
		if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeParticipantNotFound) {
			return err
		}
		admin, err := s.groupRepo.IsAdmin(ctx, call.GroupID, actorID)
		if err != nil {
			return fmt.Errorf("failed to check group admin: %w", err)
		}
		if !admin {
			return apperrors.NotAuthorizedError("only the host or a group admin can end the call")
		}
		return nil

	case actionMuteOther:
		p, err := s.callRepo.GetParticipant(ctx, call.ID, actorID)
		if err != nil {
			return err
		}
		if p.Status != domain.ParticipantJoined ||
			(p.Role != domain.RoleHost && p.Role != domain.RoleModerator) {
			return apperrors.NotAuthorizedError("only a host or moderator can mute others")
		}
		return nil

	case actionChangeRole:
		p, err := s.callRepo.GetParticipant(ctx, call.ID, actorID)
		if err != nil {
			return err
		}
		if p.Status != domain.ParticipantJoined || p.Role != domain.RoleHost {
			return apperrors.NotAuthorizedError("only the host can change roles")
		}
		return nil
	}

	return apperrors.NotAuthorizedError("unknown action")
}

// CreateInput contains group call creation data
type CreateInput struct {
	GroupID   uuid.UUID
	CreatorID uuid.UUID
	Kind      domain.CallKind
}

// CreateOutput reports the created call and its participant rows.
type CreateOutput struct {
	Call         *domain.GroupCall
	Participants []*domain.CallParticipant
}

// Create starts a new group call in pending state. The creator becomes host
// with status joined; every other active group member gets an invited row and
// an invitation event. Offline members get a push nudge instead.
func (s *Service) Create(ctx context.Context, input *CreateInput) (*CreateOutput, error) {
	probe := &domain.GroupCall{GroupID: input.GroupID}
	if err := s.authorize(ctx, probe, input.CreatorID, actionCreate); err != nil {
		return nil, err
	}

	members, err := s.groupRepo.ListActiveMembers(ctx, input.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}

	now := s.now()
	call := &domain.GroupCall{
		ID:        uuid.New(),
		GroupID:   input.GroupID,
		Kind:      input.Kind,
		Status:    domain.CallStatusPending,
		CreatedBy: input.CreatorID,
		CreatedAt: now,
	}

	var creator *domain.GroupMember
	participants := make([]*domain.CallParticipant, 0, len(members))
	for _, m := range members {
		p := &domain.CallParticipant{
			CallID:    call.ID,
			UserID:    m.UserID,
			Role:      domain.RoleParticipant,
			Status:    domain.ParticipantInvited,
			CreatedAt: now,
		}
		if m.UserID == input.CreatorID {
			creator = m
			p.Role = domain.RoleHost
			p.Status = domain.ParticipantJoined
			p.JoinedAt = &now
		}
		participants = append(participants, p)
	}

	if err := s.callRepo.Create(ctx, call, participants); err != nil {
		return nil, err
	}

	creatorIdentity := domain.Identity{ID: input.CreatorID}
	if creator != nil {
		creatorIdentity = creator.Identity()
	}

	invitation := domain.GroupCallCreatedEvent{
		CallID:    call.ID,
		GroupID:   input.GroupID,
		CallType:  input.Kind,
		CreatedBy: creatorIdentity,
		Timestamp: now,
	}

	var offline []uuid.UUID
	for _, p := range participants {
		if p.UserID == input.CreatorID {
			continue
		}
		if !s.notifier.ToUser(p.UserID, invitation) {
			offline = append(offline, p.UserID)
		}
	}

	if s.pusher != nil && len(offline) > 0 {
		if err := s.pusher.SendGroupCallInviteNudge(ctx, call.ID, input.GroupID,
			creatorIdentity.DisplayName(), string(input.Kind), offline); err != nil {
			logger.Warn("Failed to send group call invite nudge",
				zap.String("call_id", call.ID.String()),
				zap.Int("invitee_count", len(offline)),
				zap.Error(err))
		}
	}

	logger.Info("Group call created",
		zap.String("call_id", call.ID.String()),
		zap.String("group_id", input.GroupID.String()),
		zap.String("call_type", string(input.Kind)),
		zap.Int("invited", len(participants)-1))

	return &CreateOutput{Call: call, Participants: participants}, nil
}

// JoinInput contains join data including initial media state.
type JoinInput struct {
	CallID       uuid.UUID
	UserID       uuid.UUID
	AudioEnabled bool
	VideoEnabled bool
}

// Join moves a user into the call. The first join of a pending call
// activates it; everyone already joined learns about the new participant.
func (s *Service) Join(ctx context.Context, input *JoinInput) (*domain.GroupJoinOutcome, error) {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, call, input.UserID, actionJoin); err != nil {
		return nil, err
	}

	outcome, err := s.callRepo.Join(ctx, input.CallID, input.UserID, input.AudioEnabled, input.VideoEnabled)
	if err != nil {
		return nil, err
	}

	if outcome.Activated && s.metrics != nil {
		s.metrics.CallStarted()
	}

	participants, err := s.callRepo.ListParticipants(ctx, input.CallID)
	if err != nil {
		logger.Warn("Failed to list participants after join",
			zap.String("call_id", input.CallID.String()),
			zap.Error(err))
		participants = nil
	}

	event := domain.ParticipantJoinedCallEvent{
		CallID:    call.ID,
		GroupID:   call.GroupID,
		UserID:    input.UserID,
		IsMuted:   outcome.Participant.IsMuted,
		IsVideoOn: outcome.Participant.IsVideoOn,
		Timestamp: s.now(),
	}
	s.notifier.ToUsers(joinedUserIDs(participants, input.UserID), event)

	logger.Info("Participant joined group call",
		zap.String("call_id", call.ID.String()),
		zap.String("user_id", input.UserID.String()),
		zap.Bool("activated", outcome.Activated))

	return outcome, nil
}

// LeaveInput parameterizes Leave; Reason distinguishes an explicit leave
// from disconnect-driven cleanup in the resulting history record.
type LeaveInput struct {
	CallID uuid.UUID
	UserID uuid.UUID
	Reason domain.EndedReason
}

// Leave removes a joined participant. A leaving host hands off to the
// earliest-joined remaining participant; the last leaver ends the call and
// produces its history record.
func (s *Service) Leave(ctx context.Context, input *LeaveInput) (*domain.GroupLeaveOutcome, error) {
	outcome, err := s.callRepo.Leave(ctx, input.CallID, input.UserID)
	if err != nil {
		return nil, err
	}
	call := outcome.Call
	now := s.now()

	if outcome.Ended {
		reason := input.Reason
		if reason == "" {
			reason = domain.EndedReasonLastLeft
		}
		s.finishCall(call, outcome.Participants, input.UserID, reason)

		s.notifier.ToUsers(allUserIDs(outcome.Participants), domain.GroupCallEndedEvent{
			CallID:    call.ID,
			GroupID:   call.GroupID,
			EndedBy:   input.UserID,
			Reason:    reason,
			Duration:  groupCallDuration(call, now),
			Timestamp: now,
		})
	} else {
		s.notifier.ToUsers(joinedUserIDs(outcome.Participants, input.UserID), domain.ParticipantLeftCallEvent{
			CallID:    call.ID,
			GroupID:   call.GroupID,
			UserID:    input.UserID,
			NewHostID: outcome.NewHostID,
			Timestamp: now,
		})
	}

	logger.Info("Participant left group call",
		zap.String("call_id", call.ID.String()),
		zap.String("user_id", input.UserID.String()),
		zap.Bool("ended", outcome.Ended))

	return outcome, nil
}

// End force-terminates a live call. Only the current host or a group admin
// may end; every joined participant is forced out and notified.
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupEndOutcome, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, call, userID, actionEnd); err != nil {
		return nil, err
	}

	outcome, err := s.callRepo.End(ctx, callID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	s.finishCall(outcome.Call, outcome.Participants, userID, domain.EndedReasonHostEnded)

	s.notifier.ToUsers(allUserIDs(outcome.Participants), domain.GroupCallEndedEvent{
		CallID:    outcome.Call.ID,
		GroupID:   outcome.Call.GroupID,
		EndedBy:   userID,
		Reason:    domain.EndedReasonHostEnded,
		Duration:  groupCallDuration(outcome.Call, now),
		Timestamp: now,
	})

	logger.Info("Group call ended",
		zap.String("call_id", callID.String()),
		zap.String("ended_by", userID.String()),
		zap.Int("forced_out", len(outcome.ForcedOut)))

	return outcome, nil
}

// SetMuteInput identifies whose mute flag changes and who asked for it.
type SetMuteInput struct {
	CallID   uuid.UUID
	TargetID uuid.UUID
	ByUserID uuid.UUID
	Muted    bool
}

// SetMute toggles a participant's mute flag. Self-mute is always allowed;
// muting someone else needs host or moderator capability.
func (s *Service) SetMute(ctx context.Context, input *SetMuteInput) error {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return err
	}
	if input.TargetID != input.ByUserID {
		if err := s.authorize(ctx, call, input.ByUserID, actionMuteOther); err != nil {
			return err
		}
	}

	if err := s.callRepo.SetMute(ctx, input.CallID, input.TargetID, input.Muted); err != nil {
		return err
	}

	participants, err := s.callRepo.ListParticipants(ctx, input.CallID)
	if err != nil {
		logger.Warn("Failed to list participants after mute",
			zap.String("call_id", input.CallID.String()),
			zap.Error(err))
		return nil
	}

	s.notifier.ToUsers(joinedUserIDs(participants, uuid.Nil), domain.ParticipantMutedEvent{
		CallID:    input.CallID,
		UserID:    input.TargetID,
		Muted:     input.Muted,
		ByUserID:  input.ByUserID,
		Timestamp: s.now(),
	})

	return nil
}

// SetRoleInput identifies the role change and the acting host.
type SetRoleInput struct {
	CallID   uuid.UUID
	TargetID uuid.UUID
	ByUserID uuid.UUID
	Role     domain.ParticipantRole
}

// SetRole changes a participant's role. Host-only; the store rejects
// demoting the sole host of an active call.
func (s *Service) SetRole(ctx context.Context, input *SetRoleInput) error {
	if !domain.ValidRole(input.Role) {
		return apperrors.InvalidInputError(fmt.Sprintf("unknown role %q", input.Role))
	}

	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, call, input.ByUserID, actionChangeRole); err != nil {
		return err
	}

	if err := s.callRepo.SetRole(ctx, input.CallID, input.TargetID, input.Role); err != nil {
		return err
	}

	participants, err := s.callRepo.ListParticipants(ctx, input.CallID)
	if err != nil {
		logger.Warn("Failed to list participants after role change",
			zap.String("call_id", input.CallID.String()),
			zap.Error(err))
		return nil
	}

	s.notifier.ToUsers(joinedUserIDs(participants, uuid.Nil), domain.ParticipantRoleChangedEvent{
		CallID:    input.CallID,
		UserID:    input.TargetID,
		Role:      input.Role,
		ByUserID:  input.ByUserID,
		Timestamp: s.now(),
	})

	return nil
}

// GetCall retrieves a group call with its participants, restricted to group
// members.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupCall, []*domain.CallParticipant, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, call, userID, actionJoin); err != nil {
		return nil, nil, err
	}
	participants, err := s.callRepo.ListParticipants(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	return call, participants, nil
}

// finishCall writes the history summary of a terminal group call. A failed
// write is logged, never propagated.
func (s *Service) finishCall(call *domain.GroupCall, participants []*domain.CallParticipant, endedBy uuid.UUID, reason domain.EndedReason) {
	now := s.now()
	endedAt := now
	if call.EndedAt != nil {
		endedAt = *call.EndedAt
	}
	duration := groupCallDuration(call, endedAt)

	groupID := call.GroupID
	history := &domain.CallHistory{
		ID:           uuid.New(),
		CallID:       call.ID,
		GroupID:      &groupID,
		Kind:         call.Kind,
		Participants: domain.SnapshotParticipants(participants),
		Duration:     duration,
		EndedReason:  reason,
		EndedAt:      endedAt,
	}

	if err := s.historyRepo.Save(history); err != nil {
		logger.Error("Failed to write group call history",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.HistoryWriteFailed()
		}
	} else if s.metrics != nil {
		s.metrics.HistoryWritten()
	}

	wasActive := call.StartedAt != nil
	if s.metrics != nil {
		s.metrics.CallFinished(string(call.Kind), string(domain.CallStatusEnded),
			time.Duration(duration)*time.Second, wasActive)
	}
}

// groupCallDuration is active time in whole seconds, clamped to zero.
func groupCallDuration(call *domain.GroupCall, endedAt time.Time) int {
	if call.StartedAt == nil {
		return 0
	}
	d := int(endedAt.Sub(*call.StartedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

// joinedUserIDs returns the user ids of joined participants, excluding one.
func joinedUserIDs(participants []*domain.CallParticipant, except uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range participants {
		if p.Status == domain.ParticipantJoined && p.UserID != except {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// allUserIDs returns every user who ever had a participant row.
func allUserIDs(participants []*domain.CallParticipant) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}
