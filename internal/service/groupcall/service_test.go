package groupcall

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
)

// MockGroupCallRepository is a mock implementation of GroupCallRepository
type MockGroupCallRepository struct {
	mock.Mock
}

func (m *MockGroupCallRepository) Create(ctx context.Context, call *domain.GroupCall, participants []*domain.CallParticipant) error {
	args := m.Called(ctx, call, participants)
	return args.Error(0)
}

func (m *MockGroupCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupCall), args.Error(1)
}

func (m *MockGroupCallRepository) FindLiveByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupCall), args.Error(1)
}

func (m *MockGroupCallRepository) ListParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipant, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallParticipant), args.Error(1)
}

func (m *MockGroupCallRepository) GetParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.CallParticipant, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallParticipant), args.Error(1)
}

func (m *MockGroupCallRepository) Join(ctx context.Context, callID, userID uuid.UUID, audioEnabled, videoEnabled bool) (*domain.GroupJoinOutcome, error) {
	args := m.Called(ctx, callID, userID, audioEnabled, videoEnabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupJoinOutcome), args.Error(1)
}

func (m *MockGroupCallRepository) Leave(ctx context.Context, callID, userID uuid.UUID) (*domain.GroupLeaveOutcome, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupLeaveOutcome), args.Error(1)
}

func (m *MockGroupCallRepository) End(ctx context.Context, callID uuid.UUID) (*domain.GroupEndOutcome, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupEndOutcome), args.Error(1)
}

func (m *MockGroupCallRepository) SetMute(ctx context.Context, callID, userID uuid.UUID, muted bool) error {
	args := m.Called(ctx, callID, userID, muted)
	return args.Error(0)
}

func (m *MockGroupCallRepository) SetRole(ctx context.Context, callID, userID uuid.UUID, role domain.ParticipantRole) error {
	args := m.Called(ctx, callID, userID, role)
	return args.Error(0)
}

// MockGroupRepository is a mock implementation of GroupRepository
type MockGroupRepository struct {
	mock.Mock
}

func (m *MockGroupRepository) IsActiveMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGroupRepository) IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGroupRepository) ListActiveMembers(ctx context.Context, groupID uuid.UUID) ([]*domain.GroupMember, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.GroupMember), args.Error(1)
}

// MockHistoryRepository is a mock implementation of HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Save(history *domain.CallHistory) error {
	args := m.Called(history)
	return args.Error(0)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ToUser(userID uuid.UUID, event domain.Event) bool {
	args := m.Called(userID, event)
	return args.Bool(0)
}

func (m *MockNotifier) ToUsers(userIDs []uuid.UUID, event domain.Event) int {
	args := m.Called(userIDs, event)
	return args.Int(0)
}

func newTestService(callRepo *MockGroupCallRepository, groupRepo *MockGroupRepository, historyRepo *MockHistoryRepository, notifier *MockNotifier) *Service {
	return NewService(callRepo, groupRepo, historyRepo, notifier, nil, nil)
}

func TestCreate(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, groupRepo, new(MockHistoryRepository), notifier)

	groupID := uuid.New()
	creatorID := uuid.New()
	memberID := uuid.New()

	groupRepo.On("IsActiveMember", mock.Anything, groupID, creatorID).Return(true, nil)
	groupRepo.On("ListActiveMembers", mock.Anything, groupID).Return([]*domain.GroupMember{
		{GroupID: groupID, UserID: creatorID, Username: "host"},
		{GroupID: groupID, UserID: memberID, Username: "member"},
	}, nil)
	callRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.GroupCall"), mock.Anything).Return(nil)
	notifier.On("ToUser", memberID, mock.AnythingOfType("domain.GroupCallCreatedEvent")).Return(true)

	output, err := service.Create(context.Background(), &CreateInput{
		GroupID:   groupID,
		CreatorID: creatorID,
		Kind:      domain.CallKindVideo,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusPending, output.Call.Status)
	assert.Len(t, output.Participants, 2)

	var host, invited *domain.CallParticipant
	for _, p := range output.Participants {
		if p.UserID == creatorID {
			host = p
		} else {
			invited = p
		}
	}
	require.NotNil(t, host)
	require.NotNil(t, invited)
	assert.Equal(t, domain.RoleHost, host.Role)
	assert.Equal(t, domain.ParticipantJoined, host.Status)
	assert.Equal(t, domain.ParticipantInvited, invited.Status)

	callRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestCreate_NotAMember(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	service := newTestService(callRepo, groupRepo, new(MockHistoryRepository), new(MockNotifier))

	groupID := uuid.New()
	outsiderID := uuid.New()

	groupRepo.On("IsActiveMember", mock.Anything, groupID, outsiderID).Return(false, nil)

	_, err := service.Create(context.Background(), &CreateInput{
		GroupID:   groupID,
		CreatorID: outsiderID,
		Kind:      domain.CallKindAudio,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "Create")
}

func TestJoin_FirstJoinActivates(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, groupRepo, new(MockHistoryRepository), notifier)

	callID := uuid.New()
	groupID := uuid.New()
	userID := uuid.New()

	call := &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusPending}
	callRepo.On("GetByID", mock.Anything, callID).Return(call, nil)
	groupRepo.On("IsActiveMember", mock.Anything, groupID, userID).Return(true, nil)

	now := time.Now()
	callRepo.On("Join", mock.Anything, callID, userID, true, false).Return(&domain.GroupJoinOutcome{
		Call: &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusActive, StartedAt: &now},
		Participant: &domain.CallParticipant{
			CallID: callID, UserID: userID,
			Role: domain.RoleParticipant, Status: domain.ParticipantJoined,
			JoinedAt: &now,
		},
		Activated: true,
	}, nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: userID, Status: domain.ParticipantJoined},
	}, nil)
	notifier.On("ToUsers", mock.Anything, mock.AnythingOfType("domain.ParticipantJoinedCallEvent")).Return(0)

	outcome, err := service.Join(context.Background(), &JoinInput{
		CallID:       callID,
		UserID:       userID,
		AudioEnabled: true,
	})

	require.NoError(t, err)
	assert.True(t, outcome.Activated)
	callRepo.AssertExpectations(t)
}

func TestJoin_EndedCall(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	service := newTestService(callRepo, groupRepo, new(MockHistoryRepository), new(MockNotifier))

	callID := uuid.New()
	groupID := uuid.New()
	userID := uuid.New()

	call := &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusEnded}
	callRepo.On("GetByID", mock.Anything, callID).Return(call, nil)
	groupRepo.On("IsActiveMember", mock.Anything, groupID, userID).Return(true, nil)
	callRepo.On("Join", mock.Anything, callID, userID, true, true).
		Return(nil, apperrors.InvalidTransitionError("cannot join call in status ended"))

	_, err := service.Join(context.Background(), &JoinInput{
		CallID:       callID,
		UserID:       userID,
		AudioEnabled: true,
		VideoEnabled: true,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestLeave_HostPromotion(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, new(MockGroupRepository), new(MockHistoryRepository), notifier)

	callID := uuid.New()
	groupID := uuid.New()
	hostID := uuid.New()
	successorID := uuid.New()
	now := time.Now()

	callRepo.On("Leave", mock.Anything, callID, hostID).Return(&domain.GroupLeaveOutcome{
		Call:      &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusActive, StartedAt: &now},
		NewHostID: &successorID,
		Participants: []*domain.CallParticipant{
			{CallID: callID, UserID: hostID, Status: domain.ParticipantLeft},
			{CallID: callID, UserID: successorID, Role: domain.RoleHost, Status: domain.ParticipantJoined},
		},
	}, nil)
	notifier.On("ToUsers", []uuid.UUID{successorID}, mock.MatchedBy(func(e domain.Event) bool {
		left, ok := e.(domain.ParticipantLeftCallEvent)
		return ok && left.NewHostID != nil && *left.NewHostID == successorID
	})).Return(1)

	outcome, err := service.Leave(context.Background(), &LeaveInput{CallID: callID, UserID: hostID})

	require.NoError(t, err)
	assert.False(t, outcome.Ended)
	require.NotNil(t, outcome.NewHostID)
	assert.Equal(t, successorID, *outcome.NewHostID)
	notifier.AssertExpectations(t)
}

func TestLeave_LastParticipantEndsCall(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, new(MockGroupRepository), historyRepo, notifier)

	callID := uuid.New()
	groupID := uuid.New()
	lastID := uuid.New()
	otherID := uuid.New()
	started := time.Now().Add(-2 * time.Minute)
	ended := time.Now()

	participants := []*domain.CallParticipant{
		{CallID: callID, UserID: otherID, Status: domain.ParticipantLeft},
		{CallID: callID, UserID: lastID, Role: domain.RoleHost, Status: domain.ParticipantLeft},
	}
	callRepo.On("Leave", mock.Anything, callID, lastID).Return(&domain.GroupLeaveOutcome{
		Call: &domain.GroupCall{
			ID: callID, GroupID: groupID,
			Status: domain.CallStatusEnded, StartedAt: &started, EndedAt: &ended,
		},
		Ended:        true,
		Participants: participants,
	}, nil)
	historyRepo.On("Save", mock.MatchedBy(func(h *domain.CallHistory) bool {
		// One record covering every user who ever had a row.
		return h.CallID == callID && len(h.Participants) == 2 &&
			h.EndedReason == domain.EndedReasonLastLeft
	})).Return(nil)
	notifier.On("ToUsers", mock.Anything, mock.AnythingOfType("domain.GroupCallEndedEvent")).Return(0)

	outcome, err := service.Leave(context.Background(), &LeaveInput{CallID: callID, UserID: lastID})

	require.NoError(t, err)
	assert.True(t, outcome.Ended)
	historyRepo.AssertExpectations(t)
	historyRepo.AssertNumberOfCalls(t, "Save", 1)
}

func TestEnd_ByHost(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, groupRepo, historyRepo, notifier)

	callID := uuid.New()
	groupID := uuid.New()
	hostID := uuid.New()
	memberID := uuid.New()
	started := time.Now().Add(-time.Minute)
	ended := time.Now()

	call := &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusActive, StartedAt: &started}
	callRepo.On("GetByID", mock.Anything, callID).Return(call, nil)
	callRepo.On("GetParticipant", mock.Anything, callID, hostID).Return(&domain.CallParticipant{
		CallID: callID, UserID: hostID, Role: domain.RoleHost, Status: domain.ParticipantJoined,
	}, nil)
	callRepo.On("End", mock.Anything, callID).Return(&domain.GroupEndOutcome{
		Call: &domain.GroupCall{
			ID: callID, GroupID: groupID,
			Status: domain.CallStatusEnded, StartedAt: &started, EndedAt: &ended,
		},
		ForcedOut: []uuid.UUID{hostID, memberID},
		Participants: []*domain.CallParticipant{
			{CallID: callID, UserID: hostID, Status: domain.ParticipantLeft},
			{CallID: callID, UserID: memberID, Status: domain.ParticipantLeft},
		},
	}, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(nil)
	notifier.On("ToUsers", mock.Anything, mock.MatchedBy(func(e domain.Event) bool {
		endedEvent, ok := e.(domain.GroupCallEndedEvent)
		return ok && endedEvent.Reason == domain.EndedReasonHostEnded && endedEvent.EndedBy == hostID
	})).Return(2)

	outcome, err := service.End(context.Background(), callID, hostID)

	require.NoError(t, err)
	assert.Len(t, outcome.ForcedOut, 2)
	notifier.AssertExpectations(t)
	historyRepo.AssertExpectations(t)
}

func TestEnd_ByGroupAdmin(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, groupRepo, historyRepo, notifier)

	callID := uuid.New()
	groupID := uuid.New()
	adminID := uuid.New()
	ended := time.Now()

	call := &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusActive}
	callRepo.On("GetByID", mock.Anything, callID).Return(call, nil)
	callRepo.On("GetParticipant", mock.Anything, callID, adminID).
		Return(nil, apperrors.ParticipantNotFoundError())
	groupRepo.On("IsAdmin", mock.Anything, groupID, adminID).Return(true, nil)
	callRepo.On("End", mock.Anything, callID).Return(&domain.GroupEndOutcome{
		Call:         &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusEnded, EndedAt: &ended},
		Participants: []*domain.CallParticipant{},
	}, nil)
	historyRepo.On("Save", mock.Anything).Return(nil)
	notifier.On("ToUsers", mock.Anything, mock.Anything).Return(0)

	_, err := service.End(context.Background(), callID, adminID)

	assert.NoError(t, err)
	groupRepo.AssertExpectations(t)
}

func TestEnd_ByRegularParticipant(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	groupRepo := new(MockGroupRepository)
	service := newTestService(callRepo, groupRepo, new(MockHistoryRepository), new(MockNotifier))

	callID := uuid.New()
	groupID := uuid.New()
	memberID := uuid.New()

	call := &domain.GroupCall{ID: callID, GroupID: groupID, Status: domain.CallStatusActive}
	callRepo.On("GetByID", mock.Anything, callID).Return(call, nil)
	callRepo.On("GetParticipant", mock.Anything, callID, memberID).Return(&domain.CallParticipant{
		CallID: callID, UserID: memberID, Role: domain.RoleParticipant, Status: domain.ParticipantJoined,
	}, nil)
	groupRepo.On("IsAdmin", mock.Anything, groupID, memberID).Return(false, nil)

	_, err := service.End(context.Background(), callID, memberID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "End")
}

func TestSetMute_Self(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, new(MockGroupRepository), new(MockHistoryRepository), notifier)

	callID := uuid.New()
	userID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).
		Return(&domain.GroupCall{ID: callID, Status: domain.CallStatusActive}, nil)
	callRepo.On("SetMute", mock.Anything, callID, userID, true).Return(nil)
	callRepo.On("ListParticipants", mock.Anything, callID).Return([]*domain.CallParticipant{
		{CallID: callID, UserID: userID, Status: domain.ParticipantJoined},
	}, nil)
	notifier.On("ToUsers", mock.Anything, mock.AnythingOfType("domain.ParticipantMutedEvent")).Return(1)

	err := service.SetMute(context.Background(), &SetMuteInput{
		CallID:   callID,
		TargetID: userID,
		ByUserID: userID,
		Muted:    true,
	})

	assert.NoError(t, err)
	callRepo.AssertExpectations(t)
}

func TestSetMute_OtherRequiresModerator(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	service := newTestService(callRepo, new(MockGroupRepository), new(MockHistoryRepository), new(MockNotifier))

	callID := uuid.New()
	actorID := uuid.New()
	targetID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).
		Return(&domain.GroupCall{ID: callID, Status: domain.CallStatusActive}, nil)
	callRepo.On("GetParticipant", mock.Anything, callID, actorID).Return(&domain.CallParticipant{
		CallID: callID, UserID: actorID, Role: domain.RoleParticipant, Status: domain.ParticipantJoined,
	}, nil)

	err := service.SetMute(context.Background(), &SetMuteInput{
		CallID:   callID,
		TargetID: targetID,
		ByUserID: actorID,
		Muted:    true,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "SetMute")
}

func TestSetRole_HostOnly(t *testing.T) {
	callRepo := new(MockGroupCallRepository)
	service := newTestService(callRepo, new(MockGroupRepository), new(MockHistoryRepository), new(MockNotifier))

	callID := uuid.New()
	actorID := uuid.New()
	targetID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).
		Return(&domain.GroupCall{ID: callID, Status: domain.CallStatusActive}, nil)
	callRepo.On("GetParticipant", mock.Anything, callID, actorID).Return(&domain.CallParticipant{
		CallID: callID, UserID: actorID, Role: domain.RoleModerator, Status: domain.ParticipantJoined,
	}, nil)

	err := service.SetRole(context.Background(), &SetRoleInput{
		CallID:   callID,
		TargetID: targetID,
		ByUserID: actorID,
		Role:     domain.RoleModerator,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "SetRole")
}

func TestSetRole_InvalidRole(t *testing.T) {
	service := newTestService(new(MockGroupCallRepository), new(MockGroupRepository), new(MockHistoryRepository), new(MockNotifier))

	err := service.SetRole(context.Background(), &SetRoleInput{
		CallID:   uuid.New(),
		TargetID: uuid.New(),
		ByUserID: uuid.New(),
		Role:     domain.ParticipantRole("owner"),
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}
