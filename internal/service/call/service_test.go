package call

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"voicelink-backend/internal/domain"
	apperrors "voicelink-backend/pkg/errors"
)

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) FindActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) MarkActive(ctx context.Context, callID uuid.UUID, startedAt time.Time) (bool, error) {
	args := m.Called(ctx, callID, startedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt time.Time, duration int) (bool, error) {
	args := m.Called(ctx, callID, status, endedAt, duration)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

func (m *MockCallRepository) CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

// MockHistoryRepository is a mock implementation of HistoryRepository
type MockHistoryRepository struct {
	mock.Mock
}

func (m *MockHistoryRepository) Save(history *domain.CallHistory) error {
	args := m.Called(history)
	return args.Error(0)
}

// MockNotifier records delivered events per user
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) ToUser(userID uuid.UUID, event domain.Event) bool {
	args := m.Called(userID, event)
	return args.Bool(0)
}

// MockIdentityResolver is a mock implementation of IdentityResolver
type MockIdentityResolver struct {
	mock.Mock
}

func (m *MockIdentityResolver) GetUserIdentity(ctx context.Context, userID uuid.UUID) (*domain.Identity, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Identity), args.Error(1)
}

func newTestService(callRepo *MockCallRepository, historyRepo *MockHistoryRepository, notifier *MockNotifier, identities *MockIdentityResolver) *Service {
	return NewService(callRepo, historyRepo, notifier, identities, nil, nil)
}

func TestInitiate(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	identities := new(MockIdentityResolver)
	service := newTestService(callRepo, historyRepo, notifier, identities)

	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("FindActiveBetween", mock.Anything, callerID, receiverID).Return(nil, nil)
	callRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	identities.On("GetUserIdentity", mock.Anything, callerID).
		Return(&domain.Identity{ID: callerID, Username: "alice"}, nil)
	notifier.On("ToUser", receiverID, mock.AnythingOfType("domain.IncomingCallEvent")).Return(true)

	output, err := service.Initiate(context.Background(), &InitiateInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		Kind:       domain.CallKindVideo,
	})

	assert.NoError(t, err)
	assert.NotNil(t, output)
	assert.False(t, output.UserOffline)
	assert.Equal(t, domain.CallStatusPending, output.Call.Status)
	callRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestInitiate_SelfCall(t *testing.T) {
	service := newTestService(new(MockCallRepository), new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	userID := uuid.New()
	_, err := service.Initiate(context.Background(), &InitiateInput{
		CallerID:   userID,
		ReceiverID: userID,
		Kind:       domain.CallKindAudio,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
}

func TestInitiate_AlreadyInCall(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("FindActiveBetween", mock.Anything, callerID, receiverID).
		Return(&domain.Call{ID: uuid.New(), Status: domain.CallStatusActive}, nil)

	_, err := service.Initiate(context.Background(), &InitiateInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		Kind:       domain.CallKindAudio,
	})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyInCall))
	callRepo.AssertNotCalled(t, "Create")
}

func TestInitiate_ReceiverOffline(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	identities := new(MockIdentityResolver)
	service := newTestService(callRepo, historyRepo, notifier, identities)

	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("FindActiveBetween", mock.Anything, callerID, receiverID).Return(nil, nil)
	callRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	identities.On("GetUserIdentity", mock.Anything, callerID).
		Return(&domain.Identity{ID: callerID, Username: "alice"}, nil)
	notifier.On("ToUser", receiverID, mock.AnythingOfType("domain.IncomingCallEvent")).Return(false)
	callRepo.On("MarkTerminal", mock.Anything, mock.AnythingOfType("uuid.UUID"), domain.CallStatusMissed, mock.Anything, 0).
		Return(true, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(nil)

	output, err := service.Initiate(context.Background(), &InitiateInput{
		CallerID:   callerID,
		ReceiverID: receiverID,
		Kind:       domain.CallKindVideo,
	})

	assert.NoError(t, err)
	assert.True(t, output.UserOffline)
	assert.Equal(t, domain.CallStatusMissed, output.Call.Status)
	callRepo.AssertExpectations(t)
	historyRepo.AssertExpectations(t)
}

func TestAccept(t *testing.T) {
	callRepo := new(MockCallRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, new(MockHistoryRepository), notifier, new(MockIdentityResolver))

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.CallStatusPending,
	}, nil)
	callRepo.On("MarkActive", mock.Anything, callID, mock.Anything).Return(true, nil)
	notifier.On("ToUser", callerID, mock.AnythingOfType("domain.CallAcceptedEvent")).Return(true)

	call, err := service.Accept(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, call.Status)
	assert.NotNil(t, call.StartedAt)
	callRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestAccept_NotReceiver(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callID := uuid.New()
	callerID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.CallStatusPending,
	}, nil)

	// The caller accepting their own call is not legal.
	_, err := service.Accept(context.Background(), callID, callerID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "MarkActive")
}

func TestAccept_AlreadyAnswered(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   uuid.New(),
		ReceiverID: receiverID,
		Status:     domain.CallStatusActive,
	}, nil)
	callRepo.On("MarkActive", mock.Anything, callID, mock.Anything).Return(false, nil)

	_, err := service.Accept(context.Background(), callID, receiverID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestReject(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, historyRepo, notifier, new(MockIdentityResolver))

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.CallStatusPending,
	}, nil)
	callRepo.On("MarkTerminal", mock.Anything, callID, domain.CallStatusDeclined, mock.Anything, 0).
		Return(true, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(nil)
	notifier.On("ToUser", callerID, mock.AnythingOfType("domain.CallRejectedEvent")).Return(true)

	call, err := service.Reject(context.Background(), callID, receiverID)

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, call.Status)
	callRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestReject_AfterAccept(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   uuid.New(),
		ReceiverID: receiverID,
		Status:     domain.CallStatusActive,
	}, nil)

	_, err := service.Reject(context.Background(), callID, receiverID)

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))
	callRepo.AssertNotCalled(t, "MarkTerminal")
}

func TestEnd_ActiveCall(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, historyRepo, notifier, new(MockIdentityResolver))

	started := time.Now().Add(-90 * time.Second)
	nowFixed := started.Add(90 * time.Second)
	service.now = func() time.Time { return nowFixed }

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.CallStatusActive,
		StartedAt:  &started,
	}, nil)
	callRepo.On("MarkTerminal", mock.Anything, callID, domain.CallStatusEnded, nowFixed, 90).
		Return(true, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(nil)
	notifier.On("ToUser", receiverID, mock.AnythingOfType("domain.CallEndedEvent")).Return(true)

	call, err := service.End(context.Background(), &EndInput{CallID: callID, UserID: callerID})

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, call.Status)
	assert.Equal(t, 90, call.Duration)
	callRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestEnd_ClockSkewClampsDuration(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, historyRepo, notifier, new(MockIdentityResolver))

	// Start time in the future relative to the service clock.
	started := time.Now().Add(5 * time.Minute)
	nowFixed := time.Now()
	service.now = func() time.Time { return nowFixed }

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.CallStatusActive,
		StartedAt:  &started,
	}, nil)
	callRepo.On("MarkTerminal", mock.Anything, callID, domain.CallStatusEnded, nowFixed, 0).
		Return(true, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(nil)
	notifier.On("ToUser", receiverID, mock.Anything).Return(true)

	call, err := service.End(context.Background(), &EndInput{CallID: callID, UserID: callerID})

	assert.NoError(t, err)
	assert.Equal(t, 0, call.Duration)
}

func TestEnd_NotAParty(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   uuid.New(),
		ReceiverID: uuid.New(),
		Status:     domain.CallStatusActive,
	}, nil)

	_, err := service.End(context.Background(), &EndInput{CallID: callID, UserID: uuid.New()})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotAuthorized))
	callRepo.AssertNotCalled(t, "MarkTerminal")
}

func TestEnd_AlreadyEnded(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	callID := uuid.New()
	callerID := uuid.New()

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: uuid.New(),
		Status:     domain.CallStatusEnded,
	}, nil)
	callRepo.On("MarkTerminal", mock.Anything, callID, domain.CallStatusEnded, mock.Anything, 0).
		Return(false, nil)

	_, err := service.End(context.Background(), &EndInput{CallID: callID, UserID: callerID})

	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidTransition))
}

func TestEnd_HistoryWriteFailureDoesNotBlock(t *testing.T) {
	callRepo := new(MockCallRepository)
	historyRepo := new(MockHistoryRepository)
	notifier := new(MockNotifier)
	service := newTestService(callRepo, historyRepo, notifier, new(MockIdentityResolver))

	callID := uuid.New()
	callerID := uuid.New()
	receiverID := uuid.New()
	started := time.Now().Add(-time.Minute)

	callRepo.On("GetByID", mock.Anything, callID).Return(&domain.Call{
		ID:         callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     domain.CallStatusActive,
		StartedAt:  &started,
	}, nil)
	callRepo.On("MarkTerminal", mock.Anything, callID, domain.CallStatusEnded, mock.Anything, mock.Anything).
		Return(true, nil)
	historyRepo.On("Save", mock.AnythingOfType("*domain.CallHistory")).Return(assert.AnError)
	notifier.On("ToUser", receiverID, mock.AnythingOfType("domain.CallEndedEvent")).Return(true)

	call, err := service.End(context.Background(), &EndInput{CallID: callID, UserID: callerID})

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, call.Status)
	notifier.AssertExpectations(t)
}

func TestGetUserCalls_PaginationDefaults(t *testing.T) {
	callRepo := new(MockCallRepository)
	service := newTestService(callRepo, new(MockHistoryRepository), new(MockNotifier), new(MockIdentityResolver))

	userID := uuid.New()
	callRepo.On("GetUserCalls", mock.Anything, userID, 20, 0).Return([]*domain.Call{}, nil)

	_, err := service.GetUserCalls(context.Background(), userID, 0, 0)

	assert.NoError(t, err)
	callRepo.AssertExpectations(t)
}
