package call

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

// CallRepository interface for direct call persistence
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	FindActiveBetween(ctx context.Context, a, b uuid.UUID) (*domain.Call, error)
	MarkActive(ctx context.Context, callID uuid.UUID, startedAt time.Time) (bool, error)
	MarkTerminal(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt time.Time, duration int) (bool, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
	CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error)
}

// HistoryRepository interface for finished-call summaries
type HistoryRepository interface {
	Save(history *domain.CallHistory) error
}

// Notifier delivers events to live connections. Delivery is best-effort;
// the boolean tells the caller whether any connection of the user took the
// event.
type Notifier interface {
	ToUser(userID uuid.UUID, event domain.Event) bool
}

// IdentityResolver supplies display identities for event payloads.
type IdentityResolver interface {
	GetUserIdentity(ctx context.Context, userID uuid.UUID) (*domain.Identity, error)
}

// Pusher sends wake-up nudges to devices without a live connection.
type Pusher interface {
	SendMissedCallNudge(ctx context.Context, callID uuid.UUID, callerName string, calleeID uuid.UUID) error
}

// Service drives the direct call state machine:
// pending -> active -> ended, with pending -> missed and pending -> declined
// as alternate terminal edges. Durable state commits before any event is
// fanned out, so a client that sees an event can trust the store agrees.
type Service struct {
	callRepo    CallRepository
	historyRepo HistoryRepository
	notifier    Notifier
	identities  IdentityResolver
	pusher      Pusher
	metrics     *metrics.Metrics

	now func() time.Time
}

// NewService creates a new direct call service. pusher may be nil when push
// notifications are not configured.
func NewService(
	callRepo CallRepository,
	historyRepo HistoryRepository,
	notifier Notifier,
	identities IdentityResolver,
	pusher Pusher,
	m *metrics.Metrics,
) *Service {
	return &Service{
		callRepo:    callRepo,
		historyRepo: historyRepo,
		notifier:    notifier,
		identities:  identities,
		pusher:      pusher,
		metrics:     m,
		now:         time.Now,
	}
}

// InitiateInput contains call initiation data
type InitiateInput struct {
	CallerID       uuid.UUID
	ReceiverID     uuid.UUID
	Kind           domain.CallKind
	ConversationID uuid.UUID
}

// InitiateOutput reports the created call back to the initiator.
// UserOffline is true when the receiver had no live connection and the call
// went straight to missed.
type InitiateOutput struct {
	Call        *domain.Call
	UserOffline bool
}

// Initiate starts a new direct call in pending state and rings the receiver.
// An unreachable receiver is not an error: the call transitions to missed
// and the initiator learns synchronously via UserOffline.
func (s *Service) Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error) {
	if input.CallerID == input.ReceiverID {
		return nil, apperrors.InvalidInputError("cannot call yourself")
	}

	existing, err := s.callRepo.FindActiveBetween(ctx, input.CallerID, input.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing call: %w", err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyInCallError("a call between these users is already in progress")
	}

	now := s.now()
	call := &domain.Call{
		ID:             uuid.New(),
		CallerID:       input.CallerID,
		ReceiverID:     input.ReceiverID,
		ConversationID: input.ConversationID,
		Kind:           input.Kind,
		Status:         domain.CallStatusPending,
		CreatedAt:      now,
	}

	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	caller, err := s.identities.GetUserIdentity(ctx, input.CallerID)
	if err != nil {
		logger.Warn("Failed to resolve caller identity",
			zap.String("caller_id", input.CallerID.String()),
			zap.Error(err))
		caller = &domain.Identity{ID: input.CallerID}
	}

	delivered := s.notifier.ToUser(input.ReceiverID, domain.IncomingCallEvent{
		CallID:         call.ID,
		FromUserID:     input.CallerID,
		CallType:       input.Kind,
		ConversationID: input.ConversationID,
		From:           *caller,
		Timestamp:      now,
	})

	if !delivered {
		// Receiver is offline. The call never rang, so it is missed from
		// the start; the initiator learns synchronously.
		if _, err := s.callRepo.MarkTerminal(ctx, call.ID, domain.CallStatusMissed, now, 0); err != nil {
			return nil, fmt.Errorf("failed to mark call missed: %w", err)
		}
		call.Status = domain.CallStatusMissed
		call.EndedAt = &now

		s.writeHistory(call, domain.EndedReasonMissed)
		s.recordFinished(call, "missed", 0, false)

		if s.pusher != nil {
			if err := s.pusher.SendMissedCallNudge(ctx, call.ID, caller.DisplayName(), input.ReceiverID); err != nil {
				logger.Warn("Failed to send missed call nudge",
					zap.String("call_id", call.ID.String()),
					zap.Error(err))
			}
		}

		return &InitiateOutput{Call: call, UserOffline: true}, nil
	}

	logger.Info("Call initiated",
		zap.String("call_id", call.ID.String()),
		zap.String("caller_id", input.CallerID.String()),
		zap.String("receiver_id", input.ReceiverID.String()),
		zap.String("call_type", string(input.Kind)))

	return &InitiateOutput{Call: call}, nil
}

// Accept transitions a pending call to active. Only the receiver may accept.
func (s *Service) Accept(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.ReceiverID != userID {
		return nil, apperrors.NotAuthorizedError("only the receiver can accept a call")
	}

	now := s.now()
	ok, err := s.callRepo.MarkActive(ctx, callID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to accept call: %w", err)
	}
	if !ok {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot accept call in status %s", call.Status))
	}
	call.Status = domain.CallStatusActive
	call.StartedAt = &now

	if s.metrics != nil {
		s.metrics.CallStarted()
	}

	s.notifier.ToUser(call.CallerID, domain.CallAcceptedEvent{
		CallID:         call.ID,
		FromUserID:     userID,
		ConversationID: call.ConversationID,
		Timestamp:      now,
	})

	logger.Info("Call accepted", zap.String("call_id", call.ID.String()))

	return call, nil
}

// Reject declines a pending call. Only the receiver may reject.
func (s *Service) Reject(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.ReceiverID != userID {
		return nil, apperrors.NotAuthorizedError("only the receiver can reject a call")
	}
	if call.Status != domain.CallStatusPending {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot reject call in status %s", call.Status))
	}

	now := s.now()
	ok, err := s.callRepo.MarkTerminal(ctx, callID, domain.CallStatusDeclined, now, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to reject call: %w", err)
	}
	if !ok {
		return nil, apperrors.InvalidTransitionError("call already answered or ended")
	}
	call.Status = domain.CallStatusDeclined
	call.EndedAt = &now

	s.writeHistory(call, domain.EndedReasonDeclined)
	s.recordFinished(call, "declined", 0, false)

	s.notifier.ToUser(call.CallerID, domain.CallRejectedEvent{
		CallID:         call.ID,
		FromUserID:     userID,
		ConversationID: call.ConversationID,
		Timestamp:      now,
	})

	logger.Info("Call rejected", zap.String("call_id", call.ID.String()))

	return call, nil
}

// EndInput parameterizes End for the disconnect-cleanup path, which reports
// a different reason than an explicit hangup.
type EndInput struct {
	CallID uuid.UUID
	UserID uuid.UUID
	Reason domain.EndedReason
}

// End terminates a pending or active call. Either party may end; duration
// counts only active time and is clamped to zero under clock skew.
func (s *Service) End(ctx context.Context, input *EndInput) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, input.CallID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(input.UserID) {
		return nil, apperrors.NotAuthorizedError("not a party to this call")
	}

	now := s.now()
	wasActive := call.Status == domain.CallStatusActive
	duration := 0
	if wasActive {
		duration = call.DurationSince(now)
	}

	ok, err := s.callRepo.MarkTerminal(ctx, input.CallID, domain.CallStatusEnded, now, duration)
	if err != nil {
		return nil, fmt.Errorf("failed to end call: %w", err)
	}
	if !ok {
		return nil, apperrors.InvalidTransitionError(
			fmt.Sprintf("cannot end call in status %s", call.Status))
	}
	call.Status = domain.CallStatusEnded
	call.EndedAt = &now
	call.Duration = duration

	reason := input.Reason
	if reason == "" {
		reason = domain.EndedReasonHangup
	}

	s.writeHistory(call, reason)
	s.recordFinished(call, "ended", time.Duration(duration)*time.Second, wasActive)

	s.notifier.ToUser(call.OtherParty(input.UserID), domain.CallEndedEvent{
		CallID:         call.ID,
		FromUserID:     input.UserID,
		ConversationID: call.ConversationID,
		Duration:       duration,
		Timestamp:      now,
	})

	logger.Info("Call ended",
		zap.String("call_id", call.ID.String()),
		zap.Int("duration", duration),
		zap.String("reason", string(reason)))

	return call, nil
}

// GetCall retrieves one call, restricted to its parties.
func (s *Service) GetCall(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsParty(userID) {
		return nil, apperrors.NotAuthorizedError("not a party to this call")
	}
	return call, nil
}

// GetUserCalls retrieves a user's direct calls with pagination.
func (s *Service) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.callRepo.GetUserCalls(ctx, userID, limit, offset)
}

// CountUserCalls returns how many direct calls involve the user.
func (s *Service) CountUserCalls(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.callRepo.CountUserCalls(ctx, userID)
}

// writeHistory records the post-hoc summary of a terminal call. A failed
// write is logged and swallowed: losing a history record must never block
// the state machine.
func (s *Service) writeHistory(call *domain.Call, reason domain.EndedReason) {
	history := &domain.CallHistory{
		ID:     uuid.New(),
		CallID: call.ID,
		Kind:   call.Kind,
		Participants: []domain.ParticipantSnapshot{
			{UserID: call.CallerID, Role: domain.RoleHost, JoinedAt: call.StartedAt, LeftAt: call.EndedAt},
			{UserID: call.ReceiverID, Role: domain.RoleParticipant, JoinedAt: call.StartedAt, LeftAt: call.EndedAt},
		},
		Duration:    call.Duration,
		EndedReason: reason,
		EndedAt:     *call.EndedAt,
	}

	if err := s.historyRepo.Save(history); err != nil {
		logger.Error("Failed to write call history",
			zap.String("call_id", call.ID.String()),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.HistoryWriteFailed()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.HistoryWritten()
	}
}

func (s *Service) recordFinished(call *domain.Call, outcome string, duration time.Duration, wasActive bool) {
	if s.metrics != nil {
		s.metrics.CallFinished(string(call.Kind), outcome, duration, wasActive)
	}
}
