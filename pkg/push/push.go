package push

import (
	"context"
	"fmt"

	"voicelink-backend/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM TokenType = "fcm" // Firebase Cloud Messaging
	TokenTypeWeb TokenType = "web" // Web Push
)

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	MarkInactive(ctx context.Context, tokenStr string) error
	DeleteByUserID(ctx context.Context, userID uuid.UUID) error
}

// DeliveryMetrics counts push delivery attempts.
type DeliveryMetrics interface {
	PushSent()
	PushFailed()
}

// Service sends call nudges to users who have no live socket. A nudge is a
// wake-up for the device; the call state itself always travels over the
// socket once the user connects.
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  DeliveryMetrics
}

// NewService creates a new push notification service. metrics may be nil.
func NewService(provider Provider, repo TokenRepository, metrics DeliveryMetrics) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  metrics,
	}
}

// RegisterToken registers or reactivates a push notification token
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.Active = true
		existing.UpdatedAt = token.UpdatedAt
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Store(ctx, existing)
	}
	return s.repo.Store(ctx, token)
}

// UnregisterAllTokens removes all tokens for a user
func (s *Service) UnregisterAllTokens(ctx context.Context, userID uuid.UUID) error {
	return s.repo.DeleteByUserID(ctx, userID)
}

// SendIncomingCallNudge notifies an offline callee about a ringing call.
func (s *Service) SendIncomingCallNudge(ctx context.Context, callID uuid.UUID, callerName, callType string, calleeID uuid.UUID) error {
	notification := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data: map[string]string{
			"type":        "incoming_call",
			"call_id":     callID.String(),
			"caller_name": callerName,
			"call_type":   callType,
		},
	}
	return s.sendToUsers(ctx, notification, []uuid.UUID{calleeID})
}

// SendGroupCallInviteNudge notifies offline group members about a new
// group call they are invited to.
func (s *Service) SendGroupCallInviteNudge(ctx context.Context, callID, groupID uuid.UUID, creatorName, callType string, inviteeIDs []uuid.UUID) error {
	notification := &Notification{
		Title:    "Group Call",
		Body:     fmt.Sprintf("%s started a group call", creatorName),
		Priority: "high",
		Sound:    "default",
		Category: "GROUP_CALL_INVITE",
		Data: map[string]string{
			"type":         "group_call_invite",
			"call_id":      callID.String(),
			"group_id":     groupID.String(),
			"creator_name": creatorName,
			"call_type":    callType,
		},
	}
	return s.sendToUsers(ctx, notification, inviteeIDs)
}

// SendMissedCallNudge notifies a callee about a call they missed.
func (s *Service) SendMissedCallNudge(ctx context.Context, callID uuid.UUID, callerName string, calleeID uuid.UUID) error {
	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_id":     callID.String(),
			"caller_name": callerName,
		},
	}
	return s.sendToUsers(ctx, notification, []uuid.UUID{calleeID})
}

func (s *Service) sendToUsers(ctx context.Context, notification *Notification, userIDs []uuid.UUID) error {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		return nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PushFailed()
		}
		logger.Error("Failed to send push notification",
			zap.String("category", notification.Category),
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return fmt.Errorf("failed to send push notification: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PushSent()
	}
	logger.Info("Push notification sent",
		zap.String("category", notification.Category),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	// Tokens FCM rejects as unregistered are retired so we stop
	// retrying dead devices.
	for _, tokenStr := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, tokenStr); err != nil {
			logger.Warn("Failed to mark token as inactive", zap.Error(err))
		}
	}

	return nil
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount: len(tokens),
	}, nil
}
