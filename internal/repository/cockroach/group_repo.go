package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"voicelink-backend/internal/domain"
)

// GroupRepository reads group membership. Membership itself is owned by the
// wider backend; this repository only answers the questions the call core
// needs (who is in the group, who is an admin).
type GroupRepository struct {
	pool *pgxpool.Pool
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(pool *pgxpool.Pool) *GroupRepository {
	return &GroupRepository{pool: pool}
}

// IsActiveMember reports whether userID is an active member of groupID.
func (r *GroupRepository) IsActiveMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND user_id = $2 AND is_active = true
		)
	`, groupID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return exists, nil
}

// IsAdmin reports whether userID is an active admin of groupID.
func (r *GroupRepository) IsAdmin(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND user_id = $2 AND is_active = true AND is_admin = true
		)
	`, groupID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check group admin: %w", err)
	}
	return exists, nil
}

// ActiveMemberIDs returns the user IDs of all active members of a group.
func (r *GroupRepository) ActiveMemberIDs(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = $1 AND is_active = true
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group member ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListActiveMembers returns the active members of a group with the display
// fields needed to build identity snapshots.
func (r *GroupRepository) ListActiveMembers(ctx context.Context, groupID uuid.UUID) ([]*domain.GroupMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT gm.group_id, gm.user_id, u.username, COALESCE(u.real_name, ''), gm.is_admin
		FROM group_members gm
		JOIN users u ON u.user_id = gm.user_id
		WHERE gm.group_id = $1 AND gm.is_active = true
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []*domain.GroupMember
	for rows.Next() {
		m := &domain.GroupMember{}
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Username, &m.RealName, &m.IsAdmin); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetUserIdentity returns the display identity of one user.
func (r *GroupRepository) GetUserIdentity(ctx context.Context, userID uuid.UUID) (*domain.Identity, error) {
	id := &domain.Identity{}
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, username, COALESCE(real_name, '')
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&id.ID, &id.Username, &id.RealName)
	if err != nil {
		return nil, fmt.Errorf("failed to get user identity: %w", err)
	}
	return id, nil
}
