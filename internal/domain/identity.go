package domain

import "github.com/google/uuid"

// Identity is the display snapshot of an authenticated user attached to a
// connection at handshake time. The identity store itself is external; the
// call core only ever reads these three fields.
type Identity struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	RealName string    `json:"realName,omitempty"`
}

// DisplayName prefers the real name and falls back to the username.
func (i Identity) DisplayName() string {
	if i.RealName != "" {
		return i.RealName
	}
	return i.Username
}
