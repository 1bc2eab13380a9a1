package domain

import (
	"strings"
	"time"
)

// Role is an administrative level. Roles are totally ordered by rank.
type Role string

const (
	RoleMember     Role = "member"
	RolePartner    Role = "partner"
	RoleOperator   Role = "operator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// TopRole may be held by at most one member at a time.
const TopRole = RoleSuperAdmin

var roleRanks = map[Role]int{
	RoleMember:     0,
	RolePartner:    1,
	RoleOperator:   2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// Rank returns the order of r, or -1 when r is unknown.
func (r Role) Rank() int {
	if rank, ok := roleRanks[r]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether r meets or exceeds required.
func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= 0 && r.Rank() >= required.Rank()
}

// ParseRole normalizes a role name.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if r.Rank() < 0 {
		return "", &ValidationError{Field: "role", Reason: "unknown role " + raw}
	}
	return r, nil
}

// Member is the registration record of a user.
type Member struct {
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	Title        string    `json:"title"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterRequest carries the input for a new registration.
type RegisterRequest struct {
	UserID     string  `json:"user_id"`
	ReferrerID *string `json:"referrer_id,omitempty"`
	Role       Role    `json:"role"`
	Title      string  `json:"title"`
}

// RegisterResult describes the outcome of a registration.
type RegisterResult struct {
	Member        Member         `json:"member"`
	Account       *Account       `json:"account"`
	PendingReward *PendingReward `json:"pending_reward,omitempty"`
}
