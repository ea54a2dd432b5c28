package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the privilege tier carried by a user record. It is monotonically
// non-decreasing except on explicit downgrade by an operator.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleFree      Role = "free"
	RolePaid      Role = "paid"
	RoleOperator  Role = "operator"
)

var roleRank = map[Role]int{
	RoleAnonymous: 0,
	RoleFree:      1,
	RolePaid:      2,
	RoleOperator:  3,
}

// AtLeast reports whether r grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// Provider identifies a credential type linked to a user.
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// User is the identity record. The service owns and mutates it; clients hold
// a read-only projection.
type User struct {
	ID              uuid.UUID  `json:"userId"`
	Role            Role       `json:"role"`
	LinkedProviders []Provider `json:"linkedProviders"`
	PrimaryEmail    string     `json:"primaryEmail,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// HasProvider reports whether the given credential type is already linked.
func (u *User) HasProvider(p Provider) bool {
	for _, lp := range u.LinkedProviders {
		if lp == p {
			return true
		}
	}
	return false
}

// LinkProvider appends a credential type. Linking is append-only; it never
// removes an existing credential type.
func (u *User) LinkProvider(p Provider) {
	if !u.HasProvider(p) {
		u.LinkedProviders = append(u.LinkedProviders, p)
	}
}

// Verify promotes an anonymous user after a successful verification event.
// It never reverts an already verified role.
func (u *User) Verify() {
	if u.Role == RoleAnonymous {
		u.Role = RoleFree
	}
}
