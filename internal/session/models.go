package session

import (
	"time"

	"genascope/internal/token"
)

// Entry names of the two values kept per browser session.
const (
	EntryToken    = "authToken"
	EntryIdentity = "authUser"
)

// Identity is the cached view of the authenticated principal.
type Identity struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      token.Role `json:"role"`
	AccountID string     `json:"account_id,omitempty"`
}

// IdentityUpdate carries profile edits. Nil fields are left unchanged.
type IdentityUpdate struct {
	Email     *string
	Name      *string
	AccountID *string
}

// Apply returns a copy of i with the update merged in.
func (i Identity) Apply(u IdentityUpdate) Identity {
	if u.Email != nil {
		i.Email = *u.Email
	}
	if u.Name != nil {
		i.Name = *u.Name
	}
	if u.AccountID != nil {
		i.AccountID = *u.AccountID
	}
	return i
}

// Record is what Load returns for a session.
type Record struct {
	SessionID string
	Token     string
	Identity  Identity
	SavedAt   time.Time
}

type ChangeKind string

const (
	ChangeSaved    ChangeKind = "saved"
	ChangeIdentity ChangeKind = "identity"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is published on every write so other tabs and replicas can react.
type Change struct {
	SessionID string     `json:"session_id"`
	Kind      ChangeKind `json:"kind"`
	At        time.Time  `json:"at"`
}
