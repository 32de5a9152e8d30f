package audit

import "time"

// Event records a session lifecycle action. It carries no credentials; the
// token never leaves the session store.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	Email      string    `json:"email,omitempty"`
	Action     string    `json:"action"`
	AccessType string    `json:"access_type,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	ClientIP   string    `json:"client_ip,omitempty"`
}

type Action string

const (
	ActionLoginSucceeded    Action = "login_succeeded"
	ActionLoginFailed       Action = "login_failed"
	ActionSimplifiedStarted Action = "simplified_access_started"
	ActionSimplifiedDenied  Action = "simplified_access_denied"
	ActionLogout            Action = "logout"
	ActionSessionExpired    Action = "session_expired"
	ActionIdentityUpdated   Action = "identity_updated"
)
