package models

import (
	"time"

	"genascope/internal/session"
)

// This file contains transport-layer response models for JSON output.

// LoginResult is returned by login and simplified access.
type LoginResult struct {
	User       session.Identity `json:"user"`
	AccessType string           `json:"access_type"`
	Redirect   string           `json:"redirect,omitempty"`
}

// SessionStatus describes the caller's session for the session timer.
type SessionStatus struct {
	Authenticated    bool              `json:"authenticated"`
	State            string            `json:"state"`
	AccessType       string            `json:"access_type,omitempty"`
	User             *session.Identity `json:"user,omitempty"`
	Expired          bool              `json:"expired,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	RemainingSeconds *int64            `json:"remaining_seconds,omitempty"`
	ExpiryWarning    bool              `json:"expiry_warning"`
	InactivityWindow int64             `json:"inactivity_timeout_seconds,omitempty"`
	Device           string            `json:"device"`
}

// LogoutResult is returned to API callers; page callers are redirected.
type LogoutResult struct {
	LoggedOut bool   `json:"logged_out"`
	Redirect  string `json:"redirect"`
}
