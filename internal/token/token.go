// Package token decodes the claims carried by backend-issued bearer tokens.
//
// Decoding never verifies the signature: the backend re-validates every
// privileged call, so these claims drive session UX (expiry, access type,
// role) and never authorization on their own.
package token

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "genascope/pkg/domain-errors"
)

// ErrMalformedToken matches any decode failure via errors.Is.
var ErrMalformedToken = dErrors.New(dErrors.CodeMalformedToken, "malformed token")

type AccessType string

const (
	AccessRegular    AccessType = "regular"
	AccessSimplified AccessType = "simplified"
)

type Role string

const (
	RolePatient    Role = "patient"
	RoleClinician  Role = "clinician"
	RolePhysician  Role = "physician"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RolePhysician, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Claims is the decoded view of a token's payload.
type Claims struct {
	Subject        string
	Role           Role
	AccessType     AccessType
	ExpiresAt      time.Time // zero when the token carries no exp
	IssuedAt       time.Time
	Name           string
	Email          string
	InviteID       string
	ChatStrategyID string
}

// subjectClaims lists where the subject may live; simplified tokens from the
// backend carry it under one of the fallbacks.
var subjectClaims = []string{"sub", "id", "user_id", "patient_id"}

var parser = jwt.NewParser()

// Decode splits and decodes raw without checking its signature.
func Decode(raw string) (*Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, mc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedToken, fmt.Sprintf("malformed token: %v", err))
	}

	c := &Claims{
		Role:           Role(stringClaim(mc, "role")),
		AccessType:     AccessType(stringClaim(mc, "access_type")),
		Name:           stringClaim(mc, "name"),
		Email:          stringClaim(mc, "email"),
		InviteID:       stringClaim(mc, "invite_id"),
		ChatStrategyID: stringClaim(mc, "chat_strategy_id"),
	}
	for _, key := range subjectClaims {
		if v := stringClaim(mc, key); v != "" {
			c.Subject = v
			break
		}
	}
	if c.AccessType == "" {
		c.AccessType = AccessRegular
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMalformedToken, "malformed token: invalid exp claim")
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}

// stringClaim tolerates numeric identifiers, which some backends emit.
func stringClaim(mc jwt.MapClaims, key string) string {
	switch v := mc[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// HasExpiry reports whether the token carried an exp claim.
func (c *Claims) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Expired is true when exp is absent or exp <= now.
func (c *Claims) Expired(now time.Time) bool {
	return !c.HasExpiry() || !c.ExpiresAt.After(now)
}

// Remaining returns max(0, exp-now); ok is false without an exp claim.
func (c *Claims) Remaining(now time.Time) (time.Duration, bool) {
	return RemainingUntil(c.ExpiresAt, now)
}

// RemainingUntil applies the Remaining rule to an expiry already read from a
// token; a zero exp means none.
func RemainingUntil(exp, now time.Time) (time.Duration, bool) {
	if exp.IsZero() {
		return 0, false
	}
	return max(0, exp.Sub(now)), true
}

func (c *Claims) IsSimplified() bool {
	return c.AccessType == AccessSimplified
}

// HasRole reports whether the token's role is one of roles.
func (c *Claims) HasRole(roles ...Role) bool {
	return c.Role.In(roles...)
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	return r != "" && slices.Contains(roles, r)
}

// IsOpaque reports whether raw is not JWT-shaped at all. Opaque bearers are
// regular sessions with no client-side expiry; a three-segment token that
// fails Decode is malformed instead.
func IsOpaque(raw string) bool {
	return raw != "" && strings.Count(raw, ".") != 2
}

// IsExpired fails closed: malformed tokens and tokens without exp are expired.
func IsExpired(raw string, now time.Time) bool {
	c, err := Decode(raw)
	if err != nil {
		return true
	}
	return c.Expired(now)
}

// RemainingLifetime returns ok=false when raw has no exp or cannot be decoded.
func RemainingLifetime(raw string, now time.Time) (time.Duration, bool) {
	c, err := Decode(raw)
	if err != nil {
		return 0, false
	}
	return c.Remaining(now)
}

// AccessTypeOf returns ok=false when raw cannot be decoded.
func AccessTypeOf(raw string) (AccessType, bool) {
	c, err := Decode(raw)
	if err != nil {
		return "", false
	}
	return c.AccessType, true
}
