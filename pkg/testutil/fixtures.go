package testutil

import (
	"testing"
	"time"

	"genascope/internal/token"
)

// SigningKey is used for test tokens. The gateway never checks signatures.
var SigningKey = []byte("genascope-test-key")

// RegularToken mints a regular-session token for role expiring ttl after now.
func RegularToken(t testing.TB, sub string, role token.Role, now time.Time, ttl time.Duration) string {
	t.Helper()
	raw, err := token.MintFor(token.Claims{
		Subject:    sub,
		Role:       role,
		AccessType: token.AccessRegular,
	}, SigningKey, now, ttl)
	if err != nil {
		t.Fatalf("mint regular token: %v", err)
	}
	return raw
}

// SimplifiedToken mints a patient invite-session token expiring ttl after now.
// A negative ttl produces an already-expired token.
func SimplifiedToken(t testing.TB, sub string, now time.Time, ttl time.Duration) string {
	t.Helper()
	raw, err := token.MintFor(token.Claims{
		Subject:    sub,
		Role:       token.RolePatient,
		AccessType: token.AccessSimplified,
		InviteID:   "inv-" + sub,
	}, SigningKey, now, ttl)
	if err != nil {
		t.Fatalf("mint simplified token: %v", err)
	}
	return raw
}

// TokenWithoutExpiry mints a token that carries no exp claim.
func TokenWithoutExpiry(t testing.TB, sub string, role token.Role) string {
	t.Helper()
	raw, err := token.Mint(token.Claims{Subject: sub, Role: role}, SigningKey)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return raw
}
