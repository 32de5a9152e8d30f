package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Mint signs c with HS256. The gateway never trusts the signature; this exists
// for local tooling and tests that need realistic tokens.
func Mint(c Claims, key []byte) (string, error) {
	mc := jwt.MapClaims{}
	if c.Subject != "" {
		mc["sub"] = c.Subject
	}
	if c.Role != "" {
		mc["role"] = string(c.Role)
	}
	if c.AccessType != "" {
		mc["access_type"] = string(c.AccessType)
	}
	if !c.ExpiresAt.IsZero() {
		mc["exp"] = jwt.NewNumericDate(c.ExpiresAt)
	}
	if !c.IssuedAt.IsZero() {
		mc["iat"] = jwt.NewNumericDate(c.IssuedAt)
	}
	for k, v := range map[string]string{
		"name":             c.Name,
		"email":            c.Email,
		"invite_id":        c.InviteID,
		"chat_strategy_id": c.ChatStrategyID,
	} {
		if v != "" {
			mc[k] = v
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// MintFor is Mint with exp set to now+ttl.
func MintFor(c Claims, key []byte, now time.Time, ttl time.Duration) (string, error) {
	c.IssuedAt = now
	c.ExpiresAt = now.Add(ttl)
	return Mint(c, key)
}
