package models

import (
	"strings"

	"genascope/internal/auth/controller"
	"genascope/internal/backend"
	"genascope/internal/session"
	"genascope/pkg/validation"
)

// LoginRequest is submitted by the login page, as JSON or a form.
type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=255"`
	Password string `json:"password" form:"password" validate:"required,max=1024"`
	// Redirect is where a page login returns to. Only same-origin paths are kept.
	Redirect string `json:"redirect,omitempty" form:"redirect"`
}

func (r *LoginRequest) FromForm(values map[string][]string) {
	r.Email = first(values, "email")
	r.Password = first(values, "password")
	r.Redirect = first(values, "redirect")
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Redirect = SafeRedirect(r.Redirect, "")
}

func (r *LoginRequest) Validate() error {
	return validation.Validate(r)
}

// SimplifiedAccessRequest carries the invite page's patient details.
type SimplifiedAccessRequest struct {
	InviteToken    string `json:"invite_token" form:"invite_token" validate:"required,max=2048"`
	FirstName      string `json:"first_name" form:"first_name" validate:"required,max=100"`
	LastName       string `json:"last_name" form:"last_name" validate:"required,max=100"`
	DateOfBirth    string `json:"date_of_birth" form:"date_of_birth" validate:"required,datetime=2006-01-02"`
	AgreeToTerms   bool   `json:"agree_to_terms" form:"agree_to_terms" validate:"eq=true"`
	AgreeToPrivacy bool   `json:"agree_to_privacy" form:"agree_to_privacy" validate:"eq=true"`
}

func (r *SimplifiedAccessRequest) FromForm(values map[string][]string) {
	r.InviteToken = first(values, "invite_token")
	r.FirstName = first(values, "first_name")
	r.LastName = first(values, "last_name")
	r.DateOfBirth = first(values, "date_of_birth")
	r.AgreeToTerms = checked(first(values, "agree_to_terms"))
	r.AgreeToPrivacy = checked(first(values, "agree_to_privacy"))
}

func (r *SimplifiedAccessRequest) Normalize() {
	r.InviteToken = strings.TrimSpace(r.InviteToken)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.DateOfBirth = strings.TrimSpace(r.DateOfBirth)
}

func (r *SimplifiedAccessRequest) Validate() error {
	return validation.Validate(r)
}

func (r *SimplifiedAccessRequest) ToBackend() backend.SimplifiedAccessRequest {
	return backend.SimplifiedAccessRequest{
		InviteToken:    r.InviteToken,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		DateOfBirth:    r.DateOfBirth,
		AgreeToTerms:   r.AgreeToTerms,
		AgreeToPrivacy: r.AgreeToPrivacy,
	}
}

type InviteVerifyRequest struct {
	InviteToken string `json:"invite_token" validate:"required,max=2048"`
}

func (r *InviteVerifyRequest) Normalize() {
	r.InviteToken = strings.TrimSpace(r.InviteToken)
}

func (r *InviteVerifyRequest) Validate() error {
	return validation.Validate(r)
}

// IdentityPatch is a profile edit. Omitted fields are left unchanged.
type IdentityPatch struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email,max=255"`
	Name      *string `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	AccountID *string `json:"account_id,omitempty" validate:"omitempty,max=100"`
}

func (r *IdentityPatch) Normalize() {
	for _, f := range []*string{r.Email, r.Name, r.AccountID} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

func (r *IdentityPatch) Validate() error {
	return validation.Validate(r)
}

func (r *IdentityPatch) ToUpdate() session.IdentityUpdate {
	return session.IdentityUpdate{Email: r.Email, Name: r.Name, AccountID: r.AccountID}
}

type ActivityRequest struct {
	Kind string `json:"kind" validate:"required,oneof=pointer keyboard scroll touch"`
}

func (r *ActivityRequest) Normalize() {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
}

func (r *ActivityRequest) Validate() error {
	return validation.Validate(r)
}

func (r *ActivityRequest) ActivityKind() controller.ActivityKind {
	return controller.ActivityKind(r.Kind)
}

// SafeRedirect returns target when it is a same-origin absolute path, else
// fallback.
func SafeRedirect(target, fallback string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return fallback
	}
	return target
}

func first(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func checked(v string) bool {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
