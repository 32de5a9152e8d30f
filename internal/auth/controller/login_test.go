package controller

import (
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"genascope/internal/backend"
	"genascope/internal/session"
	"genascope/internal/token"
	dErrors "genascope/pkg/domain-errors"
	"genascope/pkg/testutil"
)

const sid = "6f1c1a4e-3c55-4c1e-9a57-2d6b3f0e8a11"

func (s *ControllerSuite) expectLogin(raw string, role string) {
	s.backend.EXPECT().Token(gomock.Any(), "user@example.com", "correct-pass").
		Return(&backend.TokenResponse{AccessToken: raw, TokenType: "bearer"}, nil)
	s.backend.EXPECT().Me(gomock.Any(), raw).
		Return(&backend.Me{ID: "u1", Email: "user@example.com", Name: "U", Role: role}, nil)
}

func (s *ControllerSuite) TestLoginPersistsIdentity() {
	s.expectLogin("tok123", "clinician")

	identity, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")

	s.Require().NoError(err)
	s.Equal(token.RoleClinician, identity.Role)

	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("tok123", rec.Token)
	s.Equal(session.Identity{ID: "u1", Email: "user@example.com", Name: "U", Role: token.RoleClinician}, rec.Identity)

	v := s.controller.Resolve(s.ctx, sid)
	s.True(v.Authenticated())
	s.Equal(token.AccessRegular, v.AccessType)
	s.Equal("tok123", v.Token)
	s.True(v.ExpiresAt.IsZero(), "opaque token has no readable expiry")
	s.Equal(1, s.timers.armed(), "regular session arms the inactivity timer")
	s.Equal([]string{"login_succeeded"}, s.events(sid))
}

func (s *ControllerSuite) TestLoginRejectsGarbledToken() {
	s.expectLogin(garbledToken, "clinician")

	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")

	s.True(dErrors.HasCode(err, dErrors.CodeMalformedToken))
	s.Equal(0, s.store.Len())
	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
}

func (s *ControllerSuite) TestLoginRejectedLeavesStoreUntouched() {
	for _, status := range []string{"400", "401"} {
		s.Run(status, func() {
			s.backend.EXPECT().Token(gomock.Any(), "user@example.com", "wrong").
				Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "Incorrect username or password"))

			_, err := s.controller.Login(s.ctx, sid, "user@example.com", "wrong")

			s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
			s.Equal(0, s.store.Len())
			s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
		})
	}
}

func (s *ControllerSuite) TestLoginRejectedKeepsExistingSession() {
	s.expectLogin("tok123", "clinician")
	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")
	s.Require().NoError(err)

	s.backend.EXPECT().Token(gomock.Any(), "user@example.com", "typo").
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "Incorrect username or password"))
	_, err = s.controller.Login(s.ctx, sid, "user@example.com", "typo")

	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	s.True(s.controller.Resolve(s.ctx, sid).Authenticated())
	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("tok123", rec.Token)
}

func (s *ControllerSuite) TestLoginTransportFailureDoesNotMutateState() {
	for _, code := range []dErrors.Code{dErrors.CodeNetwork, dErrors.CodeTimeout, dErrors.CodeBackendUnavailable} {
		s.Run(string(code), func() {
			s.backend.EXPECT().Token(gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil, dErrors.New(code, "backend unreachable"))

			_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")

			s.True(dErrors.HasCode(err, code))
			s.False(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
			s.Equal(0, s.controller.Tracked())
			s.Equal(0, s.store.Len())
		})
	}
}

func (s *ControllerSuite) TestLoginWhoamiRejectionIsCredentialError() {
	s.backend.EXPECT().Token(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&backend.TokenResponse{AccessToken: "tok123"}, nil)
	s.backend.EXPECT().Me(gomock.Any(), "tok123").
		Return(nil, dErrors.New(dErrors.CodeUnauthorized, "token rejected"))

	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")

	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))
	s.Equal(0, s.store.Len())
}

func (s *ControllerSuite) TestLoginRequiresCredentials() {
	_, err := s.controller.Login(s.ctx, sid, "  ", "x")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.controller.Login(s.ctx, sid, "user@example.com", "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ControllerSuite) TestLoginDecodesTokenExpiry() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleAdmin, s.clock.Now(), time.Hour)
	s.expectLogin(raw, "admin")

	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")
	s.Require().NoError(err)

	v := s.controller.Resolve(s.ctx, sid)
	remaining, ok := v.Remaining(s.clock.Now())
	s.True(ok)
	s.Equal(time.Hour, remaining)
}

func (s *ControllerSuite) TestStartSimplified() {
	raw := testutil.SimplifiedToken(s.T(), "p-7", s.clock.Now(), 2*time.Hour)
	req := backend.SimplifiedAccessRequest{InviteToken: "inv-abc", FirstName: "Pat", LastName: "Doe", DateOfBirth: "1980-01-02"}
	s.backend.EXPECT().SimplifiedAccess(gomock.Any(), req).Return(&backend.TokenResponse{AccessToken: raw}, nil)

	identity, err := s.controller.StartSimplified(s.ctx, sid, req)

	s.Require().NoError(err)
	s.Equal("p-7", identity.ID)
	s.Equal("Pat Doe", identity.Name)
	s.Equal(token.RolePatient, identity.Role)

	v := s.controller.Resolve(s.ctx, sid)
	s.True(v.Authenticated())
	s.True(v.IsSimplified())
	s.Equal(0, s.timers.armed(), "simplified sessions have no inactivity timer")
	s.Equal([]string{"simplified_access_started"}, s.events(sid))
}

func (s *ControllerSuite) TestStartSimplifiedRejectsUnboundedTokens() {
	now := s.clock.Now()
	tests := []struct {
		name string
		raw  string
		code dErrors.Code
	}{
		{"lifetime beyond bound", testutil.SimplifiedToken(s.T(), "p-1", now, 5*time.Hour), dErrors.CodeMalformedToken},
		{"no expiry", mintSimplifiedWithoutExpiry(s), dErrors.CodeMalformedToken},
		{"already expired", testutil.SimplifiedToken(s.T(), "p-1", now, -time.Second), dErrors.CodeSessionExpired},
		{"regular token", testutil.RegularToken(s.T(), "p-1", token.RolePatient, now, time.Hour), dErrors.CodeMalformedToken},
		{"opaque token", "not-a-jwt", dErrors.CodeMalformedToken},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.backend.EXPECT().SimplifiedAccess(gomock.Any(), gomock.Any()).
				Return(&backend.TokenResponse{AccessToken: tt.raw}, nil)

			_, err := s.controller.StartSimplified(s.ctx, sid, backend.SimplifiedAccessRequest{InviteToken: "inv"})

			s.True(dErrors.HasCode(err, tt.code), "got %v", err)
			s.Equal(0, s.store.Len())
		})
	}
}

func mintSimplifiedWithoutExpiry(s *ControllerSuite) string {
	raw, err := token.Mint(token.Claims{
		Subject:    "p-1",
		Role:       token.RolePatient,
		AccessType: token.AccessSimplified,
	}, testutil.SigningKey)
	s.Require().NoError(err)
	return raw
}

func (s *ControllerSuite) TestStartSimplifiedBackendRejection() {
	s.backend.EXPECT().SimplifiedAccess(gomock.Any(), gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "date of birth does not match"))

	_, err := s.controller.StartSimplified(s.ctx, sid, backend.SimplifiedAccessRequest{InviteToken: "inv"})

	s.Equal("date of birth does not match", err.Error())
	s.Equal([]string{"simplified_access_denied"}, s.events(sid))
}

func (s *ControllerSuite) TestVerifyInvite() {
	_, err := s.controller.VerifyInvite(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.backend.EXPECT().VerifyInvite(gomock.Any(), "inv-abc").
		Return(&backend.InviteVerification{Valid: false, ErrorMessage: "Invitation expired"}, nil)
	inv, err := s.controller.VerifyInvite(s.ctx, "inv-abc")
	s.Require().NoError(err)
	s.False(inv.Valid)

	s.backend.EXPECT().VerifyInvite(gomock.Any(), "inv-down").Return(nil, errors.New("boom"))
	_, err = s.controller.VerifyInvite(s.ctx, "inv-down")
	s.Error(err)
}
