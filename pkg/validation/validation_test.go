package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "genascope/pkg/domain-errors"
)

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"notblank"`
}

type consentForm struct {
	BirthDate string `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Terms     bool   `json:"agree_to_terms" validate:"eq=true"`
}

func TestValidate(t *testing.T) {
	t.Run("valid struct passes", func(t *testing.T) {
		require.NoError(t, Validate(loginForm{Email: "user@example.com", Password: "correct-pass"}))
	})

	t.Run("messages use the wire field name", func(t *testing.T) {
		err := Validate(loginForm{Email: "not-an-email", Password: "x"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Equal(t, "email must be a valid email", err.Error())
	})

	t.Run("blank password rejected", func(t *testing.T) {
		err := Validate(loginForm{Email: "user@example.com", Password: "   "})
		assert.EqualError(t, err, "password must not be blank")
	})

	t.Run("date and consent rules", func(t *testing.T) {
		assert.EqualError(t, Validate(consentForm{BirthDate: "01/02/1990", Terms: true}),
			"date_of_birth must be a date formatted as 2006-01-02")
		assert.EqualError(t, Validate(consentForm{BirthDate: "1990-01-02"}),
			"agree_to_terms must be true")
	})
}

func TestErrorMessageFallback(t *testing.T) {
	assert.Equal(t, "invalid request body", ErrorMessage(assert.AnError))
}
