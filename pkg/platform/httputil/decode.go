package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "genascope/pkg/domain-errors"
)

// DecodeJSON decodes a JSON request body into the target type.
// On failure, writes an error response and returns nil, false.
//
// Usage:
//
//	req, ok := httputil.DecodeJSON[LoginRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}

// FormDecodable is implemented by request types that can be filled from
// url-encoded form values.
type FormDecodable interface {
	FromForm(values map[string][]string)
}

// DecodeForm parses an application/x-www-form-urlencoded body into T.
func DecodeForm[T any, PT interface {
	*T
	FormDecodable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	if err := r.ParseForm(); err != nil {
		logger.WarnContext(ctx, "failed to parse form body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form body"))
		return nil, false
	}
	req := PT(new(T))
	req.FromForm(r.PostForm)
	return (*T)(req), true
}

// Validatable is implemented by request types that support validation.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that support normalization.
type Normalizable interface {
	Normalize()
}

// PrepareRequest normalizes then validates a request.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare combines JSON decoding with request preparation.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger, ctx, requestID)
	if !ok {
		return nil, false
	}
	if !prepare(w, req, logger, ctx, requestID) {
		return nil, false
	}
	return req, true
}

// Prepare runs PrepareRequest on an already-decoded request and writes the
// error response on failure.
func Prepare(w http.ResponseWriter, req any, logger *slog.Logger, ctx context.Context, requestID string) bool {
	return prepare(w, req, logger, ctx, requestID)
}

func prepare(w http.ResponseWriter, req any, logger *slog.Logger, ctx context.Context, requestID string) bool {
	if err := PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			WriteError(w, err)
		} else {
			WriteError(w, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return false
	}
	return true
}
