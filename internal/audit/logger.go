package audit

import (
	"context"
	"log/slog"

	"genascope/internal/platform/privacy"
	"genascope/pkg/requestcontext"
)

// Emitter is satisfied by Publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger writes an audit line to the structured log and emits the event.
// A nil emitter only logs.
type Logger struct {
	text    *slog.Logger
	emitter Emitter
}

func NewLogger(text *slog.Logger, emitter Emitter) *Logger {
	if text == nil {
		text = slog.Default()
	}
	return &Logger{text: text, emitter: emitter}
}

// Log enriches event with request metadata from ctx, logs it and emits it.
// Emit failures are logged, never returned.
func (l *Logger) Log(ctx context.Context, action Action, event Event) {
	event.Action = string(action)
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.ClientIP != "" {
		event.ClientIP = privacy.AnonymizeIP(event.ClientIP)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}

	attrs := []any{
		"log_type", "audit",
		"session_id", event.SessionID,
		"request_id", event.RequestID,
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	if event.AccessType != "" {
		attrs = append(attrs, "access_type", event.AccessType)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	l.text.InfoContext(ctx, event.Action, attrs...)

	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, event); err != nil {
		l.text.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
		)
	}
}
