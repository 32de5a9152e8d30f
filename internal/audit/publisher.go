package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher captures audit events. With an async buffer, events are queued
// and persisted in the background so the request path never waits on a sink.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
	once   sync.Once
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.store.Append(ctx, event); err != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"session_id", event.SessionID,
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.async {
			close(p.events)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !p.async {
		return p.store.Append(ctx, event)
	}
	// Drop rather than block the request path when the sink falls behind.
	select {
	case p.events <- event:
	default:
		p.logger.Warn("audit buffer full, event dropped",
			"action", event.Action,
			"session_id", event.SessionID,
		)
	}
	return nil
}
