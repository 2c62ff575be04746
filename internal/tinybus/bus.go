// Package tinybus implements the in-process message broker spec.md §4.7
// names TinyBus: a provider registry with directed and broadcast routing,
// generalized from the teacher's internal/events/nostr.go singleton
// publish-to-Nostr side effect and internal/nostr/protocol.go's
// type-keyed dispatch router into a true multi-provider bus.
package tinybus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agora-run/agora/internal/telemetry"
)

// Message is the unit routed through the bus. Destination empty means
// broadcast to every provider except Source.
type Message struct {
	ID          string
	Type        string
	Source      string
	Destination string
	Payload     any
	Timestamp   time.Time
}

// Provider is the bus's provider contract from spec.md §4.7.
type Provider interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsReady() bool
	Send(ctx context.Context, msg Message) error
	OnMessage(handler func(Message))
	MessageTypes() []string
}

// EventKind names the observability events spec.md §4.7 requires the bus
// to emit.
type EventKind string

const (
	EventStarted   EventKind = "tinybus.started"
	EventStopped   EventKind = "tinybus.stopped"
	EventInbound   EventKind = "message.inbound"
	EventOutbound  EventKind = "message.outbound"
	EventRouted    EventKind = "message.routed"
	EventDropped   EventKind = "message.dropped"
	EventErrored   EventKind = "message.error"
)

// Event is published to every registered observer on each bus occurrence.
type Event struct {
	Kind     EventKind
	Message  Message
	Provider string
	Reason   string
	Err      error
}

// Bus is the TinyBus broker: a provider registry plus directed/broadcast
// routing.
type Bus struct {
	log       telemetry.Logger
	mu        sync.RWMutex
	providers map[string]Provider
	observers []func(Event)
	started   bool
}

// New constructs an empty, unstarted Bus.
func New(log telemetry.Logger) *Bus {
	return &Bus{
		log:       log.With("tinybus"),
		providers: make(map[string]Provider),
	}
}

// Observe registers fn to receive every Event the bus emits. Observers run
// synchronously on the publishing goroutine; they must not block.
func (b *Bus) Observe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

func (b *Bus) emit(ev Event) {
	b.mu.RLock()
	observers := append([]func(Event){}, b.observers...)
	b.mu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Register adds a provider. Registering two providers with the same id
// fails, per spec.md §4.7.
func (b *Bus) Register(p Provider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.providers[p.ID()]; exists {
		return fmt.Errorf("tinybus: provider %q already registered", p.ID())
	}
	b.providers[p.ID()] = p
	p.OnMessage(func(msg Message) {
		b.emit(Event{Kind: EventInbound, Message: msg, Provider: p.ID()})
		if err := b.route(context.Background(), msg); err != nil {
			b.emit(Event{Kind: EventErrored, Message: msg, Provider: p.ID(), Err: err})
		}
	})
	return nil
}

// Start starts every registered provider and marks the bus ready to
// publish.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	providers := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.started = true
	b.mu.Unlock()

	for _, p := range providers {
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("tinybus: starting provider %q: %w", p.ID(), err)
		}
	}
	b.emit(Event{Kind: EventStarted})
	return nil
}

// Stop stops every registered provider, best-effort, and marks the bus
// unable to publish further.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.started = false
	providers := make([]Provider, 0, len(b.providers))
	for _, p := range b.providers {
		providers = append(providers, p)
	}
	b.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := p.Stop(ctx); err != nil {
			b.log.Warn("provider stop failed", "provider", p.ID(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	b.emit(Event{Kind: EventStopped})
	return firstErr
}

// Publish routes msg per spec.md §4.7: directed to Destination if set,
// otherwise broadcast to every provider except Source. Publishing before
// Start fails.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if !started {
		return fmt.Errorf("tinybus: publish before start")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return b.route(ctx, msg)
}

func (b *Bus) route(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if msg.Destination != "" {
		p, ok := b.providers[msg.Destination]
		if !ok {
			b.emit(Event{Kind: EventDropped, Message: msg, Reason: "unknown destination"})
			return nil
		}
		return b.deliver(ctx, p, msg)
	}

	for id, p := range b.providers {
		if id == msg.Source {
			continue
		}
		if !acceptsType(p, msg.Type) {
			continue
		}
		_ = b.deliver(ctx, p, msg)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, p Provider, msg Message) error {
	if !p.IsReady() {
		b.emit(Event{Kind: EventDropped, Message: msg, Provider: p.ID(), Reason: "provider not ready"})
		return nil
	}
	if err := p.Send(ctx, msg); err != nil {
		b.emit(Event{Kind: EventErrored, Message: msg, Provider: p.ID(), Err: err})
		return nil
	}
	b.emit(Event{Kind: EventRouted, Message: msg, Provider: p.ID()})
	b.emit(Event{Kind: EventOutbound, Message: msg, Provider: p.ID()})
	return nil
}

func acceptsType(p Provider, msgType string) bool {
	types := p.MessageTypes()
	if len(types) == 0 {
		return true // no declared filter means "handles everything"
	}
	for _, t := range types {
		if t == msgType {
			return true
		}
	}
	return false
}
