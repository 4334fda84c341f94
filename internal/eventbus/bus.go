// Package eventbus implements the in-process publish/subscribe mechanism
// (C5): listener registration by event name, immediate and time-delayed
// dispatch, durable persistence of unfired scheduled events across process
// restarts.
//
// Grounded on the original's zara.application.events (Event/Listener/
// EventBus: an asyncio.Queue for immediate delivery, a scheduled-event list
// polled every ~100ms, JSON persistence at shutdown reloaded at startup)
// translated to a goroutine + mutex-protected slices + ticker, and the
// teacher's Manager/Scheduler lifecycle shape for Start/Stop.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	core "github.com/meridianhq/apprt/internal/core"
	"github.com/meridianhq/apprt/pkg/logger"
	"github.com/meridianhq/apprt/pkg/metrics"
	"github.com/robfig/cron/v3"
)

// Listener is a callable invoked with one event. Per §4.5, failures in one
// listener do not suppress subsequent listeners but are logged.
type Listener func(ctx context.Context, e Event) error

type scheduledEvent struct {
	event    Event
	fireTime time.Time
	seq      uint64 // enqueue order, breaks fire-time ties per §4.5
}

// Bus is the event bus. Its queue and scheduled-event slice are single-owner
// per spec §5 ("the event bus's queues are single-owner (the bus task)"):
// all mutation happens either before Start (registration) or is guarded by
// mu so concurrent Dispatch/Schedule callers never race with the delivery
// loop.
type Bus struct {
	mu        sync.Mutex
	listeners map[string][]Listener
	queue     []Event
	scheduled []scheduledEvent
	nextSeq   uint64

	persistPath  string
	snapshotCron string

	log *logger.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithPersistPath sets the durable JSON path for unfired scheduled events,
// defaulting to "scheduled_events.json" per the original.
func WithPersistPath(path string) Option {
	return func(b *Bus) { b.persistPath = path }
}

// WithSnapshotSchedule sets a cron expression (parsed by robfig/cron) for a
// periodic mid-run snapshot of pending scheduled events, supplementing the
// at-shutdown persistence with protection against ungraceful kills
// (SPEC_FULL §4.15). An empty string disables the periodic snapshot.
func WithSnapshotSchedule(expr string) Option {
	return func(b *Bus) { b.snapshotCron = expr }
}

// WithLogger sets the bus's logger.
func WithLogger(log *logger.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// New returns a Bus ready to have listeners registered and then Start'd.
func New(opts ...Option) *Bus {
	b := &Bus{
		listeners:    make(map[string][]Listener),
		persistPath:  "scheduled_events.json",
		snapshotCron: "*/5 * * * *",
		log:          logger.NewDefault("eventbus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a listener under name. Listeners for the same name are
// invoked in registration order.
func (b *Bus) Register(name string, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], l)
}

// Dispatch enqueues an event for immediate delivery. Non-blocking.
func (b *Bus) Dispatch(name string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, NewEvent(name, payload))
}

// DispatchEvent enqueues an already-built Event (used when the caller needs
// control over the timestamp, e.g. tests).
func (b *Bus) DispatchEvent(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, e)
}

// Schedule records event to fire at now+delay.
func (b *Bus) Schedule(e Event, delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	b.scheduled = append(b.scheduled, scheduledEvent{
		event:    e,
		fireTime: time.Now().Add(delay),
		seq:      b.nextSeq,
	})
}

// Name satisfies system.Service.
func (b *Bus) Name() string { return "event-bus" }

// Descriptor satisfies system.DescriptorProvider.
func (b *Bus) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "event-bus",
		Domain:       "core",
		Layer:        core.LayerEngine,
		Capabilities: []string{"dispatch", "schedule", "persist"},
	}
}

// Start loads any durably persisted scheduled events and begins the
// delivery loop (and, if configured, the periodic snapshot loop).
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	loadErr := b.loadScheduled()
	b.mu.Unlock()
	if loadErr != nil {
		return fmt.Errorf("eventbus: load persisted scheduled events: %w", loadErr)
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go b.deliveryLoop(runCtx)

	if b.snapshotCron != "" {
		schedule, err := cron.ParseStandard(b.snapshotCron)
		if err != nil {
			return fmt.Errorf("eventbus: parse snapshot schedule: %w", err)
		}
		b.wg.Add(1)
		go b.snapshotLoop(runCtx, schedule)
	}

	return nil
}

// Stop stops the delivery loop, waits for it to exit, delivers every event
// still in the immediate queue (drainQueue), then serialises still-unfired
// scheduled events to durable storage. A persistence failure is logged and
// does not make Stop return an error.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	b.drainQueue(ctx)

	if err := b.persistScheduled(); err != nil {
		b.log.Warnf("eventbus: persisting scheduled events at shutdown failed: %v", err)
	}
	return nil
}

// drainQueue delivers every event still sitting in the immediate queue once
// the delivery loop has stopped ticking. Without this, an event dispatched
// but not yet popped by the 100ms ticker (e.g. an AuditEvent from a request
// handled just before shutdown) would simply be discarded instead of
// drained, contradicting Stop's own "drain currently queued events" contract.
func (b *Bus) drainQueue(ctx context.Context) {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		b.deliver(ctx, event)
	}
}

// deliveryLoop is the cooperative delivery loop from §4.5:
//  1. Move every scheduled event whose fire_time <= now into the immediate
//     queue, in ascending fire-time order (ties broken by enqueue order).
//  2. If the immediate queue is non-empty, pop one and deliver it.
//  3. Sleep briefly (~100ms) before looping.
func (b *Bus) deliveryLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Bus) tick(ctx context.Context) {
	event, ok := b.popDue()
	if !ok {
		return
	}
	b.deliver(ctx, event)
}

// popDue moves due scheduled events into the immediate queue, then pops and
// returns the oldest immediate event, if any.
func (b *Bus) popDue() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	var due []scheduledEvent
	var remaining []scheduledEvent
	for _, s := range b.scheduled {
		if !s.fireTime.After(now) {
			due = append(due, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	b.scheduled = remaining

	sort.Slice(due, func(i, j int) bool {
		if due[i].fireTime.Equal(due[j].fireTime) {
			return due[i].seq < due[j].seq
		}
		return due[i].fireTime.Before(due[j].fireTime)
	})
	for _, s := range due {
		b.queue = append(b.queue, s.event)
	}

	if len(b.queue) == 0 {
		return Event{}, false
	}
	event := b.queue[0]
	b.queue = b.queue[1:]
	return event, true
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	b.mu.Lock()
	listeners := append([]Listener(nil), b.listeners[e.Name]...)
	b.mu.Unlock()

	for _, l := range listeners {
		start := time.Now()
		err := l(ctx, e)
		metrics.RecordBusDelivery(e.Name, err, time.Since(start))
		if err != nil {
			b.log.WithField("event", e.Name).Warnf("listener failed: %v", err)
		}
	}
}

func (b *Bus) snapshotLoop(ctx context.Context, schedule cron.Schedule) {
	defer b.wg.Done()
	next := schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := b.persistScheduled(); err != nil {
				b.log.Warnf("eventbus: periodic snapshot failed: %v", err)
			}
			next = schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

// loadScheduled reads persisted scheduled events from disk at startup, per
// §4.5 "restore at startup". A missing file is not an error.
func (b *Bus) loadScheduled() error {
	raw, err := os.ReadFile(b.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries []persistedScheduledEvent
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	for _, entry := range entries {
		event, err := decodeEvent(entry.Event)
		if err != nil {
			return err
		}
		fireTime, err := time.Parse(time.RFC3339Nano, entry.FireTime)
		if err != nil {
			return fmt.Errorf("eventbus: parse fire_time: %w", err)
		}
		b.nextSeq++
		b.scheduled = append(b.scheduled, scheduledEvent{event: event, fireTime: fireTime, seq: b.nextSeq})
	}
	return nil
}

// persistScheduled writes every not-yet-fired scheduled event to disk.
// Best-effort by design (§7: "if persistence fails, events not yet fired
// are lost but the process still exits cleanly") — callers log the error
// but do not treat it as fatal to shutdown.
func (b *Bus) persistScheduled() error {
	b.mu.Lock()
	scheduled := append([]scheduledEvent(nil), b.scheduled...)
	b.mu.Unlock()

	entries := make([]persistedScheduledEvent, 0, len(scheduled))
	for _, s := range scheduled {
		opaque, err := encodeEvent(s.event)
		if err != nil {
			return err
		}
		entries = append(entries, persistedScheduledEvent{
			Event:    opaque,
			FireTime: s.fireTime.Format(time.RFC3339Nano),
		})
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(b.persistPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(b.persistPath, raw, 0o644)
}
