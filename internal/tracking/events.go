package tracking

import (
	"context"
	"sync"
	"time"
)

const (
	// EventMetricUpdated signals that a metric's current value changed.
	EventMetricUpdated = "metric-updated"
	// EventDayStarted signals that a new tracking day was initialized.
	EventDayStarted = "day-started"
	// EventMealCompleted signals that a meal slot transitioned to completed.
	EventMealCompleted = "meal-completed"
)

// Event is the semantic notification emitted after a state change. Consumers
// render it however they like; the core never formats user-facing text.
type Event struct {
	UserID     string
	EventType  string
	MetricKind string
	Day        string
	Value      float64
	Target     float64
	Timestamp  time.Time
}

// EventPublisher receives semantic events from the tracking service.
type EventPublisher interface {
	Publish(event Event)
}

// Dispatcher fans events out to per-user subscribers. Slow subscribers drop
// messages rather than block mutations.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs an event dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream of events for one user. The returned cleanup
// detaches the subscriber; cancellation of ctx detaches it as well.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.registerSubscriber(userID, sub)
	cleanup := func() {
		d.unregisterSubscriber(userID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every subscriber of its user.
func (d *Dispatcher) Publish(event Event) {
	if event.UserID == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
