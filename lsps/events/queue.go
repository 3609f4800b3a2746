// Package events provides an event queue for LSPS protocol flow notifications.
package events

import (
	"context"
	"sync"
)

// Event is the base interface for all LSPS events.
type Event interface {
	EventType() string
}

// OrderCreated is emitted when a client order has been accepted and persisted.
type OrderCreated struct {
	OrderId    string
	ClientNode string
	PaymentId  string
}

func (OrderCreated) EventType() string { return "lsps1.order_created" }

// PaymentReceived is emitted when the order's invoice settles and the payment
// moves to HOLD.
type PaymentReceived struct {
	OrderId   string
	PaymentId string
	AmountSat uint64
}

func (PaymentReceived) EventType() string { return "lsps1.payment_received" }

// ChannelOpened is emitted when the funding transaction for an order has been
// broadcast.
type ChannelOpened struct {
	OrderId     string
	FundingTxId string
	OutputIndex uint32
}

func (ChannelOpened) EventType() string { return "lsps1.channel_opened" }

// OrderFailed is emitted when an order reaches the FAILED state, including
// the refund path after a failed channel open.
type OrderFailed struct {
	OrderId string
	Reason  string
}

func (OrderFailed) EventType() string { return "lsps1.order_failed" }

// EventQueue manages a bounded queue of events.
type EventQueue struct {
	events chan Event
	mu     sync.RWMutex
	closed bool
}

// NewEventQueue creates a new event queue.
func NewEventQueue(bufferSize int) *EventQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventQueue{
		events: make(chan Event, bufferSize),
	}
}

// Enqueue adds an event to the queue. Events are dropped when the queue is
// full; the database is the source of truth, the queue is advisory.
func (eq *EventQueue) Enqueue(event Event) {
	eq.mu.RLock()
	defer eq.mu.RUnlock()

	if eq.closed {
		return
	}

	select {
	case eq.events <- event:
	default:
	}
}

// NextEvent blocks until the next event is available or context is cancelled.
func (eq *EventQueue) NextEvent(ctx context.Context) (Event, error) {
	select {
	case event, ok := <-eq.events:
		if !ok {
			return nil, context.Canceled
		}
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetAndClearPendingEvents returns all pending events without blocking.
func (eq *EventQueue) GetAndClearPendingEvents() []Event {
	events := []Event{}
	for {
		select {
		case event, ok := <-eq.events:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

// Close closes the event queue.
func (eq *EventQueue) Close() {
	eq.mu.Lock()
	defer eq.mu.Unlock()

	if !eq.closed {
		eq.closed = true
		close(eq.events)
	}
}
