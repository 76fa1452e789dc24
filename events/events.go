package events

import (
	"context"
	"slices"
	"sync"

	"github.com/Catrya/mostro/logger"
)

// Event names published on the internal bus.
const (
	HoldInvoiceAcceptedEvent = "mostro_hold_invoice_accepted"
	HoldInvoiceSettledEvent  = "mostro_hold_invoice_settled"
	HoldInvoiceCanceledEvent = "mostro_hold_invoice_canceled"
	PaymentSentEvent         = "mostro_payment_sent"
	PaymentFailedEvent       = "mostro_payment_failed"
	NodeStartedEvent         = "mostro_node_started"
	NodeStartFailedEvent     = "mostro_node_start_failed"
	OrderPublishedEvent      = "mostro_order_published"
)

type Event struct {
	Event      string      `json:"event"`
	Properties interface{} `json:"properties,omitempty"`
}

type EventSubscriber interface {
	ConsumeEvent(ctx context.Context, event *Event, globalProperties map[string]interface{})
}

type EventPublisher interface {
	RegisterSubscriber(subscriber EventSubscriber)
	RemoveSubscriber(subscriber EventSubscriber)
	Publish(event *Event)
	SetGlobalProperty(key string, value interface{})
}

type eventPublisher struct {
	listeners        []EventSubscriber
	subscriberMtx    sync.Mutex
	globalProperties map[string]interface{}
}

func NewEventPublisher() *eventPublisher {
	return &eventPublisher{
		listeners:        []EventSubscriber{},
		globalProperties: map[string]interface{}{},
	}
}

func (ep *eventPublisher) RegisterSubscriber(listener EventSubscriber) {
	ep.subscriberMtx.Lock()
	defer ep.subscriberMtx.Unlock()
	ep.listeners = append(ep.listeners, listener)
}

func (ep *eventPublisher) RemoveSubscriber(listenerToRemove EventSubscriber) {
	ep.subscriberMtx.Lock()
	defer ep.subscriberMtx.Unlock()
	for i, listener := range ep.listeners {
		if listener == listenerToRemove {
			ep.listeners = slices.Delete(ep.listeners, i, i+1)
			break
		}
	}
}

func (ep *eventPublisher) Publish(event *Event) {
	ep.subscriberMtx.Lock()
	listeners := slices.Clone(ep.listeners)
	ep.subscriberMtx.Unlock()

	logger.Logger.Debug().
		Str("event", event.Event).
		Msg("Publishing internal event")

	for _, listener := range listeners {
		go func(listener EventSubscriber) {
			defer func() {
				if r := recover(); r != nil {
					logger.Logger.Error().
						Interface("panic", r).
						Str("event", event.Event).
						Msg("Recovered panic in event subscriber")
				}
			}()
			listener.ConsumeEvent(context.Background(), event, ep.globalProperties)
		}(listener)
	}
}

func (ep *eventPublisher) SetGlobalProperty(key string, value interface{}) {
	ep.globalProperties[key] = value
}
