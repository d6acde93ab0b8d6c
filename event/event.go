// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const EventQueueSize = 20

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// EventBus is a simple in-process pub/sub bus. Channel subscribers receive
// events on a buffered channel, function subscribers are called synchronously
// from Publish in subscription order.
type EventBus struct {
	subscribers     map[EventType]map[EventSubscriberId]chan Event
	subscriberFuncs map[EventType]map[EventSubscriberId]EventHandlerFunc
	metrics         *eventMetrics
	lastSubId       EventSubscriberId
	mu              sync.RWMutex
	stopped         bool
}

type eventMetrics struct {
	eventsTotal *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
}

// NewEventBus creates a new EventBus. The prometheus registry may be nil to
// disable metrics.
func NewEventBus(promRegistry prometheus.Registerer) *EventBus {
	e := &EventBus{
		subscribers:     make(map[EventType]map[EventSubscriberId]chan Event),
		subscriberFuncs: make(map[EventType]map[EventSubscriberId]EventHandlerFunc),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	return e
}

func (e *EventBus) initMetrics(promRegistry prometheus.Registerer) {
	e.metrics = &eventMetrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketd_eventbus_events_total",
				Help: "total events published by event type",
			},
			[]string{"type"},
		),
		subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketd_eventbus_subscribers",
				Help: "current subscriber count by event type",
			},
			[]string{"type"},
		),
	}
	promRegistry.MustRegister(e.metrics.eventsTotal)
	promRegistry.MustRegister(e.metrics.subscribers)
}

// Subscribe registers a channel subscriber for the given event type
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSubId++
	subId := e.lastSubId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]chan Event)
	}
	evtCh := make(chan Event, EventQueueSize)
	e.subscribers[eventType][subId] = evtCh
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, evtCh
}

// SubscribeFunc registers a handler function for the given event type. The
// handler is called synchronously from Publish.
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSubId++
	subId := e.lastSubId
	if _, ok := e.subscriberFuncs[eventType]; !ok {
		e.subscriberFuncs[eventType] = make(
			map[EventSubscriberId]EventHandlerFunc,
		)
	}
	e.subscriberFuncs[eventType][subId] = handlerFunc
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId
}

// Unsubscribe removes the subscriber with the given ID for the given event type
func (e *EventBus) Unsubscribe(
	eventType EventType,
	subId EventSubscriberId,
) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if subs, ok := e.subscribers[eventType]; ok {
		if evtCh, ok := subs[subId]; ok {
			delete(subs, subId)
			close(evtCh)
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
	if subs, ok := e.subscriberFuncs[eventType]; ok {
		if _, ok := subs[subId]; ok {
			delete(subs, subId)
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
			}
		}
	}
}

// Publish delivers the given event to all subscribers of the given event type
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
	for _, evtCh := range e.subscribers[eventType] {
		// Don't allow a slow channel subscriber to block delivery to others
		select {
		case evtCh <- evt:
		default:
		}
	}
	for _, handlerFunc := range e.subscriberFuncs[eventType] {
		handlerFunc(evt)
	}
}

// Stop shuts down the event bus and closes all subscriber channels. Publish
// calls after Stop are no-ops.
func (e *EventBus) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	for eventType, subs := range e.subscribers {
		for subId, evtCh := range subs {
			delete(subs, subId)
			close(evtCh)
		}
		delete(e.subscribers, eventType)
	}
	for eventType := range e.subscriberFuncs {
		delete(e.subscriberFuncs, eventType)
	}
}
