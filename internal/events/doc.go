// Package events provides the in-memory event bus that announces conversation
// progress to any number of subscribers (SSE clients, relays).
//
// Two event kinds exist: StateChanged for orchestrator transitions and
// MessageAppended for each persisted message. Delivery is best-effort: the
// publisher never waits, and a subscriber whose 64-event buffer is full misses
// the event. Consumers that need a complete transcript read it from the store.
package events
