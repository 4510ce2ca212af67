// Package relay forwards orchestrator events to external systems.
//
// Run subscribes a Sink to the event bus. Redis publishes every event to a
// pub/sub channel and appends messages to a capped stream; Matrix posts the
// conversation into a room as it happens. A failed delivery is logged and
// the event skipped, so a slow or unavailable sink never holds up the
// orchestrator.
package relay
