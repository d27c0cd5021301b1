package domain

import "time"

// SessionEventsChannel is the bus channel session events are published on.
const SessionEventsChannel = "session_events"

// EventKind names a session state change.
type EventKind string

const (
	EventSessionStarted     EventKind = "session_started"
	EventPreflightConfirmed EventKind = "preflight_confirmed"
	EventPreflightRejected  EventKind = "preflight_rejected"
	EventExecutionSubmitted EventKind = "execution_submitted"
	EventExecutionFailed    EventKind = "execution_failed"
	EventTradeClosed        EventKind = "trade_closed"
	EventBreakerLocked      EventKind = "breaker_locked"
	EventSessionArchived    EventKind = "session_archived"
)

// SessionEvent is what the core emits after a mutation. Presentation layers
// (websocket hub, notifiers) subscribe to these instead of being called.
type SessionEvent struct {
	Kind      EventKind      `json:"kind"`
	SessionID string         `json:"session_id"`
	TraderID  string         `json:"trader_id"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}
