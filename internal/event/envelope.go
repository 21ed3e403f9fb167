package event

import (
	"time"
)

// Envelope wraps every settlement event emitted by the engine.
type Envelope struct {
	// Monotonic sequence assigned by the engine.
	Sequence int64 `json:"sequence"`

	// Event type discriminator.
	Type EventType `json:"type"`

	// Engine clock at emission time.
	Timestamp time.Time `json:"timestamp"`

	// Event-specific payload (one of the types in events.go).
	Payload interface{} `json:"payload"`
}
