package delivery

import "context"

// Envelope is one upstream message. Key is the record's idempotency
// key: the collector deduplicates on it, which is what makes the
// at-least-once delivery safe to retry.
type Envelope struct {
	Kind    string `json:"kind"` // "detection" or "health"
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

const (
	KindDetection = "detection"
	KindHealth    = "health"
)

// Ack is the collector's receipt for one envelope. A record is marked
// delivered only after an accepted Ack comes back.
type Ack struct {
	Key      string `json:"key"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Transport moves envelopes to the collector. Implementations own the
// connection lifecycle; Send on a dead connection returns an error and
// the sender reconnects on the next cycle.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env Envelope) (Ack, error)
	Disconnect() error
	Connected() bool
}
