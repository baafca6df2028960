// Package types contains the core domain types shared across all groupq
// internal packages. It deliberately has zero imports of other groupq packages
// so that both the store layer and the queue layer can import from it without
// creating import cycles.
package types

// Message is the opaque unit of payload handled by a group queue.
//
// Design rules:
//   - Message format is final. Only optional fields may be added. Never rename
//     or remove a field — existing persisted messages must always be readable.
//   - All timestamps are UTC milliseconds since Unix epoch.
//   - IDs are ULID strings: time-sortable, globally unique.
//
// Identity: two Message values refer to the same message exactly when their
// IDs are equal. Removal from a group is by ID, never by payload comparison.
type Message struct {
	// ID is a ULID uniquely identifying this message.
	ID string `json:"id"`

	// Body is the raw message payload. Producers own the encoding (JSON, proto, …).
	Body []byte `json:"body"`

	// Metadata holds arbitrary key-value pairs set by the producer.
	Metadata map[string]string `json:"metadata,omitempty"`

	// ReceivedAt is the UTC millisecond when the message was admitted to a group.
	ReceivedAt int64 `json:"received_at"`
}

// IsZero reports whether the message carries neither an ID nor a payload.
// Zero messages are rejected by every queue entry point before any lock is
// taken.
func (m *Message) IsZero() bool {
	return m == nil || (m.ID == "" && len(m.Body) == 0)
}

// Clone returns a shallow copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
