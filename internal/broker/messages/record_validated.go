package messages

import "time"

// RecordValidated is published after every persisted validation run, by the
// API on synchronous validation and by the worker on revalidation. Consumers
// use it to invalidate cached statistics for the flight.
type RecordValidated struct {
	FlightKey string `json:"flight_key"`
	Hbnb      int    `json:"hbnb"`

	Valid      bool `json:"valid"`
	ErrorCount int  `json:"error_count"`

	ValidatedAt time.Time `json:"validated_at"`

	// Source names the publisher: "api", "worker" or "batch".
	Source string `json:"source,omitempty"`
}
