package messages

import "time"

// BatchIngested is published once per finished ingest run.
type BatchIngested struct {
	BatchID   string `json:"batch_id"`
	FlightKey string `json:"flight_key"`

	FullRecords    int `json:"full_records"`
	SimpleRecords  int `json:"simple_records"`
	InvalidRecords int `json:"invalid_records"`
	FatalRecords   int `json:"fatal_records"`
	MissingCount   int `json:"missing_count"`

	FinishedAt time.Time `json:"finished_at"`
}
