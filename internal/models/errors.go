package models

import (
	"errors"
	"fmt"
)

// FatalParseError means no usable key could be recovered from a record, so
// it cannot be stored. It aborts that record only, never the batch.
type FatalParseError struct {
	Reason string
}

func (e *FatalParseError) Error() string {
	return fmt.Sprintf("fatal parse error: %s", e.Reason)
}

// NotFoundError means an operation referenced a key with no live record,
// or a flight key with no flight.
type NotFoundError struct {
	Hbnb      int
	FlightKey string
}

func (e *NotFoundError) Error() string {
	if e.FlightKey != "" {
		return fmt.Sprintf("flight %s not found", e.FlightKey)
	}
	return fmt.Sprintf("record %d not found", e.Hbnb)
}

// DuplicateKeyError means a create hit a key that already has a live record
// and no replace/duplicate override was requested.
type DuplicateKeyError struct {
	Hbnb int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("record %d already exists", e.Hbnb)
}

// FlightMismatchError means an ingested record's flight identity disagrees
// with the flight it was addressed to.
type FlightMismatchError struct {
	Want string
	Got  string
}

func (e *FlightMismatchError) Error() string {
	return fmt.Sprintf("flight identity mismatch: have %s, record says %s", e.Want, e.Got)
}

func IsFatalParse(err error) bool {
	var e *FatalParseError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsDuplicateKey(err error) bool {
	var e *DuplicateKeyError
	return errors.As(err, &e)
}

func IsFlightMismatch(err error) bool {
	var e *FlightMismatchError
	return errors.As(err, &e)
}
