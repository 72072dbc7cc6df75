// Package dcs abstracts the departure control system the flight dumps come
// from.
package dcs

import "context"

type Client interface {
	// FetchDump returns the raw HBPR terminal dump for one flight.
	FetchDump(ctx context.Context, flightKey string) (string, error)
}
