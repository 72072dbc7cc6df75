package models

import (
	"strings"
	"time"
)

// UnknownFlightKey is used when a blob carries no recognizable flight
// identity in its record headers.
const UnknownFlightKey = "UNKNOWN_FLIGHT"

// NormalizeFlightKey turns a raw header identity like "CA984/25JUL25*LAX"
// into the canonical flight key "CA984_25JUL25_LAX".
func NormalizeFlightKey(identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return UnknownFlightKey
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '*', ' ':
			return '_'
		}
		return r
	}, strings.ToUpper(identity))
}

// ParseFlightKey splits a canonical flight key into flight number, travel
// date and station. Missing or malformed segments come back zero-valued;
// the key itself stays the identity either way.
func ParseFlightKey(key string) (number string, date *time.Time, station string) {
	parts := strings.Split(key, "_")
	if len(parts) > 0 {
		number = parts[0]
	}
	if len(parts) > 1 {
		if d, ok := parseFlightDate(parts[1]); ok {
			date = &d
		}
	}
	if len(parts) > 2 {
		station = parts[2]
	}
	return number, date, station
}

// parseFlightDate reads the DDMMMYY date token, e.g. "25JUL25".
func parseFlightDate(s string) (time.Time, bool) {
	if len(s) != 7 {
		return time.Time{}, false
	}
	mon := s[2:3] + strings.ToLower(s[3:5])
	t, err := time.Parse("02Jan06", s[:2]+mon+s[5:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
