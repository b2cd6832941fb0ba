// Package appcontext provides utility functions for working with context in the application.

package appcontext

import "context"

type contextKey string

// String returns the string representation of the context key.
func (c contextKey) String() string {
	return string(c)
}

// ContextStationID represents the context key for the production station id.
var (
	ContextStationID = contextKey("stationID")
)

// WithStationID returns a new context carrying the station id. The remote
// client stamps it onto outgoing requests as X-Station-ID.
func WithStationID(ctx context.Context, stationID string) context.Context {
	return context.WithValue(ctx, ContextStationID, stationID)
}

// GetStationID retrieves the station id from the context.
func GetStationID(ctx context.Context) (string, bool) {
	stationID, ok := ctx.Value(ContextStationID).(string)
	return stationID, ok
}
