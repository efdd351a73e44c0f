package threatmap

import "errors"

// Sentinel errors for the threat map layer. Callers discriminate with
// errors.Is; messages carry the specifics.
var (
	// ErrInvalidRelationship marks an edge whose label pair is not declared
	// in the loaded schema. Fatal for that edge only; sibling edges of the
	// same record are still attempted.
	ErrInvalidRelationship = errors.New("invalid relationship")

	// ErrInvalidSchema marks a schema document that failed validation at
	// load time. Fatal at startup.
	ErrInvalidSchema = errors.New("invalid graph schema")

	// ErrGraphUnavailable marks a store that could not be reached or that
	// rejected a statement at the connection level. Fatal, surfaced to the
	// caller.
	ErrGraphUnavailable = errors.New("graph store unavailable")

	// ErrNotConnected is returned when a statement is issued before
	// Connect, or after Close.
	ErrNotConnected = errors.New("graph client not connected")
)
