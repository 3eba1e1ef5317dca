package storage

import "errors"

// Sentinel errors returned by every ThreadStorage/MessageStorage/
// AgentRunStorage implementation in this module, so callers can use
// errors.Is regardless of which backend is configured.
var (
	ErrThreadNotFound = errors.New("storage: thread not found")
	ErrRunNotFound    = errors.New("storage: run not found")
)
