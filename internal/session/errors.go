package session

import "errors"

// Errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session is full")
	ErrAlreadyJoined   = errors.New("participant already joined")
	ErrPromptRequired  = errors.New("prompt text is required")
	ErrPromptTooLong   = errors.New("prompt text exceeds maximum length")
	ErrInvalidCapacity = errors.New("invalid participant capacity")
	ErrInvalidPolicy   = errors.New("invalid join policy")
	ErrInvalidStatus   = errors.New("invalid session status")
)
