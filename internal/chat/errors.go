package chat

import "errors"

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrSessionBusy     = errors.New("chat session is answering another question")
	ErrTooManySessions = errors.New("chat session limit reached")
)

// errAbandoned reports that the consumer stopped reading the response.
var errAbandoned = errors.New("response consumer stopped")
