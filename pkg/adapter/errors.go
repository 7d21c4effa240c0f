package adapter

import "errors"

var (
	// ErrAlreadyStarted is returned when StartServer is called on an
	// adapter that is already listening.
	ErrAlreadyStarted = errors.New("adapter: server already started")

	// ErrBodyTooLarge marks a request body that exceeded MaxBodyBytes.
	ErrBodyTooLarge = errors.New("adapter: request body too large")

	// ErrNoHandler is returned when a config carries neither a Handler
	// nor a Builder.
	ErrNoHandler = errors.New("adapter: config needs a Handler or a Builder")
)
