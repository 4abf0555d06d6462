package bridge

import "errors"

var (
	// ErrInvalidHandler is returned when a registration batch contains an
	// empty command name or a nil handler. Nothing from the batch is stored.
	ErrInvalidHandler = errors.New("bridge: invalid handler")

	// ErrEndpointClosed resolves calls still pending when the endpoint's
	// domain is torn down, and rejects calls started afterwards.
	ErrEndpointClosed = errors.New("bridge: endpoint closed")

	// ErrInvalidOptions is returned by New for a missing bridge id, an
	// unknown domain or a nil channel.
	ErrInvalidOptions = errors.New("bridge: invalid options")

	// ErrInvalidJSON is returned for raw JSON values that do not parse.
	ErrInvalidJSON = errors.New("bridge: invalid raw JSON")
)
