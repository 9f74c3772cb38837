package electrum

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportDown is returned when the connection is absent or has been
	// marked unhealthy. Calls fail fast until the next successful Connect.
	ErrTransportDown = errors.New("electrum transport down")

	// ErrRequestTimeout is returned when a request deadline expires before
	// the server answers.
	ErrRequestTimeout = errors.New("electrum request timeout")

	// ErrProtocolMismatch is returned when version negotiation does not
	// produce a two-element [software, protocol] array.
	ErrProtocolMismatch = errors.New("electrum protocol mismatch")

	// ErrPayloadMalformed is returned when a result cannot be decoded into
	// the shape the method promises.
	ErrPayloadMalformed = errors.New("electrum payload malformed")
)

// PeerError is an error object the server attached to a response. The request
// reached the server and was rejected, so retrying the same call is pointless.
type PeerError struct {
	Code    int
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("electrum peer error %d: %s", e.Code, e.Message)
}
