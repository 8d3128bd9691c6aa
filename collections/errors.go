package collections

import (
	"github.com/pkg/errors"
)

// Errors returned by this package. Use errors.Cause
// to find the kind of a returned error.
var (
	// ErrJoin means the channel could not connect to the
	// group or the join-time state transfer failed.
	ErrJoin = errors.New("joining group failed")

	// ErrStateTransferTimeout means no snapshot arrived
	// within the state timeout while joining.
	ErrStateTransferTimeout = errors.New("state transfer timed out")

	// ErrCodec marks bytes that do not decode to the
	// expected update or snapshot shape.
	ErrCodec = errors.New("malformed update or snapshot")

	// ErrTransport is returned by a mutation whose local
	// effect was applied but whose broadcast failed.
	ErrTransport = errors.New("broadcasting update failed")

	// ErrIndexOutOfRange is returned for List positions
	// outside of the current bounds.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnknownAction is returned when a remote update
	// carries an action the collection does not know.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnsupportedType is returned by the constructors for
	// element, key or value types that hold an interface.
	ErrUnsupportedType = errors.New("type cannot be replicated")
)
