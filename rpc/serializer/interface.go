package serializer

import (
	"errors"

	"github.com/snowflake-kv/sfdash/rpc/common"
)

// ErrMalformedEnvelope is returned by Deserialize if a frame is not a JSON object
var ErrMalformedEnvelope = errors.New("malformed envelope")

// IRPCSerializer is the interface for all frame serializers
type IRPCSerializer interface {
	// Serialize serializes a request into a text frame
	// It returns the serialized frame and an error if any
	Serialize(req common.Request) ([]byte, error)
	// Deserialize parses a server frame into an Envelope
	// It takes a frame and a pointer to an Envelope as parameters
	// It returns ErrMalformedEnvelope (wrapped) if the frame cannot be parsed.
	// The envelope is left empty in that case.
	Deserialize(b []byte, env *common.Envelope) error
}
