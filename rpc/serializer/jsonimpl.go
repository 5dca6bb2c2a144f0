package serializer

import (
	"encoding/json"
	"fmt"

	"github.com/snowflake-kv/sfdash/rpc/common"
	"github.com/tidwall/gjson"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding.
// Inbound frames are inspected with gjson so a requestId of the wrong type
// only changes the message class instead of failing the whole frame.
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(req common.Request) ([]byte, error) {
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return json.Marshal(req)
}

func (j jsonSerializerImpl) Deserialize(b []byte, env *common.Envelope) error {
	*env = common.Envelope{}

	if !gjson.ValidBytes(b) {
		return fmt.Errorf("%w: invalid json (%d bytes)", ErrMalformedEnvelope, len(b))
	}

	root := gjson.ParseBytes(b)
	if !root.IsObject() {
		return fmt.Errorf("%w: expected object, got %s", ErrMalformedEnvelope, root.Type)
	}

	env.Success = root.Get("success").Type == gjson.True

	// only string ids take part in correlation
	if rid := root.Get("requestId"); rid.Type == gjson.String {
		env.RequestID = rid.Str
		env.HasRequestID = true
	}

	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		env.Data = json.RawMessage(data.Raw)
	}

	return nil
}
