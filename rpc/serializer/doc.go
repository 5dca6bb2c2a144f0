// Package serializer converts between dashboard frames and their JSON text
// representation.
//
// The package focuses on:
//   - Encoding outgoing requests as {"endpoint", "data", "requestId"}
//   - Tolerant decoding of server frames into common.Envelope
//
// Key Components:
//
//   - IRPCSerializer: interface implemented by all serializers.
//
//   - jsonSerializerImpl: encodes with encoding/json and decodes with gjson.
//     Decoding never fails partially: a frame is either a JSON object (any
//     field may be missing or of the wrong type) or ErrMalformedEnvelope is
//     returned and the envelope stays empty.
//
// Thread Safety:
//
//	Serializers are stateless and safe for concurrent use.
package serializer
