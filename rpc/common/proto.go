package common

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// --------------------------------------------------------------------------
// Wire constants
// --------------------------------------------------------------------------

const (
	// RequestIDPrefix prefixes every correlation id issued by a client
	RequestIDPrefix = "req_"

	// ControlPrefix marks request ids that belong to the internal control
	// channel. The rest of the id is the action name.
	ControlPrefix = ":"

	// ActionAccepted is sent by the server once the handshake has completed.
	// Its data carries the application metadata and the access grant.
	ActionAccepted = "accepted"
)

// --------------------------------------------------------------------------
// Request (client -> server)
// --------------------------------------------------------------------------

// Request is the frame a client writes for every correlated exchange.
type Request struct {
	Endpoint  string `json:"endpoint"`
	Data      any    `json:"data"`
	RequestID string `json:"requestId"`
}

// NewRequest creates a new request frame. A nil payload is sent as an empty object.
func NewRequest(requestID, endpoint string, data any) *Request {
	if data == nil {
		data = map[string]any{}
	}
	return &Request{
		Endpoint:  endpoint,
		Data:      data,
		RequestID: requestID,
	}
}

// --------------------------------------------------------------------------
// Envelope (server -> client)
// --------------------------------------------------------------------------

// Envelope is one parsed server frame. Which of the three message classes it
// belongs to is decided by RequestID and HasRequestID:
//   - HasRequestID and RequestID starts with ControlPrefix: control action
//   - HasRequestID: response to a correlated request
//   - otherwise: unsolicited push
type Envelope struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// HasRequestID is true if the frame carried a string requestId (the empty string included)
	HasRequestID bool `json:"-"`
}

// DecodeData unmarshals the data object of the envelope into v.
// An envelope without data leaves v untouched.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Msg returns the human readable message of the server, if any
func (e *Envelope) Msg() string {
	return gjson.GetBytes(e.Data, "msg").String()
}

// MsgID returns the message id of the server (used as a translation key), if any
func (e *Envelope) MsgID() string {
	return gjson.GetBytes(e.Data, "msgId").String()
}

// --------------------------------------------------------------------------
// Control channel payloads
// --------------------------------------------------------------------------

// AppInfo is the application metadata sent with the accepted action.
type AppInfo struct {
	Version    string `json:"version"`
	Name       string `json:"name"`
	Encryption bool   `json:"encryption"`
	Monitor    bool   `json:"monitor"`
	CLIPort    int    `json:"cliPort"`
}

// AccessData is the raw access grant sent by the server.
type AccessData struct {
	Alias       string   `json:"alias"`
	Permissions []string `json:"permissions"`
}

// AcceptedPayload is the data of the accepted control action.
type AcceptedPayload struct {
	Info   AppInfo     `json:"info"`
	Access *AccessData `json:"access,omitempty"`
}
