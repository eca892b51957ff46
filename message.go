package truenas

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// LoginKey is the reserved request key used for the authentication
// handshake. Responses carrying this key never reach the data cache.
const LoginKey = "auth.login_with_api_key"

// rpcRequest is the JSON-RPC 2.0 wire format for outbound calls.
type rpcRequest struct {
	Version string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// encodeRequest serializes an outbound call envelope.
func encodeRequest(key, method string, params []any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}
	data, err := json.Marshal(rpcRequest{
		Version: "2.0",
		ID:      key,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// frame is a validated inbound message: the request key it answers
// (or an unsolicited key), the payload, and whether the payload is
// the error member of the envelope.
type frame struct {
	Key     string
	Payload json.RawMessage
	IsError bool
}

// errMalformedFrame tags frames that violate the response contract:
// an id plus exactly one of result/error.
var errMalformedFrame = errors.New("frame must carry id and exactly one of result or error")

// decodeFrame parses an inbound text frame. Frames missing an id, or
// carrying neither or both of result/error, are rejected; the caller
// logs and drops them without closing the connection.
func decodeFrame(data []byte) (frame, error) {
	var env struct {
		ID     any             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return frame{}, fmt.Errorf("parse frame: %w", err)
	}

	// An explicit JSON null counts as absent.
	if string(env.Result) == "null" {
		env.Result = nil
	}
	if string(env.Error) == "null" {
		env.Error = nil
	}

	if env.ID == nil || (env.Result == nil) == (env.Error == nil) {
		return frame{}, errMalformedFrame
	}

	f := frame{Key: idKey(env.ID)}
	if env.Error != nil {
		f.Payload = env.Error
		f.IsError = true
	} else {
		f.Payload = env.Result
	}
	return f, nil
}

// idKey normalizes a wire id to its canonical string key. The remote
// API echoes whatever id shape the request used; callers here use
// string keys, but JSON numbers must still correlate.
func idKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// generateKey returns a fresh caller-unique request key.
func generateKey() string {
	return uuid.New().String()
}
