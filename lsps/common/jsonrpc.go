package common

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used across the LSPS protocols.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSPS1-specific codes.
	CodeClientRejected = 1
	CodeOptionMismatch = 1000
	CodeOrderNotFound  = 101
)

// JsonRpcId is a JSON-RPC 2.0 request id: a string, a number or null.
// The zero value is the null id.
type JsonRpcId struct {
	raw json.RawMessage
}

var nullLiteral = []byte("null")

// NullId is the id used when no id could be recovered from a request.
var NullId = JsonRpcId{}

func StringId(s string) JsonRpcId {
	raw, _ := json.Marshal(s)
	return JsonRpcId{raw: raw}
}

func NumberId(n int64) JsonRpcId {
	raw, _ := json.Marshal(n)
	return JsonRpcId{raw: raw}
}

// GenerateId returns a request id with 80 bits of entropy, base64url-encoded
// without padding, as required for client-generated LSPS request ids.
func GenerateId() JsonRpcId {
	var seed [10]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return StringId(base64.RawURLEncoding.EncodeToString(seed[:]))
}

func (id JsonRpcId) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, nullLiteral)
}

// Key returns a canonical string form usable as a map key. String and number
// ids with the same textual content do not collide because string ids keep
// their quotes.
func (id JsonRpcId) Key() string {
	if id.IsNull() {
		return "null"
	}
	return string(id.raw)
}

func (id JsonRpcId) String() string {
	return id.Key()
}

func (id JsonRpcId) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return nullLiteral, nil
	}
	return id.raw, nil
}

func (id *JsonRpcId) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, nullLiteral) {
		id.raw = nil
		return nil
	}
	// Only strings and numbers are valid ids.
	var asString string
	if err := json.Unmarshal(trimmed, &asString); err == nil {
		id.raw = append([]byte(nil), trimmed...)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(trimmed, &asNumber); err == nil {
		id.raw = append([]byte(nil), trimmed...)
		return nil
	}
	return fmt.Errorf("json-rpc id must be a string, number or null")
}

// NoParams serializes as an empty object. LSPS0 requires params of
// zero-argument calls to be {}, never null.
type NoParams struct{}

func (NoParams) MarshalJSON() ([]byte, error) {
	return []byte("{}"), nil
}

func (*NoParams) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("expected an empty object: %w", err)
	}
	if len(m) != 0 {
		return fmt.Errorf("expected no parameters, got %d", len(m))
	}
	return nil
}

// JsonRpcRequest is a JSON-RPC 2.0 request envelope. Params stay raw until a
// handler decodes them with strict field checking.
type JsonRpcRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      JsonRpcId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request with a freshly generated id.
func NewRequest(method string, params any) (*JsonRpcRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return &JsonRpcRequest{
		Jsonrpc: "2.0",
		Id:      GenerateId(),
		Method:  method,
		Params:  raw,
	}, nil
}

// JsonRpcResponse is a JSON-RPC 2.0 response envelope.
type JsonRpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      JsonRpcId       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorData      `json:"error,omitempty"`
}

// ErrorData is the error member of a failed JSON-RPC response.
type ErrorData struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorData) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

func NewErrorData(code int, message string) *ErrorData {
	return &ErrorData{Code: code, Message: message}
}

// WithData attaches a serialized data payload to the error. Marshal failures
// leave the data empty rather than failing the error path.
func (e *ErrorData) WithData(data any) *ErrorData {
	raw, err := json.Marshal(data)
	if err == nil {
		e.Data = raw
	}
	return e
}

func ParseError(message string) *ErrorData {
	return NewErrorData(CodeParseError, message)
}

func InvalidRequest(message string) *ErrorData {
	return NewErrorData(CodeInvalidRequest, message)
}

func MethodNotFound(method string) *ErrorData {
	return NewErrorData(CodeMethodNotFound, fmt.Sprintf("Method %q not found", method))
}

func InvalidParams(message string) *ErrorData {
	return NewErrorData(CodeInvalidParams, message)
}

func InternalError() *ErrorData {
	return NewErrorData(CodeInternalError, "Internal error")
}

// OkResponse wraps a handler result into a success envelope.
func OkResponse(id JsonRpcId, result any) (*JsonRpcResponse, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &JsonRpcResponse{Jsonrpc: "2.0", Id: id, Result: raw}, nil
}

// ErrResponse wraps an ErrorData into an error envelope addressed to id.
func ErrResponse(id JsonRpcId, errData *ErrorData) *JsonRpcResponse {
	return &JsonRpcResponse{Jsonrpc: "2.0", Id: id, Error: errData}
}

// DecodeParams unmarshals raw request params into dst, rejecting unknown
// fields so that peers cannot smuggle unrecognized options past validation.
func DecodeParams(raw json.RawMessage, dst any) *ErrorData {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return InvalidParams(err.Error())
	}
	return nil
}
