package jsonrpc2

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Version is the protocol version string carried by every wire message.
const Version = "2.0"

type Code = int64

const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603

	// RequestTimeout is synthesized locally when a request's timer fires
	// before the peer answers.
	RequestTimeout Code = -32001
	// ConnectionClosed is synthesized for every continuation still pending
	// when the transport shuts down.
	ConnectionClosed Code = -1
)

var messages = map[Code]string{
	ParseError:       "Invalid JSON was received, unable to parse.",
	InvalidRequest:   "The JSON sent is not a valid request.",
	MethodNotFound:   "The method does not exist",
	InvalidParams:    "invalid method parameters",
	InternalError:    "Internal error",
	RequestTimeout:   "Timed out",
	ConnectionClosed: "connection closed",
}

// NewError builds an *Error for one of the known codes, attaching data when
// provided. Unknown codes fall back to InternalError.
func NewError(code Code, data any) *Error {
	message, ok := messages[code]
	if !ok {
		code = InternalError
		message = messages[InternalError]
		data = nil
	}
	e := &Error{
		Code:    code,
		Message: message,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Errorf builds an *Error with a caller-chosen message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error is the JSON-RPC error envelope, used both for errors reported by the
// peer and for errors synthesized locally (timeouts, shutdown).
type Error struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) == 0 {
		return fmt.Sprintf("%v: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%v: %s\n%s", e.Code, e.Message, string(e.Data))
}

var _ error = &Error{}

// ID is a request identifier, either a string or an integer.
// The zero value is not a valid identifier.
type ID struct {
	name   string
	number int64
	isName bool
}

func NewIntID(v int64) ID     { return ID{number: v} }
func NewStringID(v string) ID { return ID{name: v, isName: true} }
func (id ID) IsString() bool  { return id.isName }
func (id ID) Number() int64   { return id.number }
func (id ID) Name() string    { return id.name }

func (id ID) String() string {
	if id.isName {
		return strconv.Quote(id.name)
	}
	return strconv.FormatInt(id.number, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isName {
		return json.Marshal(id.name)
	}
	return json.Marshal(id.number)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch i := v.(type) {
	case nil:
		// Parse-error responses carry "id": null; treat it as absent.
		*id = ID{}
	case string:
		*id = NewStringID(i)
	case float64:
		if i != math.Trunc(i) {
			return fmt.Errorf("request id %v has a fractional part", i)
		}
		*id = NewIntID(int64(i))
	default:
		return fmt.Errorf("request id must be a string or an integer, got %T", v)
	}
	return nil
}

// Kind classifies a decoded message. Classification is derived from which
// fields are present, it is never stored on the wire.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	}
	return "invalid"
}

// Message is the single wire shape for requests, notifications and responses.
// method+id present: request. method only: notification. id only: response.
type Message struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	ID      *ID             `json:"id,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.ID != nil:
		return KindResponse
	}
	return KindInvalid
}

// Codec converts between wire bodies and Messages. The engine only reacts to
// its success or failure; swapping in an alternate encoding is a matter of
// providing a different Codec in the connection options.
type Codec interface {
	Decode([]byte) (*Message, error)
	Encode(*Message) ([]byte, error)
}

// DefaultCodec speaks plain JSON.
var DefaultCodec Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, NewError(ParseError, err.Error())
	}
	if m.Version != Version {
		return nil, Errorf(InvalidRequest, "unsupported jsonrpc version %q", m.Version)
	}
	if m.Kind() == KindInvalid {
		return nil, NewError(InvalidRequest, string(b))
	}
	return &m, nil
}

func (jsonCodec) Encode(m *Message) ([]byte, error) {
	if m.Version == "" {
		m.Version = Version
	}
	return json.Marshal(m)
}
