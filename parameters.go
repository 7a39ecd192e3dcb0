package jsonrpc2

import (
	"encoding/json"
)

// DecodeParams unmarshals a request's params payload into T. JSON-RPC params
// are either by-name (an object, T a struct) or by-position (an array, T a
// slice or array). Absent params yield the zero value.
func DecodeParams[T any](params json.RawMessage) (*T, *Error) {
	var args T
	if len(params) == 0 {
		return &args, nil
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, NewError(InvalidParams, err.Error())
	}
	return &args, nil
}

// DecodeResult unmarshals a response's result payload into T.
func DecodeResult[T any](result json.RawMessage) (*T, error) {
	var v T
	if len(result) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(result, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
