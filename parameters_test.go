package jsonrpc2_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lspkit/jsonrpc2"
)

func TestDecodeParamsByName(t *testing.T) {
	p, rpcErr := jsonrpc2.DecodeParams[addParams](json.RawMessage(`{"a":3,"b":4}`))
	require.Nil(t, rpcErr)
	require.Equal(t, &addParams{A: 3, B: 4}, p)
}

func TestDecodeParamsByPosition(t *testing.T) {
	p, rpcErr := jsonrpc2.DecodeParams[[]int](json.RawMessage(`[3,4]`))
	require.Nil(t, rpcErr)
	require.Equal(t, &[]int{3, 4}, p)
}

func TestDecodeParamsAbsent(t *testing.T) {
	p, rpcErr := jsonrpc2.DecodeParams[addParams](nil)
	require.Nil(t, rpcErr)
	require.Equal(t, &addParams{}, p)
}

func TestDecodeParamsInvalid(t *testing.T) {
	_, rpcErr := jsonrpc2.DecodeParams[addParams](json.RawMessage(`"not an object"`))
	require.NotNil(t, rpcErr)
	require.Equal(t, jsonrpc2.InvalidParams, rpcErr.Code)
}

func TestDecodeResult(t *testing.T) {
	type hover struct {
		Contents string `json:"contents"`
	}
	v, err := jsonrpc2.DecodeResult[hover](json.RawMessage(`{"contents":"doc"}`))
	require.NoError(t, err)
	require.Equal(t, "doc", v.Contents)

	v, err = jsonrpc2.DecodeResult[hover](nil)
	require.NoError(t, err)
	require.Zero(t, *v)

	_, err = jsonrpc2.DecodeResult[hover](json.RawMessage(`[1]`))
	require.Error(t, err)
}
