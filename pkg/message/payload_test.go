package message

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type jsonPayload struct {
	Amount int    `json:"amount"`
	Note   string `json:"note"`
}

func TestEncodeDecodePayloadJSON(t *testing.T) {
	data, encoding, err := EncodePayload(jsonPayload{Amount: 7, Note: "hi"})
	require.NoError(t, err)
	require.Equal(t, EncodingJSON, encoding)

	decoded, err := DecodePayload(data, encoding)
	require.NoError(t, err)

	m, ok := decoded.(map[string]any)
	require.True(t, ok, "json payload decodes to a generic map, not the original struct")
	require.Equal(t, float64(7), m["amount"])
	require.Equal(t, "hi", m["note"])
}

func TestEncodeDecodePayloadProto(t *testing.T) {
	original := wrapperspb.String("transfer-complete")

	data, encoding, err := EncodePayload(original)
	require.NoError(t, err)
	require.Equal(t, EncodingProtoAny, encoding)

	decoded, err := DecodePayload(data, encoding)
	require.NoError(t, err)

	got, ok := decoded.(*wrapperspb.StringValue)
	require.True(t, ok, "proto payload round-trips to its original concrete type")
	require.Equal(t, original.GetValue(), got.GetValue())
}

func TestEncodePayloadNil(t *testing.T) {
	data, encoding, err := EncodePayload(nil)
	require.NoError(t, err)
	require.Equal(t, EncodingJSON, encoding)
	require.Nil(t, data)
}

func TestDecodePayloadEmpty(t *testing.T) {
	decoded, err := DecodePayload(nil, EncodingJSON)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodePayloadUnknownEncoding(t *testing.T) {
	_, err := DecodePayload([]byte(`{}`), PayloadEncoding("xml"))
	require.Error(t, err)
}
