package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intSchema() Schema {
	return Schema{
		{Name: "id", Len: 4},
		{Name: "name", Len: Varlena},
	}
}

func TestEncodeDecodeFixedAndVarlenaRoundTrip(t *testing.T) {
	schema := intSchema()
	row := Row{
		{Bytes: []byte{1, 0, 0, 0}},
		{Bytes: []byte("hello world")},
	}

	data, nulls, hasVarlena, err := Encode(schema, row)
	require.NoError(t, err)
	require.True(t, hasVarlena)
	require.Equal(t, []bool{false, false}, nulls)

	got, err := Decode(schema, data, nulls)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 0, 0, 0}, got[0].Bytes)
	require.Equal(t, "hello world", string(got[1].Bytes))
	require.False(t, got[1].External)
}

func TestEncodeRejectsWrongFixedWidth(t *testing.T) {
	schema := Schema{{Name: "id", Len: 4}}
	_, _, _, err := Encode(schema, Row{{Bytes: []byte{1, 2}}})
	require.Error(t, err)
}

func TestEncodeRejectsRowWidthMismatch(t *testing.T) {
	schema := intSchema()
	_, _, _, err := Encode(schema, Row{{Bytes: []byte{1, 0, 0, 0}}})
	require.Error(t, err)
}

func TestNullAttributeContributesNoBytes(t *testing.T) {
	schema := intSchema()
	row := Row{
		{Null: true},
		{Bytes: []byte("x")},
	}
	data, nulls, _, err := Encode(schema, row)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false}, nulls)

	got, err := Decode(schema, data, nulls)
	require.NoError(t, err)
	require.True(t, got[0].Null)
	require.Nil(t, got[0].Bytes)
	require.Equal(t, "x", string(got[1].Bytes))
}

func TestEncodeRejectsExternalFixedAttribute(t *testing.T) {
	schema := Schema{{Name: "id", Len: 4}}
	_, _, _, err := Encode(schema, Row{{Bytes: []byte{1, 2, 3, 4}, External: true}})
	require.Error(t, err)
}

func TestExternalVarlenaMarksPointerBytes(t *testing.T) {
	schema := Schema{{Name: "blob", Len: Varlena}}
	pointerBytes := []byte("fake-toast-pointer-13")
	row := Row{{Bytes: pointerBytes, External: true}}

	data, nulls, _, err := Encode(schema, row)
	require.NoError(t, err)

	got, err := Decode(schema, data, nulls)
	require.NoError(t, err)
	require.True(t, got[0].External)
	require.Equal(t, pointerBytes, got[0].Bytes)
}

func TestDecodeRejectsShortFixedPayload(t *testing.T) {
	schema := Schema{{Name: "id", Len: 4}}
	_, err := Decode(schema, []byte{1, 2}, []bool{false})
	require.Error(t, err)
}

func TestDecodeRejectsShortVarlenaHeader(t *testing.T) {
	schema := Schema{{Name: "v", Len: Varlena}}
	_, err := Decode(schema, []byte{1, 2}, []bool{false})
	require.Error(t, err)
}

func TestDecodeRejectsNullsWidthMismatch(t *testing.T) {
	schema := intSchema()
	_, err := Decode(schema, nil, []bool{false})
	require.Error(t, err)
}

func TestSizeMatchesEncodedLength(t *testing.T) {
	schema := intSchema()
	row := Row{
		{Bytes: []byte{1, 0, 0, 0}},
		{Bytes: []byte("abc")},
	}
	size, err := Size(schema, row)
	require.NoError(t, err)

	data, _, _, err := Encode(schema, row)
	require.NoError(t, err)
	require.Equal(t, len(data), size)
}

func TestSizeSkipsNullAttributes(t *testing.T) {
	schema := intSchema()
	row := Row{{Null: true}, {Null: true}}
	size, err := Size(schema, row)
	require.NoError(t, err)
	require.Equal(t, 0, size)
}
