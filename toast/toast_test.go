package toast

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRejectsSmallPayload(t *testing.T) {
	tbl, err := New(7)
	require.NoError(t, err)

	_, err = tbl.Store(make([]byte, Threshold))
	require.Error(t, err)
}

func TestStoreFetchRoundTrip(t *testing.T) {
	tbl, err := New(7)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("toasted-payload-"), 500) // well above Threshold
	ptr, err := tbl.Store(data)
	require.NoError(t, err)
	require.Equal(t, uint32(7), ptr.OID)
	require.True(t, ptr.Compressed)
	require.Equal(t, uint32(len(data)), ptr.Size)

	got, err := tbl.Fetch(ptr)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestStoreSplitsAcrossMultipleChunksWhenLarge(t *testing.T) {
	tbl, err := New(1)
	require.NoError(t, err)

	// Incompressible-ish pseudo-random data (high byte of a 32-bit LCG) so
	// the compressed size stays well above one ChunkSize.
	data := make([]byte, ChunkSize*5)
	x := uint32(7)
	for i := range data {
		x = x*1103515245 + 12345
		data[i] = byte(x >> 24)
	}
	ptr, err := tbl.Store(data)
	require.NoError(t, err)
	require.Greater(t, tbl.ChunkCount(ptr.ChunkID), 1)

	got, err := tbl.Fetch(ptr)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetchUnknownChunkFails(t *testing.T) {
	tbl, err := New(1)
	require.NoError(t, err)
	_, err = tbl.Fetch(Pointer{ChunkID: 999})
	require.Error(t, err)
}

func TestRemoveDropsChunks(t *testing.T) {
	tbl, err := New(1)
	require.NoError(t, err)
	data := bytes.Repeat([]byte("x"), Threshold+100)
	ptr, err := tbl.Store(data)
	require.NoError(t, err)

	tbl.Remove(ptr.ChunkID)
	_, err = tbl.Fetch(ptr)
	require.Error(t, err)
}

func TestPointerRoundTrip(t *testing.T) {
	p := Pointer{OID: 11, ChunkID: 22, Size: 33, Compressed: true}
	decoded, err := DeserializePointer(p.Serialize())
	require.NoError(t, err)
	require.Equal(t, p, decoded)
}
