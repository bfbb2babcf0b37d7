package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
)

func TestNewPageInvariants(t *testing.T) {
	p := New(DefaultPageSize)
	require.Equal(t, uint16(HeaderSize), p.Header.Lower)
	require.Equal(t, uint16(DefaultPageSize), p.Header.Upper)
	require.Equal(t, uint16(DefaultPageSize), p.Header.Special)
	require.Equal(t, DefaultPageSize-HeaderSize, p.FreeSpace())
}

func TestAddItemAndGetItem(t *testing.T) {
	p := New(DefaultPageSize)
	off, err := p.AddItem([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, ids.OffsetNumber(1), off)

	body, ok := p.GetItem(off)
	require.True(t, ok)
	require.Equal(t, "hello", string(body))

	off2, err := p.AddItem([]byte("world!"))
	require.NoError(t, err)
	require.Equal(t, ids.OffsetNumber(2), off2)

	body2, ok := p.GetItem(off2)
	require.True(t, ok)
	require.Equal(t, "world!", string(body2))

	// first item must still be intact
	body, ok = p.GetItem(off)
	require.True(t, ok)
	require.Equal(t, "hello", string(body))
}

func TestAddItemNoFreeSpace(t *testing.T) {
	p := New(64)
	_, err := p.AddItem(make([]byte, 100))
	require.ErrorIs(t, err, heaperrors.ErrNoFreeSpace)
}

func TestRemoveItemMarksDead(t *testing.T) {
	p := New(DefaultPageSize)
	off, _ := p.AddItem([]byte("x"))
	require.True(t, p.RemoveItem(off))
	_, ok := p.GetItem(off)
	require.False(t, ok, "dead item must not be returned by GetItem")
	require.True(t, p.HasFreeLines())
}

func TestRemoveItemTwiceFails(t *testing.T) {
	p := New(DefaultPageSize)
	off, _ := p.AddItem([]byte("x"))
	require.True(t, p.RemoveItem(off))
	require.False(t, p.RemoveItem(off))
}

func TestPageFullFlag(t *testing.T) {
	p := New(64)
	require.False(t, p.IsPageFull())
	_, err := p.AddItem(make([]byte, 20))
	require.NoError(t, err)
	require.True(t, p.IsPageFull(), "free space should be below threshold now")
}

func TestSerializeRoundTrip(t *testing.T) {
	p := New(DefaultPageSize)
	_, err := p.AddItem([]byte("alpha"))
	require.NoError(t, err)
	_, err = p.AddItem([]byte("beta"))
	require.NoError(t, err)
	p.RemoveItem(1)
	p.SetAllVisible(true)

	buf := p.Serialize(false)
	require.Len(t, buf, DefaultPageSize)

	decoded, err := Deserialize(buf, DefaultPageSize)
	require.NoError(t, err)
	require.Equal(t, p.Header, decoded.Header)
	require.Equal(t, p.ItemIds, decoded.ItemIds)
	require.True(t, decoded.AllVisible())

	body, ok := decoded.GetItem(2)
	require.True(t, ok)
	require.Equal(t, "beta", string(body))
}

func TestSerializeWithChecksum(t *testing.T) {
	p := New(DefaultPageSize)
	p.AddItem([]byte("checksummed"))
	buf := p.Serialize(true)

	decoded, err := Deserialize(buf, DefaultPageSize)
	require.NoError(t, err)
	require.NotZero(t, decoded.Header.Checksum)
}

func TestDeserializeInvalidPage(t *testing.T) {
	buf := make([]byte, DefaultPageSize)
	// lower below header size
	buf[12], buf[13] = 4, 0
	_, err := Deserialize(buf, DefaultPageSize)
	require.ErrorIs(t, err, heaperrors.ErrInvalidPage)
}

func TestDeserializeWrongLength(t *testing.T) {
	_, err := Deserialize(make([]byte, 10), DefaultPageSize)
	require.ErrorIs(t, err, heaperrors.ErrInvalidPage)
}

func TestItemIdBitPacking(t *testing.T) {
	id := newItemId(100, 50, ItemUsed)
	require.Equal(t, uint16(100), id.Offset())
	require.Equal(t, uint16(50), id.Length())
	require.True(t, id.IsUsed())
	require.False(t, id.IsDead())
}
