package relation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/storage"
)

func newPager(t *testing.T) storage.Pager {
	t.Helper()
	pager, err := storage.OpenDir(t.TempDir(), 8192, nil)
	require.NoError(t, err)
	return pager
}

func TestCreateAssignsNonZeroRelNode(t *testing.T) {
	rel, relNode := Create(t.TempDir(), 3, newPager(t))
	require.NotZero(t, relNode)
	require.Equal(t, relNode, rel.RelNode)
	require.Equal(t, 3, rel.Natts)
}

func TestCreateRelNodesAreNotReused(t *testing.T) {
	_, a := Create(t.TempDir(), 1, newPager(t))
	_, b := Create(t.TempDir(), 1, newPager(t))
	require.NotEqual(t, a, b)
}

func TestOpenDoesNotAssignRelNode(t *testing.T) {
	rel := Open(2, newPager(t))
	require.Zero(t, rel.RelNode)
	require.Equal(t, 2, rel.Natts)
}

func TestAllocatePageGrowsPageCount(t *testing.T) {
	rel := Open(1, newPager(t))
	require.Equal(t, ids.BlockNumber(0), rel.PageCount())

	block, err := rel.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, ids.BlockNumber(0), block)
	require.Equal(t, ids.BlockNumber(1), rel.PageCount())
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	rel := Open(1, newPager(t))
	block, err := rel.AllocatePage()
	require.NoError(t, err)

	buf := make([]byte, rel.PageSize())
	buf[0] = 0xAB
	require.NoError(t, rel.WritePage(block, buf))

	got, err := rel.ReadPage(block)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), got[0])
}

func TestPageSizeMatchesPager(t *testing.T) {
	rel := Open(1, newPager(t))
	require.Equal(t, uint16(8192), rel.PageSize())
}

func TestCloseDelegatesToPager(t *testing.T) {
	rel := Open(1, newPager(t))
	require.NoError(t, rel.Close())
}

func TestRegisterThenResolveRelationRoundTrip(t *testing.T) {
	base := t.TempDir()

	dir, err := RegisterRelation(base, 42)
	require.NoError(t, err)
	require.DirExists(t, dir)

	resolved, err := ResolveRelation(base, 42)
	require.NoError(t, err)
	require.Equal(t, dir, resolved)
}

func TestResolveRelationFailsForUnknownOID(t *testing.T) {
	base := t.TempDir()
	_, err := RegisterRelation(base, 1)
	require.NoError(t, err)

	_, err = ResolveRelation(base, 2)
	require.Error(t, err)
}

func TestRegisterRelationHostsMultipleOIDsInOneDirectory(t *testing.T) {
	base := t.TempDir()

	dirA, err := RegisterRelation(base, 1)
	require.NoError(t, err)
	dirB, err := RegisterRelation(base, 2)
	require.NoError(t, err)
	require.NotEqual(t, dirA, dirB)

	gotA, err := ResolveRelation(base, 1)
	require.NoError(t, err)
	require.Equal(t, dirA, gotA)

	gotB, err := ResolveRelation(base, 2)
	require.NoError(t, err)
	require.Equal(t, dirB, gotB)
}
