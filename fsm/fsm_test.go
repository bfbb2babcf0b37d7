package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateBelowThresholdRecordsZero(t *testing.T) {
	m := New()
	m.Update(1, 10)
	require.Equal(t, uint16(0), m.GetFreeSpace(1))
}

func TestFindPageWithSpacePicksLargest(t *testing.T) {
	m := New()
	m.Update(0, 100)
	m.Update(1, 500)
	m.Update(2, 300)

	block, ok := m.FindPageWithSpace(200)
	require.True(t, ok)
	require.Equal(t, uint32(1), uint32(block))
}

func TestFindPageWithSpaceNoneQualify(t *testing.T) {
	m := New()
	m.Update(0, 100)
	_, ok := m.FindPageWithSpace(1000)
	require.False(t, ok)
}

func TestGroupSummaryBucketsByFanOut(t *testing.T) {
	m := New()
	m.Update(0, 100)
	m.Update(255, 900)
	m.Update(256, 50)
	summary := m.GroupSummary()
	require.Equal(t, uint16(900), summary[0])
	require.Equal(t, uint16(50), summary[1]) // 50 >= lowThreshold (32) -> kept
}
