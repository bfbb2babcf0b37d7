// Package vismap implements the visibility map: a per-block bitmap
// recording whether every live tuple on that block is visible to every
// current snapshot, used to accelerate scans and gate vacuum.
//
// Grounded on original_source/src/visibility_map.rs (VisibilityMap::
// set_all_visible/is_all_visible, with vm_page_num = block / 8192).
package vismap

import (
	"sync"

	"github.com/Chocapikk/heapengine/ids"
)

// blocksPerGroup matches the reference: one bitmap byte group covers 8192
// blocks, independent of page size since it indexes blocks, not bytes.
const blocksPerGroup = 8192

// Map is a per-block all-visible bitmap, grouped into byte arrays of
// blocksPerGroup bits each.
type Map struct {
	mu     sync.RWMutex
	groups map[uint32][]byte
}

func New() *Map {
	return &Map{groups: make(map[uint32][]byte)}
}

func locate(block ids.BlockNumber) (group uint32, bytePos int, bit uint) {
	group = uint32(block) / blocksPerGroup
	posInGroup := uint32(block) % blocksPerGroup
	bytePos = int(posInGroup / 8)
	bit = uint(posInGroup % 8)
	return
}

func (m *Map) SetAllVisible(block ids.BlockNumber, visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, bytePos, bit := locate(block)
	buf, ok := m.groups[group]
	if !ok {
		buf = make([]byte, blocksPerGroup/8)
		m.groups[group] = buf
	}
	if visible {
		buf[bytePos] |= 1 << bit
	} else {
		buf[bytePos] &^= 1 << bit
	}
}

func (m *Map) IsAllVisible(block ids.BlockNumber) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, bytePos, bit := locate(block)
	buf, ok := m.groups[group]
	if !ok {
		return false
	}
	return buf[bytePos]&(1<<bit) != 0
}

// SetPageDirty clears the all-visible bit, called whenever a write lands
// on the block.
func (m *Map) SetPageDirty(block ids.BlockNumber) {
	m.SetAllVisible(block, false)
}

// GetVisibleBlocks returns every block currently marked all-visible.
func (m *Map) GetVisibleBlocks() []ids.BlockNumber {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ids.BlockNumber
	for group, buf := range m.groups {
		for bytePos, b := range buf {
			if b == 0 {
				continue
			}
			for bit := 0; bit < 8; bit++ {
				if b&(1<<uint(bit)) != 0 {
					block := ids.BlockNumber(group*blocksPerGroup + uint32(bytePos*8+bit))
					out = append(out, block)
				}
			}
		}
	}
	return out
}
