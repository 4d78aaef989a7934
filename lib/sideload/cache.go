// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

// installReservation is the memory deliberately left out of the
// cache budget so the installer consuming the mount has room to run.
const installReservation = 500 * 1024 * 1024

// indexEntrySize is the per-block accounting cost charged against
// the cache budget: one pointer-sized slot per block.
const indexEntrySize = 8

// cacheSlotCount decides how many cache slots a session gets, given
// an estimate of free memory. Zero disables the cache. The budget is
// free memory minus the install reservation and the per-block index
// overhead; the cache only runs when it can hold at least two blocks
// and at least 1% of the file, since anything smaller thrashes
// before the second scan of the package comes around.
func cacheSlotCount(freeMemory uint64, fileBlocks, blockSize uint32) uint32 {
	if fileBlocks == 0 {
		return 0
	}
	overhead := uint64(installReservation) + uint64(fileBlocks)*indexEntrySize
	if freeMemory <= overhead {
		return 0
	}
	slots := (freeMemory - overhead) / uint64(blockSize)
	if slots > uint64(fileBlocks) {
		slots = uint64(fileBlocks)
	}
	if slots < 2 || slots < uint64(fileBlocks/100) {
		return 0
	}
	return uint32(slots)
}

// blockCache holds verified block copies, indexed by block number.
// Only data that has passed the fingerprint check is ever admitted,
// so a cache hit needs no re-verification. get, put and release are
// nil-safe: a disabled cache is a nil *blockCache.
type blockCache struct {
	slots     [][]byte // one entry per file block, nil when absent
	used      uint32
	maxUsed   uint32
	blockSize uint32
}

func newBlockCache(fileBlocks, maxSlots, blockSize uint32) *blockCache {
	return &blockCache{
		slots:     make([][]byte, fileBlocks),
		maxUsed:   maxSlots,
		blockSize: blockSize,
	}
}

// get copies the cached block into dst and reports whether it was
// present.
func (c *blockCache) get(block uint64, dst []byte) bool {
	if c == nil || block >= uint64(len(c.slots)) {
		return false
	}
	data := c.slots[block]
	if data == nil {
		return false
	}
	copy(dst, data)
	return true
}

// put admits a verified block, copying src into an owned slot.
// cursor is the block the session is currently positioned on; when
// the cache is full, the slot walked to first from behind the cursor
// is evicted. A block that is already cached is left alone — its
// content is verified and immutable, so the copies are identical.
func (c *blockCache) put(block uint64, src []byte, cursor uint64) {
	if c == nil || block >= uint64(len(c.slots)) {
		return
	}
	if c.slots[block] != nil {
		return
	}
	if c.used == c.maxUsed {
		c.evict(cursor)
	}
	data := make([]byte, c.blockSize)
	copy(data, src)
	c.slots[block] = data
	c.used++
}

// evict frees the first occupied slot found scanning backward from
// the slot behind cursor, wrapping at the start of the file. The
// workload is dominantly sequential, so the block just behind the
// cursor is the one least likely to be wanted again soon. This is an
// approximation of evicting the oldest sequential predecessor
// without tracking access times.
func (c *blockCache) evict(cursor uint64) {
	blocks := uint64(len(c.slots))
	if blocks == 0 {
		return
	}
	start := cursor % blocks
	n := start
	for {
		if n == 0 {
			n = blocks
		}
		n--
		if n == start {
			return
		}
		if c.slots[n] != nil {
			c.slots[n] = nil
			c.used--
			return
		}
	}
}

// release drops every slot. Called at session teardown.
func (c *blockCache) release() {
	if c == nil {
		return
	}
	for i := range c.slots {
		c.slots[i] = nil
	}
	c.slots = nil
	c.used = 0
}
