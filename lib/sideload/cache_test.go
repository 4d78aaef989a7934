// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"bytes"
	"testing"
)

func TestCacheSlotCount(t *testing.T) {
	const reservation = installReservation
	cases := []struct {
		name       string
		free       uint64
		fileBlocks uint32
		blockSize  uint32
		want       uint32
	}{
		{"no memory", 0, 100, 65536, 0},
		{"empty file", 1 << 40, 0, 65536, 0},
		{"below reservation", reservation - 1, 100, 65536, 0},
		{
			"fits fifty blocks",
			reservation + 100*indexEntrySize + 50*65536,
			100, 65536,
			50,
		},
		{
			"clamped to file blocks",
			1 << 40,
			100, 65536,
			100,
		},
		{
			"single slot is useless",
			reservation + 100*indexEntrySize + 1*65536,
			100, 65536,
			0,
		},
		{
			"below one percent of the file",
			reservation + 262144*indexEntrySize + 1000*4096,
			262144, 4096,
			0,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := cacheSlotCount(c.free, c.fileBlocks, c.blockSize)
			if got != c.want {
				t.Fatalf("cacheSlotCount(%d, %d, %d) = %d, want %d",
					c.free, c.fileBlocks, c.blockSize, got, c.want)
			}
		})
	}
}

func block(fill byte, size int) []byte {
	return bytes.Repeat([]byte{fill}, size)
}

func TestCacheGetCopiesContent(t *testing.T) {
	c := newBlockCache(10, 3, 4)
	c.put(2, block(0xAA, 4), 2)

	dst := make([]byte, 4)
	if !c.get(2, dst) {
		t.Fatal("block 2 not found")
	}
	if !bytes.Equal(dst, block(0xAA, 4)) {
		t.Fatalf("got %x", dst)
	}
	if c.get(3, dst) {
		t.Fatal("absent block reported present")
	}
}

func TestCachePutExistingBlockIsNoOp(t *testing.T) {
	c := newBlockCache(10, 3, 4)
	c.put(2, block(0xAA, 4), 2)
	c.put(2, block(0xBB, 4), 2)

	if c.used != 1 {
		t.Fatalf("used = %d, want 1", c.used)
	}
	dst := make([]byte, 4)
	c.get(2, dst)
	if !bytes.Equal(dst, block(0xAA, 4)) {
		t.Fatal("verified entry was overwritten")
	}
}

// TestCacheEvictionScansBackwardFromCursor: with the cache full, the
// first occupied slot behind the cursor goes.
func TestCacheEvictionScansBackwardFromCursor(t *testing.T) {
	c := newBlockCache(10, 3, 4)
	c.put(0, block(0, 4), 0)
	c.put(1, block(1, 4), 1)
	c.put(2, block(2, 4), 2)

	// Cursor on 5: the scan checks 4, 3, 2 — and evicts 2.
	c.put(5, block(5, 4), 5)
	if c.used != 3 {
		t.Fatalf("used = %d, want 3", c.used)
	}
	if c.slots[2] != nil {
		t.Fatal("slot 2 should have been evicted")
	}
	for _, keep := range []uint64{0, 1, 5} {
		if c.slots[keep] == nil {
			t.Fatalf("slot %d unexpectedly evicted", keep)
		}
	}

	// Cursor on 7: the scan checks 6, 5 — and evicts 5.
	c.put(7, block(7, 4), 7)
	if c.slots[5] != nil {
		t.Fatal("slot 5 should have been evicted")
	}
}

func TestCacheEvictionWrapsAroundTheStart(t *testing.T) {
	c := newBlockCache(10, 2, 4)
	c.put(8, block(8, 4), 8)
	c.put(9, block(9, 4), 9)

	// Cursor on 0: the scan wraps to 9 immediately.
	c.put(0, block(0, 4), 0)
	if c.slots[9] != nil {
		t.Fatal("slot 9 should have been evicted")
	}
	if c.slots[8] == nil || c.slots[0] == nil {
		t.Fatal("wrong slot evicted")
	}
}

func TestCacheNilIsSafe(t *testing.T) {
	var c *blockCache
	dst := make([]byte, 4)
	if c.get(0, dst) {
		t.Fatal("nil cache reported a hit")
	}
	c.put(0, block(0, 4), 0) // must not panic
	c.release()              // must not panic
}

func TestCacheRelease(t *testing.T) {
	c := newBlockCache(10, 3, 4)
	c.put(0, block(0, 4), 0)
	c.put(1, block(1, 4), 1)
	c.release()
	if c.used != 0 || c.slots != nil {
		t.Fatalf("release left used=%d slots=%v", c.used, c.slots)
	}
}
