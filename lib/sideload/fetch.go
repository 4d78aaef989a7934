// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"syscall"

	"github.com/zeebo/blake3"
)

// fetchBlock establishes the postcondition that current holds the
// canonical contents of the given block and currBlock tags it. A
// zero return means success; a nonzero errno is what the pending
// read must fail with.
//
// Blocks at or past the end of the file are all zeros and never
// touch the producer. Cache hits skip verification: only verified
// data is admitted and entries are immutable.
func (s *Session) fetchBlock(block uint64) syscall.Errno {
	if block == s.currBlock {
		return 0
	}

	if block >= uint64(s.fileBlocks) {
		clear(s.current)
		s.currBlock = block
		return 0
	}

	if s.cache.get(block, s.current) {
		s.currBlock = block
		return 0
	}

	fetchSize := uint64(s.blockSize)
	if block*uint64(s.blockSize)+fetchSize > s.fileSize {
		// Final short block: the producer sends only the remainder
		// and the rest of the buffer is deterministic zero padding.
		fetchSize = s.fileSize - block*uint64(s.blockSize)
		clear(s.current[fetchSize:])
	}

	if err := s.prov.ReadBlock(s.current[:fetchSize], block); err != nil {
		// current may hold partial untrusted bytes now; the cursor
		// must not claim otherwise.
		s.currBlock = noBlock
		s.logger.Warn("producer read failed", "block", block, "error", err)
		return syscall.EIO
	}

	// The digest covers the full buffer, padding included. The
	// padding is deterministic, so the definition is stable across
	// refetches.
	digest := fingerprint(blake3.Sum256(s.current))

	stored := &s.fingerprints[block]
	switch {
	case *stored == digest:
		// A refetch that agrees with the pinned fingerprint. Admit
		// it: the cache may have evicted this block since.
		s.cache.put(block, s.current, block)

	case stored.isZero():
		// First observation pins the fingerprint for the session.
		*stored = digest
		s.cache.put(block, s.current, block)

	default:
		// The producer returned different bytes than it did the
		// first time. Refuse the read and drop the cursor so the
		// untrusted buffer is never served.
		s.currBlock = noBlock
		s.logger.Error("block content changed between reads", "block", block)
		return syscall.EIO
	}

	s.currBlock = block
	return 0
}
