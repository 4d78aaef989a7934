// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// freeMemory estimates reclaimable memory as MemFree + Buffers +
// Cached from /proc/meminfo. Buffers and Cached count because the
// kernel gives page cache back under pressure, and the cache this
// feeds is itself discardable.
func freeMemory() uint64 {
	return freeMemoryFrom("/proc/meminfo")
}

// freeMemoryFrom is the testable implementation of freeMemory. It
// accepts the meminfo path so tests can point at a synthetic file.
// Unreadable or malformed input yields zero, which simply disables
// the cache.
func freeMemoryFrom(path string) uint64 {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	var total uint64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		switch key {
		case "MemFree", "Buffers", "Cached":
			fields := strings.Fields(value)
			if len(fields) == 0 {
				continue
			}
			// Values are reported in kB.
			kb, err := strconv.ParseUint(fields[0], 10, 64)
			if err != nil {
				continue
			}
			total += kb * 1024
		}
	}
	return total
}
