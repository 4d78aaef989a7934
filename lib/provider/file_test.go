// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writePackage(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "package.zip")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing package: %v", err)
	}
	return path, data
}

func TestFileProviderGeometry(t *testing.T) {
	path, _ := writePackage(t, 10000)
	f, err := NewFile(path, 4096)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer f.Close()

	if f.FileSize() != 10000 {
		t.Fatalf("FileSize = %d, want 10000", f.FileSize())
	}
	if f.BlockSize() != 4096 {
		t.Fatalf("BlockSize = %d, want 4096", f.BlockSize())
	}
}

func TestFileProviderReadBlock(t *testing.T) {
	path, data := writePackage(t, 10000)
	f, err := NewFile(path, 4096)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer f.Close()

	full := make([]byte, 4096)
	if err := f.ReadBlock(full, 1); err != nil {
		t.Fatalf("ReadBlock(1): %v", err)
	}
	if !bytes.Equal(full, data[4096:8192]) {
		t.Fatal("block 1 content mismatch")
	}

	// The tail block is short: 10000 - 2*4096 = 1808 bytes.
	tail := make([]byte, 1808)
	if err := f.ReadBlock(tail, 2); err != nil {
		t.Fatalf("ReadBlock(2): %v", err)
	}
	if !bytes.Equal(tail, data[8192:]) {
		t.Fatal("tail block content mismatch")
	}
}

func TestFileProviderReadPastEnd(t *testing.T) {
	path, _ := writePackage(t, 10000)
	f, err := NewFile(path, 4096)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 4096)
	if err := f.ReadBlock(buf, 5); err == nil {
		t.Fatal("expected error reading past the end of the file")
	}
}

func TestFileProviderRejectsNonRegularFile(t *testing.T) {
	if _, err := NewFile(t.TempDir(), 4096); err == nil {
		t.Fatal("expected error for a directory")
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "absent"), 4096); err == nil {
		t.Fatal("expected error for a missing file")
	}
}
