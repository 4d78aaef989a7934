// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"os"
)

// File serves blocks from a package file on local storage. It exists
// so that an already-downloaded package can be consumed through the
// same stable-read mount as a streamed one.
type File struct {
	file      *os.File
	size      uint64
	blockSize uint32
}

var _ Provider = (*File)(nil)

// NewFile opens path and serves it in blocks of blockSize bytes.
func NewFile(path string, blockSize uint32) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening package file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat of package file %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, fmt.Errorf("package file %s is not a regular file", path)
	}
	return &File{
		file:      file,
		size:      uint64(info.Size()),
		blockSize: blockSize,
	}, nil
}

// FileSize returns the package size captured at open time.
func (f *File) FileSize() uint64 {
	return f.size
}

// BlockSize returns the configured transfer block size.
func (f *File) BlockSize() uint32 {
	return f.blockSize
}

// ReadBlock reads len(dst) bytes at the block's byte offset.
func (f *File) ReadBlock(dst []byte, block uint64) error {
	offset := int64(block * uint64(f.blockSize))
	if _, err := f.file.ReadAt(dst, offset); err != nil {
		return fmt.Errorf("reading block %d at offset %d: %w", block, offset, err)
	}
	return nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.file.Close()
}
