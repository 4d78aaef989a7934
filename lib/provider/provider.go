// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

// Provider is the source of package bytes. The serving session owns
// its Provider for the whole mount lifetime and calls Close exactly
// once during teardown.
//
// Implementations serve at most one read at a time: the session is
// single-threaded and never issues overlapping reads, and the Stream
// provider additionally serializes its exchanges internally. File
// takes no lock of its own.
type Provider interface {
	// FileSize returns the total package size in bytes. The value
	// is fixed for the session.
	FileSize() uint64

	// BlockSize returns the transfer block size chosen by the
	// producer. The session validates the allowed range.
	BlockSize() uint32

	// ReadBlock fills dst with the bytes of the given block. dst is
	// always block-aligned: its length is the full block size except
	// for the final block of the package, where it is the short
	// remainder. A non-nil error means the block could not be
	// served; the content of dst is then unspecified.
	ReadBlock(dst []byte, block uint64) error

	// Close releases producer resources.
	Close() error
}
