// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sideload serves a single package file over a raw FUSE
// channel, fetching its bytes on demand from an untrusted producer.
//
// The mount exposes two virtual files. The package file looks like a
// normal read-only file, but reading it pulls blocks from the
// producer as needed, so a package far larger than memory can be
// verified and installed straight from the mount. The exit file is a
// control knob: merely observing it (stat or lookup) tells the
// session to unmount and shut down.
//
// Because the producer may be malicious, the session maintains a
// read-stability invariant: every read of a given position returns
// the same bytes as the first read of that position. Each block is
// fingerprinted with a 256-bit BLAKE3 digest when first observed;
// any refetch whose digest disagrees fails the read with an I/O
// error instead of exposing the changed bytes. Without this, a
// hostile producer could present one package for signature
// verification and another for installation.
//
// A memory-sized block cache keeps verified blocks around so that
// the verify-then-install double scan rarely refetches. The cache is
// an optimization only: with it disabled, refetches are still forced
// through the fingerprint check.
//
// Only the operations these two files need are implemented. The
// mount's root directory cannot be listed.
package sideload
