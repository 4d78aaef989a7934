// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines where package bytes come from.
//
// A Provider hands out the package geometry once (total size and the
// block size the producer transfers in) and then serves one
// block-aligned read at a time. Providers are explicitly untrusted:
// nothing here promises that two reads of the same block return the
// same bytes. The serving layer pins every block with a fingerprint
// on first observation and rejects any later disagreement, so a
// malicious or broken producer can at worst turn reads into I/O
// errors, never into silently changed content.
//
// Two production implementations exist: File serves blocks from a
// package already on local storage, and Stream fetches blocks from a
// remote host over a byte stream using a small CBOR-framed
// request/response protocol.
package provider
