// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuseproto implements the subset of the Linux FUSE kernel
// wire protocol needed to serve a small fixed set of inodes over a
// raw /dev/fuse channel.
//
// The package has two halves. The wire structs (InHeader, EntryOut,
// AttrOut, ...) mirror the kernel's fuse.h layouts byte for byte and
// marshal in native endianness, since the kernel speaks the host's
// byte order on the FUSE device. The Channel owns the single kernel
// file descriptor: requests are read one at a time, and every reply
// — header plus up to two data segments — is written as one vectored
// writev(2) so the kernel sees each reply atomically and no
// intermediate copy is made.
//
// Only the opcodes a read-only two-file filesystem needs are
// defined: INIT, LOOKUP, GETATTR, OPEN, READ, FLUSH and RELEASE,
// plus FORGET so that it has a name in diagnostics. Callers route
// anything else to an ENOSYS error reply.
package fuseproto
