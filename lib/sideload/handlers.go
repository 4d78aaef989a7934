// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"bytes"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sideloadfs/lib/fuseproto"
)

// Attribute shaping. The stat block size is fixed at 4096 and is
// unrelated to the transfer block size. Validity of 10 seconds
// amortizes kernel re-queries of attributes that never change.
const (
	statBlockSize     = 4096
	validitySeconds   = 10
	rootDirectorySize = 4096
)

// packageHandle is the one file handle the session ever issues. The
// value is arbitrary; only the package file can be opened and all
// opens share it.
const packageHandle = 10

// INIT reply policy. One request is in flight at a time, so the
// background and congestion knobs are nominal; max_write is minimal
// since nothing is ever written.
const (
	initMaxBackground       = 32
	initCongestionThreshold = 32
	initMaxWrite            = 4096
)

// fillAttr shapes the attribute record shared by GETATTR and LOOKUP
// replies: single link, session ownership, stat-block accounting.
func (s *Session) fillAttr(ino uint64, size uint64, mode uint32) fuseproto.Attr {
	var blocks uint64
	if size > 0 {
		blocks = (size-1)/statBlockSize + 1
	}
	return fuseproto.Attr{
		Ino:     ino,
		Size:    size,
		Blocks:  blocks,
		Mode:    mode,
		Nlink:   1,
		UID:     s.uid,
		GID:     s.gid,
		Blksize: statBlockSize,
	}
}

func (s *Session) packageAttr() fuseproto.Attr {
	return s.fillAttr(packageInode, s.fileSize, unix.S_IFREG|0o444)
}

func (s *Session) exitAttr() fuseproto.Attr {
	return s.fillAttr(exitInode, 0, unix.S_IFREG)
}

func (s *Session) rootAttr() fuseproto.Attr {
	return s.fillAttr(rootInode, rootDirectorySize, unix.S_IFDIR|0o555)
}

// handleInit negotiates the protocol version. A major mismatch or a
// minor below 6 is unrecoverable: the error reply is sent and the
// session aborts. Kernels at minor 22 or older know a smaller INIT
// reply structure and receive the truncated form.
func (s *Session) handleInit(ch kernelChannel, hdr fuseproto.InHeader, payload []byte) (handlerStatus, syscall.Errno, error) {
	in, err := fuseproto.UnmarshalInitIn(payload)
	if err != nil {
		s.logger.Warn("malformed INIT request", "error", err)
		return statusError, syscall.EIO, nil
	}

	if in.Major != fuseproto.KernelVersion || in.Minor < fuseproto.MinKernelMinorVersion {
		s.logger.Error("FUSE protocol version mismatch",
			"kernel_major", in.Major,
			"kernel_minor", in.Minor,
			"want_major", fuseproto.KernelVersion,
			"want_minor_at_least", fuseproto.MinKernelMinorVersion,
		)
		if err := ch.ReplyError(hdr.Unique, syscall.EPROTO); err != nil {
			s.logger.Warn("INIT error reply failed", "error", err)
		}
		return statusError, 0, fmt.Errorf("FUSE protocol version mismatch: kernel %d.%d, want %d.%d or newer minor",
			in.Major, in.Minor, fuseproto.KernelVersion, fuseproto.MinKernelMinorVersion)
	}

	minor := in.Minor
	if minor > fuseproto.KernelMinorVersion {
		minor = fuseproto.KernelMinorVersion
	}
	out := fuseproto.InitOut{
		Major:               fuseproto.KernelVersion,
		Minor:               minor,
		MaxReadahead:        in.MaxReadahead,
		MaxBackground:       initMaxBackground,
		CongestionThreshold: initCongestionThreshold,
		MaxWrite:            initMaxWrite,
	}
	reply := out.Marshal()
	if in.Minor <= 22 {
		reply = reply[:fuseproto.InitOutCompat22Size]
	}
	if err := ch.Reply(hdr.Unique, reply); err != nil {
		s.logger.Warn("INIT reply failed", "error", err)
	}
	return statusReplied, 0, nil
}

// handleLookup resolves a name in the root directory. Looking up the
// exit name replies with its entry and then shuts the session down.
func (s *Session) handleLookup(ch kernelChannel, hdr fuseproto.InHeader, payload []byte) (handlerStatus, syscall.Errno) {
	nul := bytes.IndexByte(payload, 0)
	if nul <= 0 {
		return statusError, syscall.ENOENT
	}
	name := string(payload[:nul])

	out := fuseproto.EntryOut{
		EntryValid: validitySeconds,
		AttrValid:  validitySeconds,
	}
	switch name {
	case s.packageName:
		out.NodeID = packageInode
		out.Generation = packageInode
		out.Attr = s.packageAttr()
	case s.exitName:
		out.NodeID = exitInode
		out.Generation = exitInode
		out.Attr = s.exitAttr()
	default:
		return statusError, syscall.ENOENT
	}

	if err := ch.Reply(hdr.Unique, out.Marshal()); err != nil {
		s.logger.Warn("LOOKUP reply failed", "name", name, "error", err)
	}
	if out.NodeID == exitInode {
		return statusExit, 0
	}
	return statusReplied, 0
}

// handleGetAttr serves attributes for the three inodes. A stat of
// the exit inode replies and then shuts the session down.
func (s *Session) handleGetAttr(ch kernelChannel, hdr fuseproto.InHeader) (handlerStatus, syscall.Errno) {
	out := fuseproto.AttrOut{AttrValid: validitySeconds}
	switch hdr.NodeID {
	case rootInode:
		out.Attr = s.rootAttr()
	case packageInode:
		out.Attr = s.packageAttr()
	case exitInode:
		out.Attr = s.exitAttr()
	default:
		return statusError, syscall.ENOENT
	}

	if err := ch.Reply(hdr.Unique, out.Marshal()); err != nil {
		s.logger.Warn("GETATTR reply failed", "node", hdr.NodeID, "error", err)
	}
	if hdr.NodeID == exitInode {
		return statusExit, 0
	}
	return statusReplied, 0
}

// handleOpen admits opens of the package file only. The exit file is
// unreadable by design: observing its attributes is its whole
// interface.
func (s *Session) handleOpen(ch kernelChannel, hdr fuseproto.InHeader) (handlerStatus, syscall.Errno) {
	switch hdr.NodeID {
	case exitInode:
		return statusError, syscall.EPERM
	case packageInode:
	default:
		return statusError, syscall.ENOENT
	}

	out := fuseproto.OpenOut{Fh: packageHandle}
	if err := ch.Reply(hdr.Unique, out.Marshal()); err != nil {
		s.logger.Warn("OPEN reply failed", "error", err)
	}
	return statusReplied, 0
}

// handleRead serves one read of the package file. The mount's
// max_read equals the block size, so a request covers at most two
// consecutive blocks; a spanning read parks the tail of the first
// block in extra while the next block is fetched, and the reply
// carries both segments in one vectored write.
//
// The reply always carries exactly the requested size. Reads that
// extend past the end of the file are satisfied by the zero-padding
// of out-of-range blocks: clients that mmap the file fault whole
// pages in and misbehave on short reads, and they know the real
// length anyway.
func (s *Session) handleRead(ch kernelChannel, hdr fuseproto.InHeader, payload []byte) (handlerStatus, syscall.Errno) {
	if hdr.NodeID != packageInode {
		return statusError, syscall.ENOENT
	}
	in, err := fuseproto.UnmarshalReadIn(payload)
	if err != nil {
		s.logger.Warn("malformed READ request", "error", err)
		return statusError, syscall.EINVAL
	}
	if in.Size > s.blockSize {
		// The kernel agreed to max_read at mount time; a larger
		// request would span more than two blocks.
		s.logger.Warn("READ larger than max_read", "size", in.Size, "max_read", s.blockSize)
		return statusError, syscall.EINVAL
	}

	block := in.Offset / uint64(s.blockSize)
	if errno := s.fetchBlock(block); errno != 0 {
		return statusError, errno
	}
	offset := uint32(in.Offset - block*uint64(s.blockSize))

	if offset+in.Size <= s.blockSize {
		// The read lies entirely within this block.
		if err := ch.Reply(hdr.Unique, s.current[offset:offset+in.Size]); err != nil {
			s.logger.Warn("READ reply failed", "block", block, "error", err)
		}
		return statusReplied, 0
	}

	// The read spills into the next block: save this block's tail,
	// fetch the successor, reply with both segments.
	head := s.blockSize - offset
	copy(s.extra[:head], s.current[offset:])
	if errno := s.fetchBlock(block + 1); errno != 0 {
		return statusError, errno
	}
	if err := ch.Reply(hdr.Unique, s.extra[:head], s.current[:in.Size-head]); err != nil {
		s.logger.Warn("READ reply failed", "block", block, "error", err)
	}
	return statusReplied, 0
}
