// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuseproto

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Channel owns the kernel side of a FUSE session: the single file
// descriptor on which requests arrive and replies are written. All
// reply framing goes through Reply and ReplyError so that every
// reply reaches the kernel as one atomic vectored write.
type Channel struct {
	fd int
}

// OpenDevice opens /dev/fuse for a new session. The descriptor is
// opened with a raw blocking open(2): wrapping it in an *os.File
// would register it with the runtime poller, and poll(2) does not
// work on /dev/fuse.
func OpenDevice() (*Channel, error) {
	fd, err := unix.Open("/dev/fuse", unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening /dev/fuse: %w", err)
	}
	return &Channel{fd: fd}, nil
}

// NewChannel wraps an already-open FUSE device descriptor, such as
// one inherited from a parent process or one end of a socketpair in
// tests.
func NewChannel(fd int) *Channel {
	return &Channel{fd: fd}
}

// Fd returns the raw descriptor, needed for the fd= mount option.
func (c *Channel) Fd() int {
	return c.fd
}

// ReadRequest reads one request into buf and returns its length.
// The error is the raw errno from read(2); callers distinguish
// unix.ENODEV (forced unmount) from transient failures.
func (c *Channel) ReadRequest(buf []byte) (int, error) {
	return unix.Read(c.fd, buf)
}

// Reply writes a success reply: an OutHeader followed by the given
// payload segments, as a single writev(2). The reply length is the
// header plus the sum of the segment lengths.
func (c *Channel) Reply(unique uint64, segments ...[]byte) error {
	total := OutHeaderSize
	for _, seg := range segments {
		total += len(seg)
	}
	hdr := OutHeader{
		Len:    uint32(total),
		Error:  0,
		Unique: unique,
	}
	iov := make([][]byte, 0, 1+len(segments))
	iov = append(iov, hdr.Marshal())
	iov = append(iov, segments...)
	n, err := unix.Writev(c.fd, iov)
	if err != nil {
		return fmt.Errorf("writing reply for request %d: %w", unique, err)
	}
	if n != total {
		return fmt.Errorf("short reply write for request %d: %d of %d bytes", unique, n, total)
	}
	return nil
}

// ReplyError writes a header-only reply carrying a negated errno.
// An errno of zero is a valid success reply with no payload (FLUSH
// and RELEASE complete this way).
func (c *Channel) ReplyError(unique uint64, errno syscall.Errno) error {
	hdr := OutHeader{
		Len:    OutHeaderSize,
		Error:  -int32(errno),
		Unique: unique,
	}
	if _, err := unix.Writev(c.fd, [][]byte{hdr.Marshal()}); err != nil {
		return fmt.Errorf("writing error reply for request %d: %w", unique, err)
	}
	return nil
}

// Close releases the kernel descriptor. The session closes the
// channel last during teardown, after the mount has been detached.
func (c *Channel) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	if err != nil {
		return fmt.Errorf("closing FUSE channel: %w", err)
	}
	return nil
}
