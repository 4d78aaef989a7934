// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuseproto

import (
	"bytes"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

// channelPair builds a connected channel and the fd playing the
// kernel side. Seqpacket sockets preserve message boundaries, so
// each vectored reply arrives as exactly one read.
func channelPair(t *testing.T) (*Channel, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	ch := NewChannel(fds[0])
	t.Cleanup(func() {
		ch.Close()
		unix.Close(fds[1])
	})
	return ch, fds[1]
}

func TestChannelReplyIsOneAtomicMessage(t *testing.T) {
	ch, kernel := channelPair(t)

	segA := []byte("hello, ")
	segB := []byte("world")
	if err := ch.Reply(42, segA, segB); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	buf := make([]byte, 256)
	n, err := unix.Read(kernel, buf)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	want := OutHeaderSize + len(segA) + len(segB)
	if n != want {
		t.Fatalf("reply arrived as %d bytes, want %d in one message", n, want)
	}

	hdr, err := UnmarshalOutHeader(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalOutHeader: %v", err)
	}
	if hdr.Len != uint32(want) || hdr.Error != 0 || hdr.Unique != 42 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if !bytes.Equal(buf[OutHeaderSize:n], []byte("hello, world")) {
		t.Fatalf("unexpected payload: %q", buf[OutHeaderSize:n])
	}
}

func TestChannelReplyError(t *testing.T) {
	ch, kernel := channelPair(t)

	if err := ch.ReplyError(7, syscall.ENOENT); err != nil {
		t.Fatalf("ReplyError: %v", err)
	}

	buf := make([]byte, 64)
	n, err := unix.Read(kernel, buf)
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	if n != OutHeaderSize {
		t.Fatalf("error reply is %d bytes, want header only (%d)", n, OutHeaderSize)
	}
	hdr, err := UnmarshalOutHeader(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalOutHeader: %v", err)
	}
	if hdr.Error != -int32(syscall.ENOENT) {
		t.Fatalf("error = %d, want %d", hdr.Error, -int32(syscall.ENOENT))
	}
	if hdr.Unique != 7 {
		t.Fatalf("unique = %d, want 7", hdr.Unique)
	}
}

func TestChannelReadRequest(t *testing.T) {
	ch, kernel := channelPair(t)

	req := (&InHeader{Len: InHeaderSize, Opcode: OpFlush, Unique: 3}).Marshal()
	if _, err := unix.Write(kernel, req); err != nil {
		t.Fatalf("writing request: %v", err)
	}

	buf := make([]byte, RequestBufferSize)
	n, err := ch.ReadRequest(buf)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	hdr, err := UnmarshalInHeader(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalInHeader: %v", err)
	}
	if hdr.Opcode != OpFlush || hdr.Unique != 3 {
		t.Fatalf("unexpected request header: %+v", hdr)
	}
}
