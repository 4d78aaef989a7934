// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuseproto

import (
	"testing"
)

func TestMarshalledSizesMatchWireConstants(t *testing.T) {
	cases := []struct {
		name string
		got  int
		want int
	}{
		{"InHeader", len((&InHeader{}).Marshal()), InHeaderSize},
		{"OutHeader", len((&OutHeader{}).Marshal()), OutHeaderSize},
		{"InitIn", len((&InitIn{}).Marshal()), InitInSize},
		{"InitOut", len((&InitOut{}).Marshal()), InitOutSize},
		{"EntryOut", len((&EntryOut{}).Marshal()), EntryOutSize},
		{"AttrOut", len((&AttrOut{}).Marshal()), AttrOutSize},
		{"OpenOut", len((&OpenOut{}).Marshal()), OpenOutSize},
		{"ReadIn", len((&ReadIn{}).Marshal()), ReadInSize},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s marshals to %d bytes, want %d", c.name, c.got, c.want)
		}
	}
}

func TestInHeaderRoundTrip(t *testing.T) {
	in := InHeader{
		Len:    InHeaderSize + 12,
		Opcode: OpRead,
		Unique: 0xdeadbeef01,
		NodeID: 2,
		UID:    1000,
		GID:    1001,
		PID:    4242,
	}
	out, err := UnmarshalInHeader(in.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalInHeader: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestUnmarshalInHeaderTruncated(t *testing.T) {
	if _, err := UnmarshalInHeader(make([]byte, InHeaderSize-1)); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestUnmarshalInitInShortPayload(t *testing.T) {
	// A minimal pre-7.6 INIT carries only the version pair.
	full := InitIn{Major: 7, Minor: 5, MaxReadahead: 131072, Flags: 0x3}
	in, err := UnmarshalInitIn(full.Marshal()[:8])
	if err != nil {
		t.Fatalf("UnmarshalInitIn: %v", err)
	}
	if in.Major != 7 || in.Minor != 5 {
		t.Fatalf("got version %d.%d, want 7.5", in.Major, in.Minor)
	}
	if in.MaxReadahead != 0 || in.Flags != 0 {
		t.Fatalf("short payload must leave readahead and flags zero, got %+v", in)
	}

	if _, err := UnmarshalInitIn(make([]byte, 4)); err == nil {
		t.Fatal("expected error for payload without a version pair")
	}
}

func TestUnmarshalReadInOldKernelPayload(t *testing.T) {
	full := ReadIn{Fh: 10, Offset: 65536, Size: 4096, LockOwner: 7}
	// Kernels before 7.9 send only the leading 24 bytes.
	in, err := UnmarshalReadIn(full.Marshal()[:24])
	if err != nil {
		t.Fatalf("UnmarshalReadIn: %v", err)
	}
	if in.Fh != 10 || in.Offset != 65536 || in.Size != 4096 {
		t.Fatalf("unexpected decode: %+v", in)
	}
	if in.LockOwner != 0 {
		t.Fatalf("short payload must leave lock owner zero, got %d", in.LockOwner)
	}

	if _, err := UnmarshalReadIn(make([]byte, 16)); err == nil {
		t.Fatal("expected error for truncated READ payload")
	}
}

func TestEntryOutRoundTrip(t *testing.T) {
	out := EntryOut{
		NodeID:     2,
		Generation: 2,
		EntryValid: 10,
		AttrValid:  10,
		Attr: Attr{
			Ino:     2,
			Size:    1 << 30,
			Blocks:  1 << 18,
			Mode:    0o100444,
			Nlink:   1,
			UID:     1000,
			GID:     1000,
			Blksize: 4096,
		},
	}
	got, err := UnmarshalEntryOut(out.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEntryOut: %v", err)
	}
	if got != out {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, out)
	}
}

func TestAttrOutRoundTrip(t *testing.T) {
	out := AttrOut{
		AttrValid: 10,
		Attr: Attr{
			Ino:     3,
			Mode:    0o100000,
			Nlink:   1,
			Blksize: 4096,
		},
	}
	got, err := UnmarshalAttrOut(out.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalAttrOut: %v", err)
	}
	if got != out {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, out)
	}
}

func TestInitOutCompatTruncation(t *testing.T) {
	out := InitOut{
		Major:               KernelVersion,
		Minor:               22,
		MaxReadahead:        131072,
		MaxBackground:       32,
		CongestionThreshold: 32,
		MaxWrite:            4096,
	}
	full := out.Marshal()
	compat := full[:InitOutCompat22Size]

	// Every negotiated field lives in the leading 24 bytes, so the
	// truncated form still carries the full agreement.
	if native.Uint32(compat[0:]) != KernelVersion {
		t.Fatalf("major = %d, want %d", native.Uint32(compat[0:]), KernelVersion)
	}
	if native.Uint32(compat[20:]) != 4096 {
		t.Fatalf("max_write = %d, want 4096", native.Uint32(compat[20:]))
	}
}

func TestOpcodeName(t *testing.T) {
	if got := OpcodeName(OpRead); got != "READ" {
		t.Fatalf("OpcodeName(OpRead) = %q", got)
	}
	if got := OpcodeName(9999); got != "opcode(9999)" {
		t.Fatalf("OpcodeName(9999) = %q", got)
	}
}
