// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuseproto

import (
	"encoding/binary"
	"fmt"
)

// Protocol version constants. The major version must match the
// kernel exactly; the minor version is negotiated downward during
// INIT. Minor 6 (kernel 2.6.16) is the oldest protocol revision
// whose INIT reply structure we can produce.
const (
	// KernelVersion is the FUSE protocol major version this package
	// is written against.
	KernelVersion = 7

	// KernelMinorVersion is the newest minor revision this package
	// understands. The negotiated minor is the smaller of this and
	// the kernel's advertised minor.
	KernelMinorVersion = 31

	// MinKernelMinorVersion is the oldest kernel minor revision
	// accepted during INIT.
	MinKernelMinorVersion = 6
)

// PathMax is the kernel's PATH_MAX. Request payloads carrying names
// are bounded by it.
const PathMax = 4096

// RequestBufferSize is the size of the buffer a server must present
// to each read on the FUSE device: one request header plus room for
// the largest payload the serviced opcode set can carry.
const RequestBufferSize = InHeaderSize + 8*PathMax

// Opcodes for the serviced request set. Values match fuse.h.
const (
	OpLookup  = 1
	OpForget  = 2
	OpGetAttr = 3
	OpOpen    = 14
	OpRead    = 15
	OpRelease = 18
	OpFlush   = 25
	OpInit    = 26
)

var opcodeNames = map[uint32]string{
	OpLookup:  "LOOKUP",
	OpForget:  "FORGET",
	OpGetAttr: "GETATTR",
	OpOpen:    "OPEN",
	OpRead:    "READ",
	OpRelease: "RELEASE",
	OpFlush:   "FLUSH",
	OpInit:    "INIT",
}

// OpcodeName returns a human-readable name for an opcode, for
// diagnostics. Unknown opcodes format as their numeric value.
func OpcodeName(op uint32) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", op)
}

// Wire struct sizes in bytes. These are fixed by the kernel ABI and
// asserted by tests against the marshalled forms.
const (
	InHeaderSize  = 40
	OutHeaderSize = 16
	InitInSize    = 16
	InitOutSize   = 64
	AttrSize      = 88
	EntryOutSize  = 128
	AttrOutSize   = 104
	OpenInSize    = 8
	OpenOutSize   = 16
	ReadInSize    = 40
	FlushInSize   = 24
	ReleaseInSize = 24
)

// InitOutCompat22Size is the size of the INIT reply structure as
// known to kernels at minor revision 22 and older. The structure
// grew at 7.23; older kernels must receive the truncated form.
const InitOutCompat22Size = 24

// native is the byte order of the FUSE device: the kernel writes and
// reads wire structs in host byte order.
var native = binary.NativeEndian

// InHeader prefixes every request read from the kernel.
type InHeader struct {
	Len     uint32 // total request length including this header
	Opcode  uint32
	Unique  uint64 // request id, echoed in the reply header
	NodeID  uint64
	UID     uint32
	GID     uint32
	PID     uint32
	Padding uint32
}

// UnmarshalInHeader decodes a request header from the front of b.
func UnmarshalInHeader(b []byte) (InHeader, error) {
	if len(b) < InHeaderSize {
		return InHeader{}, fmt.Errorf("request header truncated: %d bytes", len(b))
	}
	return InHeader{
		Len:     native.Uint32(b[0:]),
		Opcode:  native.Uint32(b[4:]),
		Unique:  native.Uint64(b[8:]),
		NodeID:  native.Uint64(b[16:]),
		UID:     native.Uint32(b[24:]),
		GID:     native.Uint32(b[28:]),
		PID:     native.Uint32(b[32:]),
		Padding: native.Uint32(b[36:]),
	}, nil
}

// Marshal encodes the header into wire form.
func (h *InHeader) Marshal() []byte {
	b := make([]byte, InHeaderSize)
	native.PutUint32(b[0:], h.Len)
	native.PutUint32(b[4:], h.Opcode)
	native.PutUint64(b[8:], h.Unique)
	native.PutUint64(b[16:], h.NodeID)
	native.PutUint32(b[24:], h.UID)
	native.PutUint32(b[28:], h.GID)
	native.PutUint32(b[32:], h.PID)
	native.PutUint32(b[36:], h.Padding)
	return b
}

// OutHeader prefixes every reply written to the kernel. Error is
// zero on success or a negated errno.
type OutHeader struct {
	Len    uint32 // total reply length including this header
	Error  int32
	Unique uint64
}

// Marshal encodes the header into wire form.
func (h *OutHeader) Marshal() []byte {
	b := make([]byte, OutHeaderSize)
	native.PutUint32(b[0:], h.Len)
	native.PutUint32(b[4:], uint32(h.Error))
	native.PutUint64(b[8:], h.Unique)
	return b
}

// UnmarshalOutHeader decodes a reply header from the front of b.
// Servers never read reply headers; this exists for test harnesses
// acting as the kernel side of a channel.
func UnmarshalOutHeader(b []byte) (OutHeader, error) {
	if len(b) < OutHeaderSize {
		return OutHeader{}, fmt.Errorf("reply header truncated: %d bytes", len(b))
	}
	return OutHeader{
		Len:    native.Uint32(b[0:]),
		Error:  int32(native.Uint32(b[4:])),
		Unique: native.Uint64(b[8:]),
	}, nil
}

// InitIn is the INIT request payload. Later protocol revisions carry
// more fields; only the leading four are meaningful here, and only
// the version pair is required to be present.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

// UnmarshalInitIn decodes an INIT payload. The version pair must be
// present; the readahead and flag words default to zero when the
// kernel sends a short (pre-7.6) payload.
func UnmarshalInitIn(b []byte) (InitIn, error) {
	if len(b) < 8 {
		return InitIn{}, fmt.Errorf("INIT payload truncated: %d bytes", len(b))
	}
	in := InitIn{
		Major: native.Uint32(b[0:]),
		Minor: native.Uint32(b[4:]),
	}
	if len(b) >= 16 {
		in.MaxReadahead = native.Uint32(b[8:])
		in.Flags = native.Uint32(b[12:])
	}
	return in, nil
}

// Marshal encodes the payload into wire form.
func (in *InitIn) Marshal() []byte {
	b := make([]byte, InitInSize)
	native.PutUint32(b[0:], in.Major)
	native.PutUint32(b[4:], in.Minor)
	native.PutUint32(b[8:], in.MaxReadahead)
	native.PutUint32(b[12:], in.Flags)
	return b
}

// InitOut is the INIT reply payload. Marshal produces the full 7.23+
// structure; pass minor ≤ 22 kernels only the leading
// InitOutCompat22Size bytes.
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
}

// Marshal encodes the payload into wire form. Trailing words the
// negotiated revision does not define are zero.
func (out *InitOut) Marshal() []byte {
	b := make([]byte, InitOutSize)
	native.PutUint32(b[0:], out.Major)
	native.PutUint32(b[4:], out.Minor)
	native.PutUint32(b[8:], out.MaxReadahead)
	native.PutUint32(b[12:], out.Flags)
	native.PutUint16(b[16:], out.MaxBackground)
	native.PutUint16(b[18:], out.CongestionThreshold)
	native.PutUint32(b[20:], out.MaxWrite)
	native.PutUint32(b[24:], out.TimeGran)
	native.PutUint16(b[28:], out.MaxPages)
	native.PutUint16(b[30:], out.MapAlignment)
	return b
}

// Attr is the wire form of an inode's attributes, embedded in
// EntryOut and AttrOut replies.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Rdev      uint32
	Blksize   uint32
	Padding   uint32
}

func (a *Attr) marshalInto(b []byte) {
	native.PutUint64(b[0:], a.Ino)
	native.PutUint64(b[8:], a.Size)
	native.PutUint64(b[16:], a.Blocks)
	native.PutUint64(b[24:], a.Atime)
	native.PutUint64(b[32:], a.Mtime)
	native.PutUint64(b[40:], a.Ctime)
	native.PutUint32(b[48:], a.AtimeNsec)
	native.PutUint32(b[52:], a.MtimeNsec)
	native.PutUint32(b[56:], a.CtimeNsec)
	native.PutUint32(b[60:], a.Mode)
	native.PutUint32(b[64:], a.Nlink)
	native.PutUint32(b[68:], a.UID)
	native.PutUint32(b[72:], a.GID)
	native.PutUint32(b[76:], a.Rdev)
	native.PutUint32(b[80:], a.Blksize)
	native.PutUint32(b[84:], a.Padding)
}

func unmarshalAttr(b []byte) Attr {
	return Attr{
		Ino:       native.Uint64(b[0:]),
		Size:      native.Uint64(b[8:]),
		Blocks:    native.Uint64(b[16:]),
		Atime:     native.Uint64(b[24:]),
		Mtime:     native.Uint64(b[32:]),
		Ctime:     native.Uint64(b[40:]),
		AtimeNsec: native.Uint32(b[48:]),
		MtimeNsec: native.Uint32(b[52:]),
		CtimeNsec: native.Uint32(b[56:]),
		Mode:      native.Uint32(b[60:]),
		Nlink:     native.Uint32(b[64:]),
		UID:       native.Uint32(b[68:]),
		GID:       native.Uint32(b[72:]),
		Rdev:      native.Uint32(b[76:]),
		Blksize:   native.Uint32(b[80:]),
		Padding:   native.Uint32(b[84:]),
	}
}

// EntryOut is the LOOKUP reply payload.
type EntryOut struct {
	NodeID         uint64
	Generation     uint64
	EntryValid     uint64 // seconds
	AttrValid      uint64 // seconds
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// Marshal encodes the payload into wire form.
func (out *EntryOut) Marshal() []byte {
	b := make([]byte, EntryOutSize)
	native.PutUint64(b[0:], out.NodeID)
	native.PutUint64(b[8:], out.Generation)
	native.PutUint64(b[16:], out.EntryValid)
	native.PutUint64(b[24:], out.AttrValid)
	native.PutUint32(b[32:], out.EntryValidNsec)
	native.PutUint32(b[36:], out.AttrValidNsec)
	out.Attr.marshalInto(b[40:])
	return b
}

// UnmarshalEntryOut decodes a LOOKUP reply payload. Used by test
// harnesses acting as the kernel.
func UnmarshalEntryOut(b []byte) (EntryOut, error) {
	if len(b) < EntryOutSize {
		return EntryOut{}, fmt.Errorf("entry reply truncated: %d bytes", len(b))
	}
	return EntryOut{
		NodeID:         native.Uint64(b[0:]),
		Generation:     native.Uint64(b[8:]),
		EntryValid:     native.Uint64(b[16:]),
		AttrValid:      native.Uint64(b[24:]),
		EntryValidNsec: native.Uint32(b[32:]),
		AttrValidNsec:  native.Uint32(b[36:]),
		Attr:           unmarshalAttr(b[40:]),
	}, nil
}

// AttrOut is the GETATTR reply payload.
type AttrOut struct {
	AttrValid     uint64 // seconds
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// Marshal encodes the payload into wire form.
func (out *AttrOut) Marshal() []byte {
	b := make([]byte, AttrOutSize)
	native.PutUint64(b[0:], out.AttrValid)
	native.PutUint32(b[8:], out.AttrValidNsec)
	native.PutUint32(b[12:], out.Dummy)
	out.Attr.marshalInto(b[16:])
	return b
}

// UnmarshalAttrOut decodes a GETATTR reply payload. Used by test
// harnesses acting as the kernel.
func UnmarshalAttrOut(b []byte) (AttrOut, error) {
	if len(b) < AttrOutSize {
		return AttrOut{}, fmt.Errorf("attr reply truncated: %d bytes", len(b))
	}
	return AttrOut{
		AttrValid:     native.Uint64(b[0:]),
		AttrValidNsec: native.Uint32(b[8:]),
		Dummy:         native.Uint32(b[12:]),
		Attr:          unmarshalAttr(b[16:]),
	}, nil
}

// OpenIn is the OPEN request payload.
type OpenIn struct {
	Flags     uint32
	OpenFlags uint32
}

// UnmarshalOpenIn decodes an OPEN payload.
func UnmarshalOpenIn(b []byte) (OpenIn, error) {
	if len(b) < OpenInSize {
		return OpenIn{}, fmt.Errorf("OPEN payload truncated: %d bytes", len(b))
	}
	return OpenIn{
		Flags:     native.Uint32(b[0:]),
		OpenFlags: native.Uint32(b[4:]),
	}, nil
}

// OpenOut is the OPEN reply payload.
type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

// Marshal encodes the payload into wire form.
func (out *OpenOut) Marshal() []byte {
	b := make([]byte, OpenOutSize)
	native.PutUint64(b[0:], out.Fh)
	native.PutUint32(b[8:], out.OpenFlags)
	native.PutUint32(b[12:], out.Padding)
	return b
}

// ReadIn is the READ request payload. The lock owner and flag words
// were added at 7.9; kernels older than that send a 24-byte payload,
// which decodes with those fields zero.
type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

// UnmarshalReadIn decodes a READ payload.
func UnmarshalReadIn(b []byte) (ReadIn, error) {
	if len(b) < 24 {
		return ReadIn{}, fmt.Errorf("READ payload truncated: %d bytes", len(b))
	}
	in := ReadIn{
		Fh:        native.Uint64(b[0:]),
		Offset:    native.Uint64(b[8:]),
		Size:      native.Uint32(b[16:]),
		ReadFlags: native.Uint32(b[20:]),
	}
	if len(b) >= ReadInSize {
		in.LockOwner = native.Uint64(b[24:])
		in.Flags = native.Uint32(b[32:])
		in.Padding = native.Uint32(b[36:])
	}
	return in, nil
}

// Marshal encodes the payload into wire form.
func (in *ReadIn) Marshal() []byte {
	b := make([]byte, ReadInSize)
	native.PutUint64(b[0:], in.Fh)
	native.PutUint64(b[8:], in.Offset)
	native.PutUint32(b[16:], in.Size)
	native.PutUint32(b[20:], in.ReadFlags)
	native.PutUint64(b[24:], in.LockOwner)
	native.PutUint32(b[32:], in.Flags)
	native.PutUint32(b[36:], in.Padding)
	return b
}

// FlushIn is the FLUSH request payload. The handler for FLUSH
// ignores it; the layout is defined for completeness of the wire
// surface.
type FlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

// ReleaseIn is the RELEASE request payload, likewise ignored by the
// handler.
type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}
