// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Stream protocol operations. The host answers "meta" with a
// StreamMeta message and "read" with a StreamBlock message; "close"
// has no answer and is a courtesy notification before the transport
// is torn down.
const (
	StreamOpMeta  = "meta"
	StreamOpRead  = "read"
	StreamOpClose = "close"
)

// StreamRequest is one request frame sent to the host. Block is only
// meaningful for read requests.
type StreamRequest struct {
	Op    string `cbor:"op"`
	Block uint64 `cbor:"block,omitempty"`
}

// StreamMeta is the host's answer to a meta request: the package
// geometry, fixed for the connection's lifetime.
type StreamMeta struct {
	FileSize  uint64 `cbor:"file_size"`
	BlockSize uint32 `cbor:"block_size"`
}

// StreamBlock is the host's answer to a read request. OK false means
// the host could not serve the block.
type StreamBlock struct {
	OK   bool   `cbor:"ok"`
	Data []byte `cbor:"data,omitempty"`
}

// streamEncMode frames request messages with deterministic CBOR
// encoding: same logical message, same bytes.
var streamEncMode cbor.EncMode

func init() {
	var err error
	streamEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("provider: CBOR encoder initialization failed: " + err.Error())
	}
}

// Stream fetches blocks from a remote host over a byte stream. Each
// read is one request/response exchange; the connection carries at
// most one exchange at a time.
type Stream struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	enc    *cbor.Encoder
	dec    *cbor.Decoder
	meta   StreamMeta
	closed bool
}

var _ Provider = (*Stream)(nil)

// NewStream performs the geometry handshake on conn and returns a
// provider serving blocks from it. On handshake failure the
// connection is closed.
func NewStream(conn io.ReadWriteCloser) (*Stream, error) {
	s := &Stream{
		conn: conn,
		enc:  streamEncMode.NewEncoder(conn),
		dec:  cbor.NewDecoder(conn),
	}
	if err := s.enc.Encode(StreamRequest{Op: StreamOpMeta}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending geometry request: %w", err)
	}
	if err := s.dec.Decode(&s.meta); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading geometry: %w", err)
	}
	return s, nil
}

// FileSize returns the package size from the handshake.
func (s *Stream) FileSize() uint64 {
	return s.meta.FileSize
}

// BlockSize returns the block size from the handshake.
func (s *Stream) BlockSize() uint32 {
	return s.meta.BlockSize
}

// ReadBlock requests one block from the host and copies it into dst.
// The host must return exactly len(dst) bytes; anything else is a
// protocol violation and fails the read.
func (s *Stream) ReadBlock(dst []byte, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("reading block %d: stream closed", block)
	}
	if err := s.enc.Encode(StreamRequest{Op: StreamOpRead, Block: block}); err != nil {
		return fmt.Errorf("requesting block %d: %w", block, err)
	}
	var resp StreamBlock
	if err := s.dec.Decode(&resp); err != nil {
		return fmt.Errorf("reading block %d response: %w", block, err)
	}
	if !resp.OK {
		return fmt.Errorf("host refused block %d", block)
	}
	if len(resp.Data) != len(dst) {
		return fmt.Errorf("block %d: host sent %d bytes, want %d", block, len(resp.Data), len(dst))
	}
	copy(dst, resp.Data)
	return nil
}

// Close notifies the host and closes the transport. The close
// notification is best effort: the transport may already be gone.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.enc.Encode(StreamRequest{Op: StreamOpClose})
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("closing stream transport: %w", err)
	}
	return nil
}
