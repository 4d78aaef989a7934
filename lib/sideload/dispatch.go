// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sideloadfs/lib/fuseproto"
)

// kernelChannel is what the dispatcher needs from the FUSE channel.
// Production uses *fuseproto.Channel; tests substitute an in-memory
// fake that plays the kernel's side.
type kernelChannel interface {
	ReadRequest(buf []byte) (int, error)
	Reply(unique uint64, segments ...[]byte) error
	ReplyError(unique uint64, errno syscall.Errno) error
}

// handlerStatus is how a handler tells the dispatcher what remains
// to be done for the request.
type handlerStatus int

const (
	// statusError: no reply written yet; the dispatcher frames the
	// handler's errno as the reply. Errno zero is a success reply
	// with no payload.
	statusError handlerStatus = iota

	// statusReplied: the handler already wrote the reply.
	statusReplied

	// statusExit: the handler wrote the reply and observed the exit
	// file; the serve loop terminates cleanly.
	statusExit
)

// serve runs the request loop: read one request, route it, reply,
// repeat. It returns nil when the exit file is observed and an error
// when the channel is lost or protocol negotiation fails. One
// request is in flight at a time; replies are emitted in arrival
// order.
func (s *Session) serve(ch kernelChannel) error {
	buf := make([]byte, fuseproto.RequestBufferSize)
	for {
		n, err := ch.ReadRequest(buf)
		if err != nil {
			if errors.Is(err, unix.ENODEV) {
				// The filesystem was forcibly unmounted out from
				// under us.
				return fmt.Errorf("FUSE channel lost: %w", err)
			}
			s.logger.Warn("request read failed; retrying", "error", err)
			continue
		}
		if n < fuseproto.InHeaderSize {
			s.logger.Warn("request too short", "length", n)
			continue
		}

		hdr, err := fuseproto.UnmarshalInHeader(buf[:n])
		if err != nil {
			s.logger.Warn("request header unreadable", "error", err)
			continue
		}
		payload := buf[fuseproto.InHeaderSize:n]

		s.logger.Debug("request",
			"op", fuseproto.OpcodeName(hdr.Opcode),
			"unique", hdr.Unique,
			"node", hdr.NodeID,
		)

		var status handlerStatus
		errno := syscall.ENOSYS

		switch hdr.Opcode {
		case fuseproto.OpInit:
			var fatal error
			status, errno, fatal = s.handleInit(ch, hdr, payload)
			if fatal != nil {
				return fatal
			}
		case fuseproto.OpLookup:
			status, errno = s.handleLookup(ch, hdr, payload)
		case fuseproto.OpGetAttr:
			status, errno = s.handleGetAttr(ch, hdr)
		case fuseproto.OpOpen:
			status, errno = s.handleOpen(ch, hdr)
		case fuseproto.OpRead:
			status, errno = s.handleRead(ch, hdr, payload)
		case fuseproto.OpFlush, fuseproto.OpRelease:
			// Nothing to flush and nothing to release; report
			// success.
			status, errno = statusError, 0
		default:
			s.logger.Debug("unsupported opcode", "op", fuseproto.OpcodeName(hdr.Opcode))
			status = statusError
		}

		switch status {
		case statusExit:
			s.logger.Info("exit file observed; shutting down")
			return nil
		case statusReplied:
		case statusError:
			if err := ch.ReplyError(hdr.Unique, errno); err != nil {
				s.logger.Warn("error reply failed", "unique", hdr.Unique, "error", err)
			}
		}
	}
}
