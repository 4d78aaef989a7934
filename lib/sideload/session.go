// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sideload

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sideloadfs/lib/fuseproto"
	"github.com/bureau-foundation/sideloadfs/lib/provider"
)

// The three inode identities that exist for the session's lifetime.
// FUSE reserves 1 for the root; the other two are assigned once and
// never reused.
const (
	rootInode    = 1
	packageInode = 2
	exitInode    = 3
)

// Block size bounds for the producer-chosen transfer block. The
// kernel clamps max_read below 4096 up to 4096, so smaller blocks
// would break the two-blocks-per-read guarantee; 4 MiB bounds the
// block buffers.
const (
	minBlockSize = 4096
	maxBlockSize = 1 << 22
)

// maxFileBlocks bounds the fingerprint table and cache index. At the
// minimum block size this still admits a 1 GiB package, and at
// typical block sizes far more.
const maxFileBlocks = 1 << 18

// noBlock is the cursor value meaning the current buffer holds no
// canonical block.
const noBlock = math.MaxUint64

// fingerprint is the 256-bit BLAKE3 digest of a block's canonical
// contents: the full block-size buffer, including the deterministic
// zero padding of a short tail block. The zero value means the block
// has never been observed; once set, an entry never changes for the
// session.
type fingerprint [32]byte

func (f *fingerprint) isZero() bool {
	return *f == fingerprint{}
}

// Default names of the two virtual files. The host tool consuming
// the mount must agree on these.
const (
	DefaultPackageName = "package.zip"
	DefaultExitName    = "exit"
)

// Options configures a session.
type Options struct {
	// Mountpoint is the directory the filesystem is mounted on. It
	// must already exist.
	Mountpoint string

	// Provider is the source of package bytes. The session takes
	// ownership and closes it during teardown.
	Provider provider.Provider

	// PackageName is the name of the virtual package file. Empty
	// uses DefaultPackageName.
	PackageName string

	// ExitName is the name of the virtual exit file. Empty uses
	// DefaultExitName.
	ExitName string

	// Logger receives diagnostic messages. If nil, a stderr text
	// logger at Error level is used.
	Logger *slog.Logger
}

// Session is one run of the daemon from mount to unmount. It is
// single-threaded: requests are served strictly in the order the
// kernel delivers them, one at a time, and all block state below is
// touched only from the serve loop.
type Session struct {
	prov   provider.Provider
	logger *slog.Logger

	mountpoint  string
	packageName string
	exitName    string

	fileSize   uint64
	blockSize  uint32
	fileBlocks uint32

	uid uint32
	gid uint32

	// currBlock tags the block held in current, or noBlock. current
	// holds the canonical contents of that block; extra holds the
	// tail of the previous block when a read spans a boundary.
	currBlock uint64
	current   []byte
	extra     []byte

	fingerprints []fingerprint

	// cache is nil when the free-memory sizing disabled it.
	cache *blockCache
}

// New validates the package geometry against the provider and builds
// a session ready to Run. The cache is sized here, once, from
// /proc/meminfo.
func New(options Options) (*Session, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if options.PackageName == "" {
		options.PackageName = DefaultPackageName
	}
	if options.ExitName == "" {
		options.ExitName = DefaultExitName
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	fileSize := options.Provider.FileSize()
	blockSize := options.Provider.BlockSize()
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return nil, fmt.Errorf("block size %d outside [%d, %d]", blockSize, minBlockSize, maxBlockSize)
	}
	var fileBlocks uint64
	if fileSize > 0 {
		fileBlocks = (fileSize-1)/uint64(blockSize) + 1
	}
	if fileBlocks > maxFileBlocks {
		return nil, fmt.Errorf("package has too many blocks (%d, limit %d)", fileBlocks, maxFileBlocks)
	}

	s := &Session{
		prov:         options.Provider,
		logger:       options.Logger,
		mountpoint:   options.Mountpoint,
		packageName:  options.PackageName,
		exitName:     options.ExitName,
		fileSize:     fileSize,
		blockSize:    blockSize,
		fileBlocks:   uint32(fileBlocks),
		uid:          uint32(os.Getuid()),
		gid:          uint32(os.Getgid()),
		currBlock:    noBlock,
		current:      make([]byte, blockSize),
		extra:        make([]byte, blockSize),
		fingerprints: make([]fingerprint, fileBlocks),
	}

	if slots := cacheSlotCount(freeMemory(), s.fileBlocks, s.blockSize); slots > 0 {
		s.cache = newBlockCache(s.fileBlocks, slots, s.blockSize)
		s.logger.Info("block cache enabled", "slots", slots, "blocks", s.fileBlocks)
	} else {
		s.logger.Info("block cache disabled; re-reads will refetch")
	}

	return s, nil
}

// Run mounts the filesystem and serves requests until the exit file
// is observed or the kernel channel is lost, then tears everything
// down. It returns nil only on a clean exit-file shutdown.
func (s *Session) Run() error {
	// Recover from a previous abnormal exit that left the
	// mountpoint occupied.
	_ = unix.Unmount(s.mountpoint, unix.MNT_FORCE)

	ch, err := fuseproto.OpenDevice()
	if err != nil {
		s.prov.Close()
		return err
	}
	// The channel descriptor is released last, after the mount is
	// detached.
	defer ch.Close()

	if err := s.mount(ch.Fd()); err != nil {
		s.prov.Close()
		return err
	}

	s.logger.Info("package filesystem mounted",
		"mountpoint", s.mountpoint,
		"package", s.packageName,
		"size", s.fileSize,
		"block_size", s.blockSize,
		"blocks", s.fileBlocks,
	)

	serveErr := s.serve(ch)

	if err := s.prov.Close(); err != nil {
		s.logger.Warn("closing provider failed", "error", err)
	}
	if err := unix.Unmount(s.mountpoint, unix.MNT_DETACH); err != nil {
		s.logger.Warn("detaching mount failed", "mountpoint", s.mountpoint, "error", err)
	}
	s.release()

	if serveErr != nil {
		return serveErr
	}
	s.logger.Info("session finished", "mountpoint", s.mountpoint)
	return nil
}

// mount attaches the filesystem: read-only, nosuid, nodev, noexec,
// with max_read pinned to the block size so a single read request
// never spans more than two blocks. allow_other lets the installer
// processes, which run as other users, read the package.
func (s *Session) mount(devFd int) error {
	options := fmt.Sprintf("fd=%d,user_id=%d,group_id=%d,max_read=%d,allow_other,rootmode=040000",
		devFd, s.uid, s.gid, s.blockSize)
	flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_RDONLY | unix.MS_NOEXEC)
	if err := unix.Mount("/dev/fuse", s.mountpoint, "fuse", flags, options); err != nil {
		return fmt.Errorf("mounting on %s: %w", s.mountpoint, err)
	}
	return nil
}

// release drops every buffer the session owns: cache slots, the
// cache index, then the block buffers and fingerprint table.
func (s *Session) release() {
	s.cache.release()
	s.cache = nil
	s.current = nil
	s.extra = nil
	s.fingerprints = nil
	s.currBlock = noBlock
}
