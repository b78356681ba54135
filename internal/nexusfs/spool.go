//go:build linux

package nexusfs

// Large writes are staged through a direct-I/O backed scratch file rather
// than held entirely in the FUSE handler's heap: nexusfs may run for a
// long time with channels with multi-megabyte max_size, and without this
// the kernel's page cache for a purely sequential, write-once, read-once
// scratch file just grows without bound. Adapted from rclone's local
// backend direct-I/O, fallocate and fadvise helpers.

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const spoolThreshold = 1 << 20 // writes larger than this spool to disk

// maybeSpool round-trips data through a direct-I/O scratch file when it
// exceeds spoolThreshold, so a handful of oversized channel writes can't
// pin multi-megabyte buffers in the FUSE handler's page cache for the
// life of the process.
func maybeSpool(dir string, maxSize uint64, data []byte) ([]byte, error) {
	if len(data) <= spoolThreshold {
		return data, nil
	}
	s, err := newSpool(dir, maxSize, data)
	if err != nil {
		return nil, err
	}
	return s.readAndClose()
}

func directIOOpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag|unix.O_DIRECT, perm)
}

var (
	fallocFlags = [...]uint32{
		unix.FALLOC_FL_KEEP_SIZE,
		unix.FALLOC_FL_KEEP_SIZE | unix.FALLOC_FL_PUNCH_HOLE,
	}
	fallocFlagsIndex int32
)

// preallocate reserves size bytes on disk for f without changing its
// apparent length, falling back through fallocFlags combinations for
// filesystems that reject the preferred one (ZFS rejects PUNCH_HOLE).
func preallocate(size int64, f *os.File) error {
	if size <= 0 {
		return nil
	}
	index := atomic.LoadInt32(&fallocFlagsIndex)
	for {
		if int(index) >= len(fallocFlags) {
			return nil
		}
		err := unix.Fallocate(int(f.Fd()), fallocFlags[index], 0, size)
		if err == unix.ENOTSUP {
			index++
			atomic.StoreInt32(&fallocFlagsIndex, index)
			continue
		}
		return err
	}
}

// spool is a scratch file for one oversized write: data is written through
// an ordinary file handle and read back through an O_DIRECT one, after
// which readAndClose advises the kernel to discard the file's cached pages.
type spool struct {
	f *os.File
}

// newSpool creates a spool file under dir sized to maxSize and writes
// data into it.
func newSpool(dir string, maxSize uint64, data []byte) (*spool, error) {
	f, err := os.CreateTemp(dir, "nexusfs-spool-*")
	if err != nil {
		return nil, fmt.Errorf("nexusfs: create spool file: %w", err)
	}
	if err := preallocate(int64(maxSize), f); err != nil {
		// Best effort: some filesystems (tmpfs, overlayfs) don't support
		// fallocate at all. The write below still succeeds.
		_ = err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("nexusfs: write spool file: %w", err)
	}
	return &spool{f: f}, nil
}

// readAndClose reads the spooled bytes back via a direct-I/O file handle,
// advises the kernel to drop its pages, then removes the scratch file.
func (s *spool) readAndClose() ([]byte, error) {
	name := s.f.Name()
	s.f.Close()

	direct, err := directIOOpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		// O_DIRECT is occasionally rejected by the underlying filesystem
		// (tmpfs); fall back to a buffered read rather than failing the
		// whole message.
		direct, err = os.Open(name)
		if err != nil {
			os.Remove(name)
			return nil, fmt.Errorf("nexusfs: reopen spool file: %w", err)
		}
	}
	defer direct.Close()
	defer os.Remove(name)

	data, err := io.ReadAll(direct)
	if err != nil {
		return nil, fmt.Errorf("nexusfs: read spool file: %w", err)
	}
	_ = unix.Fadvise(int(direct.Fd()), 0, int64(len(data)), unix.FADV_DONTNEED)
	return data, nil
}
