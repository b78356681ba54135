// Package nexusfs is the FUSE front-end a protocol process talks to: each
// channel it publishes or subscribes to appears as a file under its root,
// and reads/writes against that file are translated into router requests
// rather than touching real disk.
package nexusfs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/nexussim/nexus/internal/model"
)

// Backend is the orchestrator-side hook nexusfs calls into: writes enqueue
// a message with the router, reads pull the next delivered message for a
// (pid, channel) pair, returning nil data when none is deliverable.
type Backend interface {
	Write(ctx context.Context, pid model.PID, channel model.ChannelHandle, data []byte) error
	Read(ctx context.Context, pid model.PID, channel model.ChannelHandle) ([]byte, error)
}

// ChannelMode is the access mode a channel file is exposed under, derived
// from whether a protocol publishes it, subscribes to it, or both, and
// from the channel's own replay_writes configuration.
type ChannelMode int

const (
	ReadOnly ChannelMode = iota
	WriteOnly
	ReadWrite
	ReplayWrites
)

// Readable reports whether the mode allows a read syscall.
func (m ChannelMode) Readable() bool {
	return m == ReadOnly || m == ReadWrite || m == ReplayWrites
}

// Writable reports whether the mode allows a write syscall.
func (m ChannelMode) Writable() bool {
	return m == WriteOnly || m == ReadWrite || m == ReplayWrites
}

// ChannelRef describes one file this filesystem exposes for a protocol.
type ChannelRef struct {
	Name    string
	Handle  model.ChannelHandle
	Mode    ChannelMode
	MaxSize uint64
}

// ProtocolView is everything nexusfs needs to expose one protocol's root
// directory: its channel files, scoped to exactly what it may see.
type ProtocolView struct {
	PID      model.PID
	Root     string
	Channels []ChannelRef
}

// FS is the root bazil.org/fuse filesystem for a single protocol's view.
type FS struct {
	view    ProtocolView
	backend Backend
}

// New builds a per-protocol filesystem.
func New(view ProtocolView, backend Backend) *FS {
	return &FS{view: view, backend: backend}
}

// Root returns the filesystem's root directory, implementing fs.FS.
func (f *FS) Root() (fs.Node, error) {
	return &dir{fs: f}, nil
}

type dir struct {
	fs *FS
}

var _ fs.Node = (*dir)(nil)
var _ fs.HandleReadDirAller = (*dir)(nil)
var _ fs.NodeStringLookuper = (*dir)(nil)

func (d *dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0o555
	return nil
}

func (d *dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents := make([]fuse.Dirent, 0, len(d.fs.view.Channels))
	for _, ch := range d.fs.view.Channels {
		ents = append(ents, fuse.Dirent{Name: ch.Name, Type: fuse.DT_File})
	}
	return ents, nil
}

func (d *dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	for _, ch := range d.fs.view.Channels {
		if ch.Name == name {
			return &channelFile{fs: d.fs, ref: ch}, nil
		}
	}
	return nil, syscall.ENOENT
}

// channelFile is one channel's file node: writing to it sends bytes into
// the router, reading from it returns the next delivered message, or zero
// bytes when none is deliverable.
type channelFile struct {
	fs  *FS
	ref ChannelRef

	mu       sync.Mutex
	readBuf  []byte // bytes from the last delivered message not yet fully read
}

var _ fs.Node = (*channelFile)(nil)
var _ fs.NodeOpener = (*channelFile)(nil)

func (c *channelFile) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Mode = 0o200
	if c.ref.Mode.Readable() {
		a.Mode |= 0o400
	}
	a.Size = c.ref.MaxSize
	return nil
}

// Open enforces the allowed (mode, flag) pairs: ReadWrite and
// ReplayWrites channels accept any access mode, ReadOnly only O_RDONLY
// and WriteOnly only O_WRONLY. O_APPEND is never allowed, regardless of
// mode, since it would let a writer interleave with router-scheduled
// delivery in a way that breaks ordering guarantees.
func (c *channelFile) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	flags := req.Flags
	if flags&fuse.OpenAppend != 0 {
		return nil, syscall.EACCES
	}
	switch c.ref.Mode {
	case ReadWrite, ReplayWrites:
	case ReadOnly:
		if !flags.IsReadOnly() {
			return nil, syscall.EACCES
		}
	case WriteOnly:
		if !flags.IsWriteOnly() {
			return nil, syscall.EACCES
		}
	default:
		return nil, syscall.EACCES
	}
	resp.Flags |= fuse.OpenDirectIO
	return c, nil
}

var _ fs.HandleWriter = (*channelFile)(nil)

func (c *channelFile) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if !c.ref.Mode.Writable() {
		return syscall.EACCES
	}
	if c.ref.MaxSize > 0 && uint64(len(req.Data)) > c.ref.MaxSize {
		return syscall.EMSGSIZE
	}
	if c.ref.Mode == ReplayWrites {
		resp.Size = len(req.Data)
		return nil
	}
	data, err := maybeSpool(c.fs.view.Root, c.ref.MaxSize, req.Data)
	if err != nil {
		return syscall.EIO
	}
	if err := c.fs.backend.Write(ctx, c.fs.view.PID, c.ref.Handle, data); err != nil {
		return mapWriteError(err)
	}
	resp.Size = len(req.Data)
	return nil
}

var _ fs.HandleReader = (*channelFile)(nil)

func (c *channelFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if !c.ref.Mode.Readable() {
		return syscall.EACCES
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.readBuf) == 0 {
		data, err := c.fs.backend.Read(ctx, c.fs.view.PID, c.ref.Handle)
		if err != nil {
			return mapReadError(err)
		}
		c.readBuf = data
	}

	n := req.Size
	if n > len(c.readBuf) {
		n = len(c.readBuf)
	}
	resp.Data = append(resp.Data, c.readBuf[:n]...)
	c.readBuf = c.readBuf[n:]
	return nil
}

// mapWriteError translates a backend write failure into the errno a
// caller expects: a malformed message is EBADMSG, anything else is
// surfaced as EIO. Over-size writes are rejected with EMSGSIZE in Write
// before the backend is called.
func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case isMalformed(err):
		return syscall.EBADMSG
	default:
		return syscall.EIO
	}
}

func mapReadError(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return syscall.EINTR
	}
	return syscall.EIO
}

// malformedError is returned by a Backend when a write cannot be
// represented as an AddressedMsg at all (as opposed to being valid but
// rejected for size).
type malformedError struct{ reason string }

func (e *malformedError) Error() string { return fmt.Sprintf("nexusfs: malformed write: %s", e.reason) }

func isMalformed(err error) bool {
	_, ok := err.(*malformedError)
	return ok
}

// NewMalformedError constructs the error Backend implementations should
// return for a write that cannot be framed at all.
func NewMalformedError(reason string) error {
	return &malformedError{reason: reason}
}
