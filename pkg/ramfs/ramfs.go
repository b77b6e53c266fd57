// Package ramfs is an in-memory FileSystem backend: a mutex-guarded node
// tree with qid paths from a monotonic counter and qid versions bumped on
// every content change. It backs the daemon and the engine's end-to-end
// tests; nothing survives process exit.
package ramfs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
	"github.com/jrsharp/9p4z-sub000/pkg/server"
)

var (
	// ErrNotFound is returned when a walk element does not resolve.
	ErrNotFound = errors.New("file not found")

	// ErrExists is returned when create hits an existing name.
	ErrExists = errors.New("file already exists")

	// ErrNotDir is returned for directory operations on a file.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is returned for byte I/O on a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrNotEmpty is returned when removing a directory with children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrRootRemove is returned when removing the tree root.
	ErrRootRemove = errors.New("cannot remove root")
)

type node struct {
	qid      proto.Qid
	name     string
	mode     uint32
	atime    uint32
	mtime    uint32
	uid      string
	content  []byte
	parent   *node
	children map[string]*node
}

func (n *node) Qid() proto.Qid { return n.qid }

func (n *node) isDir() bool { return n.mode&proto.DMDir != 0 }

// FS is the in-memory tree. All methods are safe for concurrent use by
// multiple server sessions.
type FS struct {
	mu       sync.Mutex
	root     *node
	nextPath uint64
	now      func() time.Time
}

// New returns an empty tree rooted at a directory owned by uname "ninep".
func New() *FS {
	fs := &FS{now: time.Now}
	fs.root = &node{
		qid:      proto.Qid{Type: proto.QTDir, Path: fs.allocPath()},
		name:     "/",
		mode:     proto.DMDir | 0755,
		children: map[string]*node{},
	}
	fs.touch(fs.root)
	return fs
}

func (fs *FS) allocPath() uint64 {
	fs.nextPath++
	return fs.nextPath
}

func (fs *FS) touch(n *node) {
	now := uint32(fs.now().Unix())
	n.atime = now
	n.mtime = now
}

// Root returns the tree root.
func (fs *FS) Root() (server.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.root, nil
}

// Walk resolves one path element. ".." walks to the parent; the root is
// its own parent.
func (fs *FS) Walk(sn server.Node, name string) (server.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := sn.(*node)
	if !n.isDir() {
		return nil, fmt.Errorf("%s: %w", n.name, ErrNotDir)
	}
	if name == ".." {
		if n.parent == nil {
			return n, nil
		}
		return n.parent, nil
	}
	child, ok := n.children[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return child, nil
}

// Open gates the requested mode and applies truncation.
func (fs *FS) Open(sn server.Node, mode uint8) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := sn.(*node)
	access := mode & 0x03
	if n.isDir() && access != proto.OREAD {
		return ErrIsDir
	}
	if mode&proto.OTRUNC != 0 && !n.isDir() {
		n.content = nil
		n.qid.Version++
		fs.touch(n)
	}
	return nil
}

// Read serves file bytes, or packed stat records for a directory.
func (fs *FS) Read(sn server.Node, offset uint64, max uint32) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := sn.(*node)
	src := n.content
	if n.isDir() {
		src = fs.packDir(n)
	}
	if offset >= uint64(len(src)) {
		return nil, nil
	}
	data := src[offset:]
	if uint32(len(data)) > max {
		data = data[:max]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// packDir emits the children's stat records back to back, the 9P
// directory-read format. Children are packed in name order so that the
// byte stream is identical across calls; clients page through large
// directories with offsets taken from earlier reads.
func (fs *FS) packDir(dir *node) []byte {
	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	sort.Strings(names)
	var out []byte
	for _, name := range names {
		out = append(out, fs.statRecord(dir.children[name])...)
	}
	return out
}

// Write stores file bytes, growing as needed, and bumps the qid version.
func (fs *FS) Write(sn server.Node, offset uint64, data []byte, uname string) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := sn.(*node)
	if n.isDir() {
		return 0, ErrIsDir
	}
	need := int(offset) + len(data)
	if need > len(n.content) {
		grown := make([]byte, need)
		copy(grown, n.content)
		n.content = grown
	}
	copy(n.content[offset:], data)
	n.qid.Version++
	n.mtime = uint32(fs.now().Unix())
	return uint32(len(data)), nil
}

// Stat returns the encoded metadata record for a node.
func (fs *FS) Stat(sn server.Node) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.statRecord(sn.(*node)), nil
}

func (fs *FS) statRecord(n *node) []byte {
	length := uint64(len(n.content))
	if n.isDir() {
		length = 0
	}
	return proto.Stat{
		Qid:    n.qid,
		Mode:   n.mode,
		Atime:  n.atime,
		Mtime:  n.mtime,
		Length: length,
		Name:   n.name,
		UID:    n.uid,
		GID:    n.uid,
		MUID:   n.uid,
	}.Bytes()
}

// Create makes name inside parent. A DMDir bit in perm makes a
// directory.
func (fs *FS) Create(sp server.Node, name string, perm uint32, mode uint8, uname string) (server.Node, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := sp.(*node)
	if !parent.isDir() {
		return nil, fmt.Errorf("%s: %w", parent.name, ErrNotDir)
	}
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("%q: invalid name", name)
	}
	if _, ok := parent.children[name]; ok {
		return nil, fmt.Errorf("%s: %w", name, ErrExists)
	}

	n := &node{
		qid:    proto.Qid{Path: fs.allocPath()},
		name:   name,
		mode:   perm,
		uid:    uname,
		parent: parent,
	}
	if perm&proto.DMDir != 0 {
		n.qid.Type = proto.QTDir
		n.children = map[string]*node{}
	}
	fs.touch(n)
	parent.children[name] = n
	parent.qid.Version++
	parent.mtime = n.mtime
	return n, nil
}

// Remove unlinks a node. Directories must be empty; the root is
// permanent.
func (fs *FS) Remove(sn server.Node) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := sn.(*node)
	if n.parent == nil {
		return ErrRootRemove
	}
	if n.isDir() && len(n.children) > 0 {
		return ErrNotEmpty
	}
	delete(n.parent.children, n.name)
	n.parent.qid.Version++
	n.parent.mtime = uint32(fs.now().Unix())
	n.parent = nil
	return nil
}
