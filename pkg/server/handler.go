// Package server implements the 9P2000 dispatch engine: one Session per
// carrier connection, consuming framed messages and driving a FileSystem
// backend. Dispatch is synchronous per session; each message is fully
// processed, backend call included, before the next is read.
package server

import (
	"errors"

	"github.com/jrsharp/9p4z-sub000/pkg/proto"
)

// ErrNotSupported is returned by backends for operations they do not
// implement. The engine maps it to an Rerror.
var ErrNotSupported = errors.New("server: operation not supported")

// Node is one resource exposed by a backend. The qid is its stable
// identity; the engine never looks inside a node beyond it.
type Node interface {
	Qid() proto.Qid
}

// FileSystem is the minimal backend contract: resolve the tree root and
// walk one path element at a time. Everything else is an optional
// capability discovered by interface assertion; a backend that does not
// implement a capability earns the peer an error response for that
// operation.
type FileSystem interface {
	// Root returns the root node of the exported tree.
	Root() (Node, error)

	// Walk resolves a single path element relative to n. It returns an
	// error if the element does not exist or n is not walkable.
	Walk(n Node, name string) (Node, error)
}

// Opener lets a backend gate and prepare a node for I/O.
type Opener interface {
	Open(n Node, mode uint8) error
}

// Reader serves byte-range reads. Directories return packed stat records.
type Reader interface {
	Read(n Node, offset uint64, max uint32) ([]byte, error)
}

// Writer accepts byte-range writes on behalf of uname.
type Writer interface {
	Write(n Node, offset uint64, data []byte, uname string) (uint32, error)
}

// Stater produces the encoded stat record for a node.
type Stater interface {
	Stat(n Node) ([]byte, error)
}

// Creator creates and opens name inside the directory parent.
type Creator interface {
	Create(parent Node, name string, perm uint32, mode uint8, uname string) (Node, error)
}

// Remover deletes a node. On failure the node stays valid.
type Remover interface {
	Remove(n Node) error
}

// Clunker is notified when a fid releases its node. The node may be
// invalidated by the call; the engine never touches it afterward.
type Clunker interface {
	Clunk(n Node) error
}
