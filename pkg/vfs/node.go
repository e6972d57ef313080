package vfs

import (
	"strings"
	"sync"

	"github.com/mizu-os/mizu/pkg/errno"
)

// Kind distinguishes a Node's role in path resolution.
type Kind int

const (
	KindDir Kind = iota
	KindFile
	KindDevice
)

// Node is one entry in the in-memory tree: a directory holding named
// children, or a leaf (regular file / device) backed by an Io.
type Node struct {
	mu sync.RWMutex

	kind     Kind
	children map[string]*Node // KindDir only
	backend  Io               // KindFile/KindDevice only
	size     int64
}

// NewDir creates an empty directory node.
func NewDir() *Node {
	return &Node{kind: KindDir, children: make(map[string]*Node)}
}

// NewFile wraps backend as a regular file node of the given logical size.
func NewFile(backend Io, size int64) *Node {
	return &Node{kind: KindFile, backend: backend, size: size}
}

// NewDevice wraps backend as a character-device-style node: size is
// always reported as zero, matching Linux device nodes.
func NewDevice(backend Io) *Node {
	return &Node{kind: KindDevice, backend: backend}
}

// Kind reports this node's kind.
func (n *Node) Kind() Kind { return n.kind }

// link attaches child under name, failing if name is already taken or n
// isn't a directory.
func (n *Node) link(name string, child *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.kind != KindDir {
		return errno.ENOTDIR
	}
	if _, exists := n.children[name]; exists {
		return errno.EINVAL
	}
	n.children[name] = child
	return nil
}

func (n *Node) lookup(name string) (*Node, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.kind != KindDir {
		return nil, false
	}
	c, ok := n.children[name]
	return c, ok
}

// FS is a mounted file system root: the in-memory directory tree plus a
// conventional /dev subtree device drivers register into at boot,
// exactly §6's "minimal in-memory root + /dev mount table".
//
// Grounded on gvisor's vfs.MountNamespace root resolution
// (_examples/google-gvisor read for idiom, not copied — the real
// package pulls in mount propagation, overlayfs, and bind-mount
// semantics this kernel has no use for).
type FS struct {
	root *Node
	dev  *Node
}

// NewFS creates a root with an empty /dev directory already mounted.
func NewFS() *FS {
	root := NewDir()
	dev := NewDir()
	_ = root.link("dev", dev)
	return &FS{root: root, dev: dev}
}

// Root returns the file system's root directory node.
func (fs *FS) Root() *Node { return fs.root }

// MountDevice registers backend under /dev/name.
func (fs *FS) MountDevice(name string, backend Io) error {
	return fs.dev.link(name, NewDevice(backend))
}

// Mkdir creates an empty directory at path, which must not already exist.
func (fs *FS) Mkdir(path string) error {
	dir, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	return dir.link(name, NewDir())
}

// Create installs a regular file at path backed by backend.
func (fs *FS) Create(path string, backend Io, size int64) error {
	dir, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	return dir.link(name, NewFile(backend, size))
}

// resolveParent walks every path component but the last, returning the
// parent directory node and the final component's name.
func (fs *FS) resolveParent(path string) (*Node, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", errno.EINVAL
	}
	dir, err := fs.resolveDir(parts[:len(parts)-1])
	if err != nil {
		return nil, "", err
	}
	return dir, parts[len(parts)-1], nil
}

func (fs *FS) resolveDir(parts []string) (*Node, error) {
	cur := fs.root
	for _, p := range parts {
		next, ok := cur.lookup(p)
		if !ok {
			return nil, errno.ENOENT
		}
		if next.kind != KindDir {
			return nil, errno.ENOTDIR
		}
		cur = next
	}
	return cur, nil
}

// Resolve walks path from the root and returns its node.
func (fs *FS) Resolve(path string) (*Node, error) {
	parts := splitPath(path)
	cur := fs.root
	for i, p := range parts {
		next, ok := cur.lookup(p)
		if !ok {
			return nil, errno.ENOENT
		}
		if i != len(parts)-1 && next.kind != KindDir {
			return nil, errno.ENOTDIR
		}
		cur = next
	}
	return cur, nil
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
