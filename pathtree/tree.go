// Package pathtree models the remote management API namespace as an
// in-memory tree of path segments.
//
// The tree is built once from a catalogue of slash-separated resource paths
// (for example /dvmdb/adom or /cli/global/system/status) and is read-only
// afterwards, so a single *Node can be shared by any number of callers
// without locking.
package pathtree

import (
	"fmt"
	"io"
	"strings"
)

// Node is one path segment. A node owns its children; the parent pointer is
// only used to rebuild the absolute path.
type Node struct {
	name     string
	parent   *Node
	children []*Node
	index    map[string]*Node
}

// NewRoot returns an empty, unnamed root node.
func NewRoot() *Node {
	return &Node{}
}

// Name returns the segment name. The root's name is empty.
func (n *Node) Name() string {
	return n.name
}

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Root walks up to the root of the tree n belongs to.
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Children returns the children in catalogue load order.
// The returned slice is a copy.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// ChildNames returns the children's names in catalogue load order.
func (n *Node) ChildNames() []string {
	names := make([]string, 0, len(n.children))
	for _, c := range n.children {
		names = append(names, c.name)
	}
	return names
}

// Child returns the child with exactly the given name, or nil.
func (n *Node) Child(name string) *Node {
	return n.index[name]
}

// HasChildren reports whether n has at least one child.
func (n *Node) HasChildren() bool {
	return len(n.children) > 0
}

// Depth returns the number of segments between the root and n.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// FullPath renders the absolute path of n: "/" for the root, "/a/b" otherwise.
// There is never a trailing slash except for the root itself.
func (n *Node) FullPath() string {
	if n.parent == nil {
		return "/"
	}
	segs := make([]string, n.Depth())
	i := len(segs) - 1
	for p := n; p.parent != nil; p = p.parent {
		segs[i] = p.name
		i--
	}
	return "/" + strings.Join(segs, "/")
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return n.FullPath()
}

// child returns the child named name, attaching a new one if absent.
func (n *Node) child(name string) *Node {
	if c, ok := n.index[name]; ok {
		return c
	}
	c := &Node{name: name, parent: n}
	if n.index == nil {
		n.index = make(map[string]*Node)
	}
	n.index[name] = c
	n.children = append(n.children, c)
	return c
}

// insert adds every segment of p below n. Empty segments (leading, trailing
// or doubled slashes) never become nodes.
func (n *Node) insert(p string) {
	p = strings.TrimSpace(p)
	if p == "" {
		return
	}
	cur := n
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if seg == "" {
			continue
		}
		cur = cur.child(seg)
	}
}

// Walk calls fn for n and every descendant in depth-first, load order.
// Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the subtree rooted at n, n included.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Dump writes n and its descendants, one per line, indenting two spaces per
// level. The root is printed as "/".
func Dump(w io.Writer, n *Node) error {
	return dump(w, n, 0)
}

func dump(w io.Writer, n *Node, indent int) error {
	name := n.name
	if n.parent == nil {
		name = "/"
	}
	if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", indent), name); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := dump(w, c, indent+2); err != nil {
			return err
		}
	}
	return nil
}
