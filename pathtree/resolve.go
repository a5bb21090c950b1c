package pathtree

import (
	"fmt"
	"strings"
)

// Split breaks p into its segments. It reports whether p was absolute.
// A single trailing slash is tolerated; any other empty segment makes the
// path malformed. "" and "/" both yield zero segments.
func Split(p string) (segments []string, absolute bool, err error) {
	absolute = strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if strings.HasPrefix(p, "/") {
		return nil, absolute, fmt.Errorf("%w: %q", ErrMalformedPath, p)
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil, absolute, nil
	}
	segments = strings.Split(p, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, absolute, fmt.Errorf("%w: %q", ErrMalformedPath, p)
		}
	}
	return segments, absolute, nil
}

// Resolve returns the node named by p. An absolute p is resolved from the
// root of cwd's tree, a relative one from cwd itself. Resolution fails with
// ErrPathNotFound as soon as a segment has no matching child.
func Resolve(cwd *Node, p string) (*Node, error) {
	segments, absolute, err := Split(p)
	if err != nil {
		return nil, err
	}
	node := cwd
	if absolute {
		node = cwd.Root()
	}
	for _, seg := range segments {
		next := node.Child(seg)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
		}
		node = next
	}
	return node, nil
}

// BestMatch descends along p as far as it can and returns the deepest node
// reached together with the segments that were not consumed. It never
// fails: when nothing matches, the starting node is returned with every
// segment as remainder. An empty inner segment stops the descent and is kept
// at the head of the remainder.
func BestMatch(start *Node, p string) (*Node, []string) {
	node := start
	if strings.HasPrefix(p, "/") {
		node = start.Root()
	}
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return node, nil
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		next := node.Child(seg)
		if next == nil {
			return node, segments[i:]
		}
		node = next
	}
	return node, nil
}

// Navigate is Resolve with "." and ".." understood, for moving the working
// directory. ".." at the root stays at the root.
func Navigate(cwd *Node, p string) (*Node, error) {
	segments, absolute, err := Split(p)
	if err != nil {
		return nil, err
	}
	node := cwd
	if absolute {
		node = cwd.Root()
	}
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if !node.IsRoot() {
				node = node.Parent()
			}
			continue
		}
		next := node.Child(seg)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, p)
		}
		node = next
	}
	return node, nil
}
