// Package completion turns a working directory and partially typed text
// into candidate paths for tab completion.
//
// Matching always happens on absolute paths, while the labels offered to
// the user are just the child names. The two lists are index-aligned.
package completion

import (
	"fmt"
	"io"
	"strings"

	"fmgshell/pathtree"
)

// Result holds the candidates for one completion request.
type Result struct {
	// Paths are absolute candidate paths, each ending with "/".
	Paths []string
	// Labels are the bare child names shown to the user.
	Labels []string
}

// Len returns the number of candidates.
func (r Result) Len() int {
	return len(r.Paths)
}

// Absolute turns typed text into an absolute path relative to cwd.
// Text that already starts with "/" is returned as is.
func Absolute(cwd *pathtree.Node, text string) string {
	if strings.HasPrefix(text, "/") {
		return text
	}
	if cwd.IsRoot() {
		return "/" + text
	}
	return cwd.FullPath() + "/" + text
}

// Complete computes the candidates for text typed while cwd is the working
// directory. It is pure: the tree is only read.
func Complete(cwd *pathtree.Node, text string) Result {
	abs := Absolute(cwd, text)
	node, remainder := pathtree.BestMatch(cwd.Root(), abs)

	prefix := ""
	if len(remainder) > 0 {
		prefix = remainder[0]
	}

	var r Result
	for _, name := range node.ChildNames() {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		r.Paths = append(r.Paths, childPath(node, name)+"/")
		r.Labels = append(r.Labels, name)
	}
	return r
}

// childPath renders the absolute path of the named child of n without
// doubling the root's slash.
func childPath(n *pathtree.Node, name string) string {
	if n.IsRoot() {
		return "/" + name
	}
	return n.FullPath() + "/" + name
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// WriteLabels prints one label per line under a "Possible completions:"
// header. The output is written in one call so readline redraws once.
func WriteLabels(w io.Writer, labels []string) {
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, l := range labels {
		fmt.Fprintf(&sb, "  %s\n", l)
	}
	io.WriteString(w, sb.String())
}
