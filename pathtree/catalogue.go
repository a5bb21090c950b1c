package pathtree

import (
	"bufio"
	_ "embed"
	"io"
	"os"
	"strings"
)

// defaultCatalogue is the list of API resource paths shipped with the shell.
//
//go:embed catalogue.txt
var defaultCatalogue string

// Build returns a new tree containing every path in paths. Duplicate paths
// are merged; empty entries are skipped.
func Build(paths []string) *Node {
	root := NewRoot()
	for _, p := range paths {
		root.insert(p)
	}
	return root
}

// Load builds a tree from a newline-delimited catalogue.
func Load(r io.Reader) (*Node, error) {
	root, err := scan(r)
	if err != nil {
		return nil, &CatalogueLoadError{Source: "reader", Err: err}
	}
	return root, nil
}

// LoadFile builds a tree from the catalogue file at path.
func LoadFile(path string) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CatalogueLoadError{Source: path, Err: err}
	}
	defer f.Close()

	root, err := scan(f)
	if err != nil {
		return nil, &CatalogueLoadError{Source: path, Err: err}
	}
	return root, nil
}

func scan(r io.Reader) (*Node, error) {
	root := NewRoot()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		root.insert(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return root, nil
}

// Default builds the tree from the embedded catalogue.
func Default() *Node {
	root, err := Load(strings.NewReader(defaultCatalogue))
	if err != nil {
		// The embedded catalogue is a compile-time constant.
		panic(err)
	}
	return root
}
