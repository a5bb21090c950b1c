// Package jsonfs exposes a JSON-RPC result as a read-only FUSE tree.
//
// Objects become directories keyed by member name. Tables (arrays) become
// directories too: when every element is an object carrying a distinct
// string in one of the configured key fields, entries are named after that
// value, otherwise after the element index. Scalars become files holding
// the value and a trailing newline.
package jsonfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Config controls how values are laid out.
type Config struct {
	// KeyFields are tried in order to name table entries, e.g. "name" for
	// most FortiManager tables and "oid" as a fallback.
	KeyFields []string

	// StartTime is used for all timestamps. Zero means time.Now().
	StartTime time.Time

	// CacheTimeout is the kernel entry/attr timeout. Results are snapshots,
	// so a long timeout is safe.
	CacheTimeout time.Duration
}

func (c *Config) startTime() time.Time {
	if c == nil || c.StartTime.IsZero() {
		return time.Now()
	}
	return c.StartTime
}

func (c *Config) cacheTimeout() time.Duration {
	if c == nil {
		return 0
	}
	return c.CacheTimeout
}

// Decode parses data keeping numbers exact, so 64-bit ids and checksums
// survive unchanged.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}

// NewNode returns the FUSE node for a decoded value.
func NewNode(value any, config *Config) fs.InodeEmbedder {
	switch v := value.(type) {
	case map[string]any:
		return &dirNode{entries: objectEntries(v), config: config}
	case []any:
		return &dirNode{entries: tableEntries(v, config), config: config}
	default:
		return &fileNode{content: scalar(v), config: config}
	}
}

// NewNodeFromJSON decodes data and returns its node.
func NewNodeFromJSON(data []byte, config *Config) (fs.InodeEmbedder, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return NewNode(v, config), nil
}

type entry struct {
	name  string
	value any
}

func objectEntries(m map[string]any) []entry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]entry, len(keys))
	for i, k := range keys {
		out[i] = entry{name: k, value: m[k]}
	}
	return out
}

// tableEntries names elements by the first key field every element has
// with a distinct, path-safe string value; indices otherwise.
func tableEntries(a []any, config *Config) []entry {
	if config != nil {
		for _, field := range config.KeyFields {
			if names, ok := keyNames(a, field); ok {
				out := make([]entry, len(a))
				for i, v := range a {
					out[i] = entry{name: names[i], value: v}
				}
				return out
			}
		}
	}
	out := make([]entry, len(a))
	for i, v := range a {
		out[i] = entry{name: strconv.Itoa(i), value: v}
	}
	return out
}

func keyNames(a []any, field string) ([]string, bool) {
	if len(a) == 0 {
		return nil, false
	}
	names := make([]string, len(a))
	seen := make(map[string]bool, len(a))
	for i, v := range a {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		var name string
		switch k := obj[field].(type) {
		case string:
			name = k
		case json.Number:
			name = k.String()
		default:
			return nil, false
		}
		if name == "" || name == "." || name == ".." || seen[name] || strings.ContainsAny(name, "/\x00") {
			return nil, false
		}
		seen[name] = true
		names[i] = name
	}
	return names, true
}

func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// --- dirNode: object or table ---

type dirNode struct {
	fs.Inode
	entries []entry
	config  *Config
}

var _ = (fs.NodeLookuper)((*dirNode)(nil))
var _ = (fs.NodeReaddirer)((*dirNode)(nil))
var _ = (fs.NodeGetattrer)((*dirNode)(nil))
var _ = (fs.NodeOpendirHandler)((*dirNode)(nil))

func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for _, e := range n.entries {
		if e.name != name {
			continue
		}
		child := NewNode(e.value, n.config)
		n.fillEntry(out, child)
		return n.NewInode(ctx, child, fs.StableAttr{Mode: Mode(child)}), 0
	}
	return nil, syscall.ENOENT
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	list := make([]fuse.DirEntry, 0, len(n.entries))
	for _, e := range n.entries {
		list = append(list, fuse.DirEntry{Name: e.name, Mode: Mode(NewNode(e.value, nil))})
	}
	return fs.NewListDirStream(list), 0
}

func (n *dirNode) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.config.cacheTimeout() > 0 {
		return nil, fuse.FOPEN_CACHE_DIR, 0
	}
	return nil, 0, 0
}

func (n *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	SetTimestamps(&out.Attr, n.config.startTime())
	if t := n.config.cacheTimeout(); t > 0 {
		out.SetTimeout(t)
	}
	return 0
}

// fillEntry sets cache timeouts and, with them, valid attributes so the
// kernel does not cache zero values.
func (n *dirNode) fillEntry(out *fuse.EntryOut, child fs.InodeEmbedder) {
	timeout := n.config.cacheTimeout()
	if timeout <= 0 {
		return
	}
	out.SetEntryTimeout(timeout)
	out.SetAttrTimeout(timeout)
	switch c := child.(type) {
	case *dirNode:
		out.Attr.Mode = fuse.S_IFDIR | 0555
	case *fileNode:
		out.Attr.Mode = fuse.S_IFREG | 0444
		out.Attr.Size = uint64(len(c.content) + 1)
	}
	SetTimestamps(&out.Attr, n.config.startTime())
}

// --- fileNode: scalar ---

type fileNode struct {
	fs.Inode
	content string
	config  *Config
}

var _ = (fs.NodeOpener)((*fileNode)(nil))
var _ = (fs.NodeReader)((*fileNode)(nil))
var _ = (fs.NodeGetattrer)((*fileNode)(nil))

func (n *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(ReadAt([]byte(n.content+"\n"), dest, off)), 0
}

func (n *fileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(n.content) + 1)
	SetTimestamps(&out.Attr, n.config.startTime())
	if t := n.config.cacheTimeout(); t > 0 {
		out.SetTimeout(t)
	}
	return 0
}

// --- helpers shared with the catalogue mount ---

// Mode returns S_IFDIR or S_IFREG for a node built by this package.
func Mode(node fs.InodeEmbedder) uint32 {
	if _, ok := node.(*dirNode); ok {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

// SetTimestamps sets atime, mtime and ctime to t.
func SetTimestamps(attr *fuse.Attr, t time.Time) {
	attr.Atime = uint64(t.Unix())
	attr.Atimensec = uint32(t.Nanosecond())
	attr.Mtime = uint64(t.Unix())
	attr.Mtimensec = uint32(t.Nanosecond())
	attr.Ctime = uint64(t.Unix())
	attr.Ctimensec = uint32(t.Nanosecond())
}

// ReadAt returns the part of data that fits in dest starting at off.
func ReadAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return nil
	}
	n := copy(dest, data[off:])
	return dest[:n]
}
