// Package fuse mounts the API catalogue as a read-only filesystem.
//
// Every catalogue node is a directory holding its children plus two
// entries backed by the appliance: `.data`, the result of a get on the
// node's full path laid out by jsonfs, and `.json`, the same result as
// indented JSON. Nothing is fetched until one of them is looked up.
package fuse

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"fmgshell/diag"
	"fmgshell/fmg"
	"fmgshell/jsonfs"
	"fmgshell/logging"
	"fmgshell/pathtree"
)

const (
	// cacheTTLStatic is for nodes that never change during a mount: the
	// root, README.md and catalogue directories.
	cacheTTLStatic = 1 * time.Hour

	// cacheTTLData is for fetched results and the jsonfs trees built
	// from them.
	cacheTTLData = 30 * time.Second

	dataName = ".data"
	jsonName = ".json"
)

// keyFields name table rows under `.data`.
var keyFields = []string{"name", "oid"}

// Getter is the part of the API client the filesystem needs.
type Getter interface {
	Get(ctx context.Context, url string, attrs fmg.Attributes) (json.RawMessage, error)
}

// FS is the filesystem root.
type FS struct {
	fs.Inode
	tree      *pathtree.Node
	results   *resultCache
	tracker   *diag.Tracker
	logger    *zap.Logger
	startTime time.Time
	jsonCfg   *jsonfs.Config
}

// Option configures an FS.
type Option func(*FS)

// WithTracker records filesystem operations in t.
func WithTracker(t *diag.Tracker) Option {
	return func(f *FS) { f.tracker = t }
}

// WithLogger sets the logger used for fetch failures.
func WithLogger(l *zap.Logger) Option {
	return func(f *FS) { f.logger = logging.Or(l) }
}

// WithResultTTL sets how long fetched results are reused.
func WithResultTTL(ttl time.Duration) Option {
	return func(f *FS) { f.results.ttl = ttl }
}

var _ = (fs.NodeLookuper)((*FS)(nil))
var _ = (fs.NodeReaddirer)((*FS)(nil))
var _ = (fs.NodeGetattrer)((*FS)(nil))

// NewFS creates a filesystem over tree whose data comes from api.
func NewFS(api Getter, tree *pathtree.Node, opts ...Option) *FS {
	f := &FS{
		tree:      tree,
		results:   newResultCache(api, cacheTTLData),
		logger:    zap.NewNop(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.jsonCfg = &jsonfs.Config{
		KeyFields:    keyFields,
		StartTime:    f.startTime,
		CacheTimeout: cacheTTLData,
	}
	return f
}

// Invalidate drops fetched results so the next lookup refetches them.
func (f *FS) Invalidate() {
	f.results.invalidate()
}

func (f *FS) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	defer diag.Track(f.tracker, "fs", "Lookup", "/"+name).Done()
	if name == "README.md" {
		out.SetEntryTimeout(cacheTTLStatic)
		return f.NewInode(ctx, &ReadmeNode{startTime: f.startTime}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	child := f.tree.Child(name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	out.SetEntryTimeout(cacheTTLStatic)
	return f.NewInode(ctx, &CatalogueNode{fsys: f, node: child}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (f *FS) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{{Name: "README.md", Mode: fuse.S_IFREG}}
	for _, name := range f.tree.ChildNames() {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(entries), 0
}

func (f *FS) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	jsonfs.SetTimestamps(&out.Attr, f.startTime)
	out.SetTimeout(cacheTTLStatic)
	return 0
}

// fetch returns the result for a catalogue path, mapping failures to EIO.
func (f *FS) fetch(ctx context.Context, path string) (json.RawMessage, syscall.Errno) {
	op := diag.Track(f.tracker, "fs", "fetch", path)
	data, err := f.results.get(ctx, path)
	op.End(err)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			f.logger.Warn("fetch failed", zap.String("path", path), zap.Error(err))
		}
		return nil, syscall.EIO
	}
	return data, 0
}

// --- CatalogueNode: one catalogue path ---

type CatalogueNode struct {
	fs.Inode
	fsys *FS
	node *pathtree.Node
}

var _ = (fs.NodeLookuper)((*CatalogueNode)(nil))
var _ = (fs.NodeReaddirer)((*CatalogueNode)(nil))
var _ = (fs.NodeGetattrer)((*CatalogueNode)(nil))

func (c *CatalogueNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	full := c.node.FullPath()
	defer diag.Track(c.fsys.tracker, "fs", "Lookup", full+"/"+name).Done()

	switch name {
	case dataName:
		data, errno := c.fsys.fetch(ctx, full)
		if errno != 0 {
			return nil, errno
		}
		node, err := jsonfs.NewNodeFromJSON(data, c.fsys.jsonCfg)
		if err != nil {
			c.fsys.logger.Warn("undecodable result", zap.String("path", full), zap.Error(err))
			return nil, syscall.EIO
		}
		out.SetEntryTimeout(cacheTTLData)
		return c.NewInode(ctx, node, fs.StableAttr{Mode: jsonfs.Mode(node)}), 0

	case jsonName:
		data, errno := c.fsys.fetch(ctx, full)
		if errno != 0 {
			return nil, errno
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "    "); err != nil {
			c.fsys.logger.Warn("undecodable result", zap.String("path", full), zap.Error(err))
			return nil, syscall.EIO
		}
		buf.WriteByte('\n')
		out.SetEntryTimeout(cacheTTLData)
		return c.NewInode(ctx, &RawNode{content: buf.Bytes(), startTime: c.fsys.startTime}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}

	child := c.node.Child(name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	out.SetEntryTimeout(cacheTTLStatic)
	return c.NewInode(ctx, &CatalogueNode{fsys: c.fsys, node: child}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Readdir lists `.data` as a directory without fetching; a scalar result
// turns out to be a file on lookup.
func (c *CatalogueNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries := []fuse.DirEntry{
		{Name: dataName, Mode: fuse.S_IFDIR},
		{Name: jsonName, Mode: fuse.S_IFREG},
	}
	for _, name := range c.node.ChildNames() {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(entries), 0
}

func (c *CatalogueNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	jsonfs.SetTimestamps(&out.Attr, c.fsys.startTime)
	out.SetTimeout(cacheTTLStatic)
	return 0
}

// --- RawNode: `.json` file ---

type RawNode struct {
	fs.Inode
	content   []byte
	startTime time.Time
}

var _ = (fs.NodeOpener)((*RawNode)(nil))
var _ = (fs.NodeReader)((*RawNode)(nil))
var _ = (fs.NodeGetattrer)((*RawNode)(nil))

func (r *RawNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (r *RawNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(jsonfs.ReadAt(r.content, dest, off)), 0
}

func (r *RawNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(r.content))
	jsonfs.SetTimestamps(&out.Attr, r.startTime)
	out.SetTimeout(cacheTTLData)
	return 0
}

// --- ReadmeNode: /README.md ---

//go:embed README.md
var readmeContent string

type ReadmeNode struct {
	fs.Inode
	startTime time.Time
}

var _ = (fs.NodeOpener)((*ReadmeNode)(nil))
var _ = (fs.NodeReader)((*ReadmeNode)(nil))
var _ = (fs.NodeGetattrer)((*ReadmeNode)(nil))

func (r *ReadmeNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (r *ReadmeNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(jsonfs.ReadAt([]byte(readmeContent), dest, off)), 0
}

func (r *ReadmeNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(len(readmeContent))
	jsonfs.SetTimestamps(&out.Attr, r.startTime)
	out.SetTimeout(cacheTTLStatic)
	return 0
}
