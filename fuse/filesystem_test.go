package fuse

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmgshell/diag"
	"fmgshell/fmg"
	"fmgshell/mockserver"
	"fmgshell/pathtree"
)

var testPaths = []string{
	"/dvmdb/adom",
	"/cli/global/system/status",
	"/cli/global/system/admin/user",
	"/sys/status",
}

type fixture struct {
	server  *mockserver.Server
	tracker *diag.Tracker
	fs      *FS
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	srv := mockserver.New(
		mockserver.WithCredentials("admin", "secret"),
		mockserver.WithADOMs("1", "root", "rootp"),
		mockserver.WithSystemStatus(
			mockserver.KV{Key: "Version", Value: "v7.4.2"},
			mockserver.KV{Key: "Hostname", Value: "fmg-lab"},
		),
	)
	t.Cleanup(srv.Close)

	client := fmg.NewClient(srv.URL)
	require.NoError(t, client.Login(context.Background(), "admin", "secret"))

	tracker := diag.NewTracker()
	opts = append([]Option{WithTracker(tracker)}, opts...)
	f := NewFS(client, pathtree.Build(testPaths), opts...)
	// Attaches the root to a bridge so Lookup can create inodes without
	// a kernel mount.
	fs.NewNodeFS(f, &fs.Options{})
	return &fixture{server: srv, tracker: tracker, fs: f}
}

// walk looks up each name in turn starting at the root.
func (fx *fixture) walk(t *testing.T, names ...string) (fs.InodeEmbedder, syscall.Errno) {
	t.Helper()
	var cur fs.NodeLookuper = fx.fs
	var node fs.InodeEmbedder = fx.fs
	for _, name := range names {
		if cur == nil {
			t.Fatalf("%T is not a directory", node)
		}
		inode, errno := cur.Lookup(context.Background(), name, &fuse.EntryOut{})
		if errno != 0 {
			return nil, errno
		}
		node = inode.Operations()
		cur, _ = node.(fs.NodeLookuper)
	}
	return node, 0
}

func readdir(t *testing.T, n fs.InodeEmbedder) []string {
	t.Helper()
	rd, ok := n.(fs.NodeReaddirer)
	require.True(t, ok, "%T has no Readdir", n)
	stream, errno := rd.Readdir(context.Background())
	require.Zero(t, errno)
	var names []string
	for stream.HasNext() {
		e, errno := stream.Next()
		require.Zero(t, errno)
		names = append(names, e.Name)
	}
	return names
}

func readFile(t *testing.T, n fs.InodeEmbedder) string {
	t.Helper()
	r, ok := n.(fs.NodeReader)
	require.True(t, ok, "%T has no Read", n)
	dest := make([]byte, 4096)
	res, errno := r.Read(context.Background(), nil, dest, 0)
	require.Zero(t, errno)
	data, _ := res.Bytes(dest)
	return string(data)
}

func TestRootReaddir(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, []string{"README.md", "dvmdb", "cli", "sys"}, readdir(t, fx.fs))
}

func TestCatalogueReaddir(t *testing.T) {
	fx := newFixture(t)
	node, errno := fx.walk(t, "cli", "global", "system")
	require.Zero(t, errno)
	assert.Equal(t, []string{".data", ".json", "status", "admin"}, readdir(t, node))
}

func TestLookupUnknown(t *testing.T) {
	fx := newFixture(t)
	_, errno := fx.walk(t, "nope")
	assert.Equal(t, syscall.ENOENT, errno)

	_, errno = fx.walk(t, "dvmdb", "nope")
	assert.Equal(t, syscall.ENOENT, errno)
}

func TestCatalogueDoesNotFetch(t *testing.T) {
	fx := newFixture(t)
	before := fx.server.RequestCount()

	node, errno := fx.walk(t, "cli", "global", "system", "status")
	require.Zero(t, errno)
	readdir(t, node)
	assert.Equal(t, before, fx.server.RequestCount())
}

func TestDataLookup(t *testing.T) {
	fx := newFixture(t)
	before := fx.server.RequestCount()

	node, errno := fx.walk(t, "cli", "global", "system", "status", ".data")
	require.Zero(t, errno)
	assert.Equal(t, []string{"Hostname", "Version"}, readdir(t, node))
	assert.Equal(t, before+1, fx.server.RequestCount())

	version, errno := fx.walk(t, "cli", "global", "system", "status", ".data", "Version")
	require.Zero(t, errno)
	assert.Equal(t, "v7.4.2\n", readFile(t, version))
	assert.Equal(t, before+1, fx.server.RequestCount(), "second lookup within the ttl is served from memory")
}

func TestDataTableNamedByKeyField(t *testing.T) {
	fx := newFixture(t)
	node, errno := fx.walk(t, "dvmdb", "adom", ".data")
	require.Zero(t, errno)
	assert.Equal(t, []string{"root", "rootp"}, readdir(t, node))

	name, errno := fx.walk(t, "dvmdb", "adom", ".data", "rootp", "name")
	require.Zero(t, errno)
	assert.Equal(t, "rootp\n", readFile(t, name))
}

func TestJSONFile(t *testing.T) {
	fx := newFixture(t)
	node, errno := fx.walk(t, "cli", "global", "system", "status", ".json")
	require.Zero(t, errno)

	content := readFile(t, node)
	assert.Equal(t, "{\n    \"Version\": \"v7.4.2\",\n    \"Hostname\": \"fmg-lab\"\n}\n", content)

	var out fuse.AttrOut
	require.Zero(t, node.(fs.NodeGetattrer).Getattr(context.Background(), nil, &out))
	assert.Equal(t, uint64(len(content)), out.Size)
	assert.Equal(t, uint32(fuse.S_IFREG|0444), out.Mode)

	_, _, errno = node.(fs.NodeOpener).Open(context.Background(), uint32(syscall.O_RDWR))
	assert.Equal(t, syscall.EROFS, errno)
}

func TestFetchFailureIsEIO(t *testing.T) {
	fx := newFixture(t)
	_, errno := fx.walk(t, "sys", "status", ".data")
	assert.Equal(t, syscall.EIO, errno)

	_, errno = fx.walk(t, "sys", "status", ".json")
	assert.Equal(t, syscall.EIO, errno)

	c := fx.tracker.Completed()[diag.Key{Kind: "fs", Method: "fetch"}]
	assert.EqualValues(t, 2, c.Total)
	assert.EqualValues(t, 2, c.Failed)
	assert.Empty(t, fx.tracker.InFlight())
}

func TestFetchWithoutSessionIsEIO(t *testing.T) {
	srv := mockserver.New(mockserver.WithCredentials("admin", "secret"))
	defer srv.Close()
	client := fmg.NewClient(srv.URL)

	f := NewFS(client, pathtree.Build(testPaths))
	fs.NewNodeFS(f, &fs.Options{})
	inode, errno := f.Lookup(context.Background(), "sys", &fuse.EntryOut{})
	require.Zero(t, errno)
	status, errno := inode.Operations().(fs.NodeLookuper).Lookup(context.Background(), "status", &fuse.EntryOut{})
	require.Zero(t, errno)
	_, errno = status.Operations().(fs.NodeLookuper).Lookup(context.Background(), ".data", &fuse.EntryOut{})
	assert.Equal(t, syscall.EIO, errno)
}

func TestResultTTL(t *testing.T) {
	fx := newFixture(t, WithResultTTL(0))
	before := fx.server.RequestCount()
	for i := 0; i < 3; i++ {
		_, errno := fx.walk(t, "dvmdb", "adom", ".data")
		require.Zero(t, errno)
	}
	assert.Equal(t, before+3, fx.server.RequestCount())
}

func TestInvalidate(t *testing.T) {
	fx := newFixture(t)
	_, errno := fx.walk(t, "dvmdb", "adom", ".data")
	require.Zero(t, errno)

	fx.server.SetADOMs("2", "root", "branch")
	_, errno = fx.walk(t, "dvmdb", "adom", ".data")
	require.Zero(t, errno)
	node, _ := fx.walk(t, "dvmdb", "adom", ".data")
	assert.Equal(t, []string{"root", "rootp"}, readdir(t, node))

	fx.fs.Invalidate()
	node, errno = fx.walk(t, "dvmdb", "adom", ".data")
	require.Zero(t, errno)
	assert.Equal(t, []string{"branch", "root"}, sorted(readdir(t, node)))
}

func TestReadme(t *testing.T) {
	fx := newFixture(t)
	node, errno := fx.walk(t, "README.md")
	require.Zero(t, errno)
	assert.Contains(t, readFile(t, node), ".data/")
}

func TestResultCacheCollapsesConcurrentMisses(t *testing.T) {
	g := &slowGetter{release: make(chan struct{})}
	c := newResultCache(g, time.Minute)

	done := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := c.get(context.Background(), "/dvmdb/adom")
			done <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(g.release)
	for i := 0; i < 5; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 1, g.calls())
}

func TestResultCacheExpires(t *testing.T) {
	g := &slowGetter{release: make(chan struct{})}
	close(g.release)
	c := newResultCache(g, time.Minute)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.get(context.Background(), "/a")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = c.get(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, 1, g.calls())

	now = now.Add(time.Minute)
	_, err = c.get(context.Background(), "/a")
	require.NoError(t, err)
	assert.Equal(t, 2, g.calls())
}

// TestMount exercises the filesystem through the kernel.
func TestMount(t *testing.T) {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("FUSE not available")
	}
	fx := newFixture(t)

	tmpDir, err := ioutil.TempDir("", "fmgshell-fuse-test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	srv, err := Mount(tmpDir, NewFS(fx.fs.results.api, pathtree.Build(testPaths)), false)
	if err != nil {
		t.Skipf("Mount failed: %v", err)
	}
	defer srv.Unmount()

	entries, err := os.ReadDir(filepath.Join(tmpDir, "cli", "global", "system"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{".data", ".json", "status", "admin"}, names)

	data, err := os.ReadFile(filepath.Join(tmpDir, "cli", "global", "system", "status", ".data", "Version"))
	require.NoError(t, err)
	assert.Equal(t, "v7.4.2\n", string(data))

	raw, err := os.ReadFile(filepath.Join(tmpDir, "dvmdb", "adom", ".json"))
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	assert.Len(t, rows, 2)

	_, err = os.ReadFile(filepath.Join(tmpDir, "sys", "status", ".data", "x"))
	assert.ErrorIs(t, err, syscall.EIO)

	err = os.WriteFile(filepath.Join(tmpDir, "dvmdb", "adom", ".json"), []byte("{}"), 0644)
	assert.Error(t, err)
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

type slowGetter struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (g *slowGetter) Get(ctx context.Context, url string, attrs fmg.Attributes) (json.RawMessage, error) {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	<-g.release
	return json.RawMessage(`{"url":"` + url + `"}`), nil
}

func (g *slowGetter) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
