package fmg

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmgshell/checksum"
	"fmgshell/mockserver"
)

func newCaching(t *testing.T, s *mockserver.Server) *CachingClient {
	t.Helper()
	c := NewCachingClient(NewClient(s.JSONRPCURL()), nil)
	require.NoError(t, c.Login(context.Background(), "admin", "secret"))
	return c
}

func TestADOMsRenamesGlobal(t *testing.T) {
	s := mockserver.New(mockserver.WithADOMs("v1", "rootp", "branch1"))
	defer s.Close()

	names, err := newCaching(t, s).ADOMs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"global", "branch1"}, names)
}

func TestADOMsChecksumGated(t *testing.T) {
	ctx := context.Background()
	s := mockserver.New(mockserver.WithADOMs("v1", "rootp", "branch1"))
	defer s.Close()
	c := newCaching(t, s)

	first, err := c.ADOMs(ctx)
	require.NoError(t, err)
	second, err := c.ADOMs(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, s.ChecksumCount())
	assert.EqualValues(t, 1, s.RecordsFetchCount())

	s.SetADOMs("v2", "rootp", "branch1", "branch2")
	third, err := c.ADOMs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"global", "branch1", "branch2"}, third)
	assert.EqualValues(t, 3, s.ChecksumCount())
	assert.EqualValues(t, 2, s.RecordsFetchCount())

	assert.Equal(t, checksum.Stats{Hits: 1, Misses: 2}, c.CacheStats())
}

func TestADOMsSendsFilter(t *testing.T) {
	s := mockserver.New(mockserver.WithADOMs("v1", "root"))
	defer s.Close()

	_, err := newCaching(t, s).ADOMs(context.Background())
	require.NoError(t, err)

	p := s.LastParams()
	assert.Equal(t, "/dvmdb/adom", p["url"])
	assert.Equal(t, []any{"restricted_prds", "==", "fmg"}, p["filter"])
	assert.Equal(t, []any{"name"}, p["fields"])
	assert.EqualValues(t, 0, p["loadsub"])
}

func TestADOMsErrorKeepsCache(t *testing.T) {
	ctx := context.Background()
	s := mockserver.New(mockserver.WithADOMs("v1", "root"))
	defer s.Close()
	c := newCaching(t, s)

	_, err := c.ADOMs(ctx)
	require.NoError(t, err)

	s.SetErrorMode(http.StatusInternalServerError)
	_, err = c.ADOMs(ctx)
	require.Error(t, err)

	s.SetErrorMode(0)
	names, err := c.ADOMs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, names)
	assert.EqualValues(t, 1, s.RecordsFetchCount())
}

func TestSystemStatusMemoized(t *testing.T) {
	ctx := context.Background()
	s := mockserver.New(mockserver.WithSystemStatus(
		mockserver.KV{Key: "Version", Value: "v7.4.2"},
		mockserver.KV{Key: "Hostname", Value: "fmg-lab"},
		mockserver.KV{Key: "Max Number of Admin Domains", Value: 10000},
	))
	defer s.Close()
	c := newCaching(t, s)

	want := []Field{
		{Key: "Version", Value: "v7.4.2"},
		{Key: "Hostname", Value: "fmg-lab"},
		{Key: "Max Number of Admin Domains", Value: "10000"},
	}

	got, err := c.SystemStatus(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	before := s.RequestCount()
	_, err = c.SystemStatus(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, before, s.RequestCount())

	_, err = c.SystemStatus(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, before+1, s.RequestCount())
}

func TestLogoutInvalidates(t *testing.T) {
	ctx := context.Background()
	s := mockserver.New(mockserver.WithADOMs("v1", "root"))
	defer s.Close()
	c := newCaching(t, s)

	_, err := c.ADOMs(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Logout(ctx))

	require.NoError(t, c.Login(ctx, "admin", "secret"))
	_, err = c.ADOMs(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, s.RecordsFetchCount())
}

func TestADOMsConcurrent(t *testing.T) {
	ctx := context.Background()
	s := mockserver.New(mockserver.WithADOMs("v1", "rootp"))
	defer s.Close()
	c := newCaching(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names, err := c.ADOMs(ctx)
			assert.NoError(t, err)
			assert.Equal(t, []string{"global"}, names)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, s.RecordsFetchCount(), int32(20))
	assert.GreaterOrEqual(t, s.RecordsFetchCount(), int32(1))
}

func TestCachingClientForwardsDebug(t *testing.T) {
	c := NewCachingClient(NewClient("http://unused/jsonrpc"), nil)
	require.NoError(t, c.SetDebug("on"))
	assert.Equal(t, "on", c.Debug())
	assert.ErrorIs(t, c.SetDebug("loud"), ErrInvalidDebugFlag)
}
