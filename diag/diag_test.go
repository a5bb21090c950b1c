package diag

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmgshell/checksum"
)

func TestTrackAndDone(t *testing.T) {
	tr := NewTracker()

	h := tr.Track("rpc", "get", "/dvmdb/adom")
	ops := tr.InFlight()
	if len(ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(ops))
	}
	if ops[0].Kind != "rpc" {
		t.Errorf("kind = %q, want rpc", ops[0].Kind)
	}
	if ops[0].Method != "get" {
		t.Errorf("method = %q, want get", ops[0].Method)
	}
	if ops[0].Detail != "/dvmdb/adom" {
		t.Errorf("detail = %q, want /dvmdb/adom", ops[0].Detail)
	}
	if ops[0].ID == 0 {
		t.Error("expected non-zero ID")
	}
	if ops[0].Started.IsZero() {
		t.Error("expected non-zero Started")
	}

	h.Done()
	if n := len(tr.InFlight()); n != 0 {
		t.Fatalf("expected 0 ops after done, got %d", n)
	}
}

func TestDoneIdempotent(t *testing.T) {
	tr := NewTracker()
	h := tr.Track("rpc", "exec", "")
	h.Done()
	h.End(errors.New("late"))

	got := tr.Completed()[Key{Kind: "rpc", Method: "exec"}]
	assert.Equal(t, Counts{Total: 1}, got)
}

func TestEndCountsFailures(t *testing.T) {
	tr := NewTracker()
	tr.Track("rpc", "get", "/a").Done()
	tr.Track("rpc", "get", "/b").End(errors.New("boom"))
	tr.Track("fs", "Read", "/c").Done()

	c := tr.Completed()
	assert.Equal(t, Counts{Total: 2, Failed: 1}, c[Key{"rpc", "get"}])
	assert.Equal(t, Counts{Total: 1}, c[Key{"fs", "Read"}])
}

func TestSetPhase(t *testing.T) {
	tr := NewTracker()
	h := tr.Track("rpc", "get", "/sys/status")
	h.SetPhase("decode")
	defer h.Done()

	ops := tr.InFlight()
	require.Len(t, ops, 1)
	assert.Equal(t, "decode", ops[0].Phase)
	assert.Contains(t, tr.Dump(), "[decode]")
}

func TestInFlightSortedByStartTime(t *testing.T) {
	tr := NewTracker()

	now := time.Now()
	tr.mu.Lock()
	tr.ops[3] = Op{ID: 3, Kind: "C", Method: "M", Started: now.Add(2 * time.Second)}
	tr.ops[1] = Op{ID: 1, Kind: "A", Method: "M", Started: now}
	tr.ops[2] = Op{ID: 2, Kind: "B", Method: "M", Started: now.Add(1 * time.Second)}
	tr.mu.Unlock()

	ops := tr.InFlight()
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].Kind != "A" || ops[1].Kind != "B" || ops[2].Kind != "C" {
		t.Errorf("wrong order: %v, %v, %v", ops[0].Kind, ops[1].Kind, ops[2].Kind)
	}
}

func TestInFlightSameTimeSortsByID(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.mu.Lock()
	tr.ops[5] = Op{ID: 5, Kind: "B", Method: "M", Started: now}
	tr.ops[2] = Op{ID: 2, Kind: "A", Method: "M", Started: now}
	tr.mu.Unlock()

	ops := tr.InFlight()
	if ops[0].ID != 2 || ops[1].ID != 5 {
		t.Errorf("expected ID order 2,5 got %d,%d", ops[0].ID, ops[1].ID)
	}
}

func TestInFlightByKey(t *testing.T) {
	tr := NewTracker()
	a := tr.Track("rpc", "get", "/a")
	b := tr.Track("rpc", "get", "/b")
	c := tr.Track("rpc", "exec", "/sys/login/user")
	defer a.Done()
	defer b.Done()
	defer c.Done()

	m := tr.InFlightByKey()
	assert.Equal(t, 2, m[Key{"rpc", "get"}])
	assert.Equal(t, 1, m[Key{"rpc", "exec"}])
}

func TestDumpEmpty(t *testing.T) {
	tr := NewTracker()
	out := tr.Dump()
	if !strings.Contains(out, "no in-flight") {
		t.Errorf("unexpected dump for empty tracker: %q", out)
	}
}

func TestDumpFormat(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.mu.Lock()
	tr.ops[1] = Op{ID: 1, Kind: "rpc", Method: "get", Detail: "/dvmdb/adom", Started: now}
	tr.ops[2] = Op{ID: 2, Kind: "fs", Method: "Readdir", Started: now}
	tr.mu.Unlock()

	out := tr.Dump()
	assert.Contains(t, out, "2 in-flight operation(s):")
	assert.Contains(t, out, "[1] rpc.get /dvmdb/adom (")
	assert.Contains(t, out, "[2] fs.Readdir (")
	assert.NotContains(t, out, "Readdir  (")
}

func TestPackageLevelTrackNil(t *testing.T) {
	h := Track(nil, "rpc", "get", "detail")
	h.SetPhase("x")
	h.Done()
}

func TestIDsAreUnique(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 100; i++ {
		tr.Track("rpc", "get", "")
	}
	seen := make(map[uint64]bool)
	for _, op := range tr.InFlight() {
		if seen[op.ID] {
			t.Fatalf("duplicate ID: %d", op.ID)
		}
		seen[op.ID] = true
	}
	assert.Len(t, seen, 100)
}

func TestHandlerText(t *testing.T) {
	tr := NewTracker()
	h := tr.Track("rpc", "get", "/dvmdb/adom")
	defer h.Done()

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/diag", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rpc.get /dvmdb/adom")
}

func TestHandlerJSON(t *testing.T) {
	tr := NewTracker()
	h := tr.Track("rpc", "get", "/dvmdb/adom")
	defer h.Done()

	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/diag?json", nil))

	var ops []Op
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "/dvmdb/adom", ops[0].Detail)
}

func TestMuxMetrics(t *testing.T) {
	tr := NewTracker()
	tr.Track("rpc", "get", "/dvmdb/adom").Done()
	tr.Track("rpc", "get", "/dvmdb/adom").End(errors.New("boom"))
	pending := tr.Track("rpc", "exec", "/sys/login/user")
	defer pending.Done()

	stats := func() checksum.Stats { return checksum.Stats{Hits: 3, Misses: 2, Errors: 1} }
	srv := httptest.NewServer(NewMux(tr, stats))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `fmgshell_rpc_requests_total{kind="rpc",method="get"} 2`)
	assert.Contains(t, out, `fmgshell_rpc_failures_total{kind="rpc",method="get"} 1`)
	assert.Contains(t, out, `fmgshell_rpc_inflight{kind="rpc",method="exec"} 1`)
	assert.Contains(t, out, "fmgshell_checksum_cache_hits_total 3")
	assert.Contains(t, out, "fmgshell_checksum_cache_misses_total 2")
	assert.Contains(t, out, "fmgshell_checksum_cache_errors_total 1")
}

func TestMuxNilSources(t *testing.T) {
	srv := httptest.NewServer(NewMux(nil, nil))
	defer srv.Close()

	for _, p := range []string{"/diag", "/metrics"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}
