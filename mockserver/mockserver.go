// Package mockserver provides a mock FortiManager JSON-RPC backend for
// testing.
//
// It serves login and logout, checksum and record gets for the ADOM
// table, the system status object and any raw object registered with
// WithData. Sessions are random UUIDs and are checked on every call.
//
// Usage:
//
//	s := mockserver.New(
//		mockserver.WithCredentials("admin", "secret"),
//		mockserver.WithADOMs("v1", "rootp", "branch1"),
//	)
//	defer s.Close()
//	client := fmg.NewClient(s.JSONRPCURL())
package mockserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Status codes the appliance uses.
const (
	CodeOK           = 0
	CodeNotExist     = -3
	CodeNoPermission = -11
)

// KV is one field of an ordered object.
type KV struct {
	Key   string
	Value any
}

// Server wraps an httptest.Server with a mock JSON-RPC backend.
type Server struct {
	*httptest.Server

	checksumCount atomic.Int32
	recordsCount  atomic.Int32
	requestCount  atomic.Int32

	user     string
	password string

	requestHook func(r *http.Request)

	mu           sync.Mutex
	sessions     map[string]bool
	adoms        []string
	adomChecksum any
	status       []KV
	data         map[string]json.RawMessage
	errorMode    int
	lastParams   map[string]any
}

// Option configures a mock server.
type Option func(*Server)

// WithCredentials makes login accept only user and password. Without it
// any credentials are accepted.
func WithCredentials(user, password string) Option {
	return func(s *Server) {
		s.user = user
		s.password = password
	}
}

// WithADOMs sets the ADOM table and its checksum token. The checksum may
// be a string or a number.
func WithADOMs(checksum any, names ...string) Option {
	return func(s *Server) {
		s.adomChecksum = checksum
		s.adoms = names
	}
}

// WithSystemStatus sets the fields of /cli/global/system/status, served
// in the given order.
func WithSystemStatus(fields ...KV) Option {
	return func(s *Server) {
		s.status = fields
	}
}

// WithData serves raw as the data of any get on url.
func WithData(url string, raw json.RawMessage) Option {
	return func(s *Server) {
		s.data[url] = raw
	}
}

// WithErrorMode makes every request fail with the given HTTP status code.
func WithErrorMode(statusCode int) Option {
	return func(s *Server) {
		s.errorMode = statusCode
	}
}

// WithRequestHook sets a callback invoked on every request before routing.
func WithRequestHook(h func(r *http.Request)) Option {
	return func(s *Server) {
		s.requestHook = h
	}
}

// New creates and starts a mock backend.
func New(opts ...Option) *Server {
	s := &Server{
		sessions:     make(map[string]bool),
		data:         make(map[string]json.RawMessage),
		adomChecksum: "0",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s
}

// JSONRPCURL is the endpoint clients post to.
func (s *Server) JSONRPCURL() string {
	return s.URL + "/jsonrpc"
}

// SetADOMs replaces the ADOM table and checksum while the server runs.
func (s *Server) SetADOMs(checksum any, names ...string) {
	s.mu.Lock()
	s.adomChecksum = checksum
	s.adoms = names
	s.mu.Unlock()
}

// SetErrorMode changes the HTTP error mode; 0 turns it off.
func (s *Server) SetErrorMode(statusCode int) {
	s.mu.Lock()
	s.errorMode = statusCode
	s.mu.Unlock()
}

// ChecksumCount returns the number of checksum gets served.
func (s *Server) ChecksumCount() int32 { return s.checksumCount.Load() }

// RecordsFetchCount returns the number of ADOM table fetches served.
func (s *Server) RecordsFetchCount() int32 { return s.recordsCount.Load() }

// RequestCount returns the number of JSON-RPC requests received.
func (s *Server) RequestCount() int32 { return s.requestCount.Load() }

// Sessions returns the number of open sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// LastParams returns the params entry of the most recent request.
func (s *Server) LastParams() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastParams
}

type request struct {
	Method  string           `json:"method"`
	Params  []map[string]any `json:"params"`
	Session *string          `json:"session"`
	ID      int64            `json:"id"`
}

type status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type result struct {
	URL    string          `json:"url"`
	Status status          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type response struct {
	ID      int64    `json:"id"`
	Result  []result `json:"result"`
	Session string   `json:"session,omitempty"`
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	if s.requestHook != nil {
		s.requestHook(r)
	}

	s.mu.Lock()
	errorMode := s.errorMode
	s.mu.Unlock()
	if errorMode != 0 {
		w.WriteHeader(errorMode)
		fmt.Fprintf(w, "mock error %d", errorMode)
		return
	}

	if r.URL.Path != "/jsonrpc" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.requestCount.Add(1)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Params) == 0 {
		http.Error(w, "no params", http.StatusBadRequest)
		return
	}
	params := req.Params[0]
	url, _ := params["url"].(string)

	s.mu.Lock()
	s.lastParams = params
	s.mu.Unlock()

	resp := response{ID: req.ID}
	res := result{URL: url}

	switch {
	case req.Method == "exec" && url == "/sys/login/user":
		if sess, ok := s.login(params); ok {
			resp.Session = sess
		} else {
			res.Status = status{CodeNoPermission, "No permission for the resource"}
		}
	case !s.validSession(req.Session):
		res.Status = status{CodeNoPermission, "Invalid session"}
	case req.Method == "exec" && url == "/sys/logout":
		s.mu.Lock()
		delete(s.sessions, *req.Session)
		s.mu.Unlock()
	case req.Method == "get":
		res.Data, res.Status = s.get(url, params)
	default:
		res.Status = status{CodeNotExist, "Object does not exist"}
	}
	if res.Status.Message == "" && res.Status.Code == CodeOK {
		res.Status.Message = "OK"
	}
	resp.Result = []result{res}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) login(params map[string]any) (string, bool) {
	data, _ := params["data"].(map[string]any)
	user, _ := data["user"].(string)
	passwd, _ := data["passwd"].(string)
	if s.user != "" && (user != s.user || passwd != s.password) {
		return "", false
	}
	sess := uuid.NewString()
	s.mu.Lock()
	s.sessions[sess] = true
	s.mu.Unlock()
	return sess, true
}

func (s *Server) validSession(sess *string) bool {
	if sess == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[*sess]
}

func (s *Server) get(url string, params map[string]any) (json.RawMessage, status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opt, _ := params["option"].(string); opt == "chksum" {
		if url != "/dvmdb/adom" {
			return nil, status{CodeNotExist, "Object does not exist"}
		}
		s.checksumCount.Add(1)
		data, _ := json.Marshal(map[string]any{"chksum": s.adomChecksum})
		return data, status{}
	}

	switch url {
	case "/dvmdb/adom":
		s.recordsCount.Add(1)
		recs := make([]map[string]string, 0, len(s.adoms))
		for _, name := range s.adoms {
			recs = append(recs, map[string]string{"name": name})
		}
		data, _ := json.Marshal(recs)
		return data, status{}
	case "/cli/global/system/status":
		if s.status != nil {
			return orderedObject(s.status), status{}
		}
	}
	if raw, ok := s.data[url]; ok {
		return raw, status{}
	}
	return nil, status{CodeNotExist, "Object does not exist"}
}

// orderedObject encodes fields as a JSON object without sorting the keys.
func orderedObject(fields []KV) json.RawMessage {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(f.Key)
		v, _ := json.Marshal(f.Value)
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes()
}
