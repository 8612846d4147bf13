// Package testutil provides a scriptable stand-in for the SwissParam web
// service, shared by unit, command and e2e tests.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Status texts in the shape the real service returns them.
const (
	StatusQueued   = "Session %s is in the queue"
	StatusRunning  = "Session %s is running"
	StatusFinished = "Calculation for session %s is finished"
	StatusFailed   = "Calculation for session %s failed"
)

// Upload records what the server received on the start endpoint.
type Upload struct {
	Query    url.Values
	Form     url.Values
	FileName string
	File     []byte
}

// MockServer emulates the start, check, cancel and retrieve endpoints.
type MockServer struct {
	*httptest.Server

	mu           sync.Mutex
	sessionID    string
	uploadBody   string
	uploadStatus int
	statuses     []string
	dropStatus   int
	result       []byte
	resultStatus int
	truncate     bool
	onStatus     func(call int)

	pings     int
	uploads   []Upload
	statusN   int
	cancels   []string
	downloads int
}

// Option configures a MockServer.
type Option func(*MockServer)

// WithSessionID sets the id handed out by the start endpoint.
func WithSessionID(id string) Option {
	return func(m *MockServer) { m.sessionID = id }
}

// WithUploadResponse overrides the start endpoint's status code and body.
func WithUploadResponse(code int, body string) Option {
	return func(m *MockServer) {
		m.uploadStatus = code
		m.uploadBody = body
	}
}

// WithStatuses scripts the check endpoint. Each entry is a format string
// receiving the session id (see the Status* constants); the last entry
// repeats once the script runs out.
func WithStatuses(statuses ...string) Option {
	return func(m *MockServer) { m.statuses = statuses }
}

// WithDroppedStatus makes the first n check requests fail at the connection level.
func WithDroppedStatus(n int) Option {
	return func(m *MockServer) { m.dropStatus = n }
}

// WithResult sets the archive bytes served by the retrieve endpoint.
func WithResult(data []byte) Option {
	return func(m *MockServer) { m.result = data }
}

// WithResultStatus makes the retrieve endpoint answer with code.
func WithResultStatus(code int) Option {
	return func(m *MockServer) { m.resultStatus = code }
}

// WithTruncatedResult advertises a longer Content-Length than the body sent.
func WithTruncatedResult() Option {
	return func(m *MockServer) { m.truncate = true }
}

// WithStatusHook runs fn before answering each check request; call is 1-based.
func WithStatusHook(fn func(call int)) Option {
	return func(m *MockServer) { m.onStatus = fn }
}

// NewMockServer starts a server that is closed when the test ends.
func NewMockServer(tb testing.TB, opts ...Option) *MockServer {
	tb.Helper()

	m := &MockServer{
		sessionID:    "abc123",
		uploadStatus: http.StatusOK,
		statuses:     []string{StatusFinished},
		result:       []byte("results!!!"),
		resultStatus: http.StatusOK,
	}
	for _, opt := range opts {
		opt(m)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/startparam", m.handleStart)
	mux.HandleFunc("/checksession", m.handleCheck)
	mux.HandleFunc("/cancelsession", m.handleCancel)
	mux.HandleFunc("/retrievesession", m.handleRetrieve)
	mux.HandleFunc("/", m.handleRoot)

	// Without keep-alives every request gets a fresh connection, so the
	// client transport never silently replays a dropped request.
	m.Server = httptest.NewUnstartedServer(mux)
	m.Server.Config.SetKeepAlivesEnabled(false)
	m.Server.Start()
	tb.Cleanup(m.Close)
	return m
}

func (m *MockServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	m.mu.Lock()
	m.pings++
	m.mu.Unlock()
	fmt.Fprintln(w, "SwissParam")
}

func (m *MockServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	up := Upload{Query: r.URL.Query(), Form: url.Values(r.MultipartForm.Value)}
	if f, hdr, err := r.FormFile("myMol2"); err == nil {
		up.FileName = hdr.Filename
		up.File, _ = io.ReadAll(f) //nolint:errcheck // test server
		f.Close()
	}

	m.mu.Lock()
	m.uploads = append(m.uploads, up)
	code, body, id := m.uploadStatus, m.uploadBody, m.sessionID
	m.mu.Unlock()

	if body == "" {
		body = fmt.Sprintf(`"https://www.swissparam.ch/results.php?sessionNumber=%s"`, id)
	}
	w.WriteHeader(code)
	fmt.Fprint(w, body)
}

func (m *MockServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.statusN++
	call := m.statusN
	drop := call <= m.dropStatus
	idx := call - m.dropStatus - 1
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	var text string
	if idx >= 0 {
		text = m.statuses[idx]
	}
	hook := m.onStatus
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if drop {
		hijackAndClose(w)
		return
	}
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, r.URL.Query().Get("sessionNumber"))
	}
	fmt.Fprint(w, text)
}

func (m *MockServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.cancels = append(m.cancels, r.URL.Query().Get("sessionNumber"))
	m.mu.Unlock()
	fmt.Fprintln(w, "Session cancelled")
}

func (m *MockServer) handleRetrieve(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	m.downloads++
	code, data, truncate := m.resultStatus, m.result, m.truncate
	m.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "no results for this session", code)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	if truncate {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)+100))
		_, _ = w.Write(data) //nolint:errcheck // test server
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		hijackAndClose(w)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data) //nolint:errcheck // test server
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

// Pings returns the number of reachability checks received.
func (m *MockServer) Pings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings
}

// Uploads returns the start requests received so far.
func (m *MockServer) Uploads() []Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Upload(nil), m.uploads...)
}

// StatusCalls returns the number of check requests received, dropped ones included.
func (m *MockServer) StatusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusN
}

// Cancels returns the session ids received on the cancel endpoint.
func (m *MockServer) Cancels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancels...)
}

// Downloads returns the number of retrieve requests received.
func (m *MockServer) Downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads
}
