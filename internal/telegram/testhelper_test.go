package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

// apiCall is one recorded Bot API invocation.
type apiCall struct {
	Method  string
	Payload map[string]any
}

// fakeAPI is an in-process Bot API server. It records every call and
// answers with canned successes unless a method is marked failing.
type fakeAPI struct {
	t  *testing.T
	mu sync.Mutex

	calls []apiCall
	// fail maps a method name to how many upcoming calls should fail
	// with a 400 response.
	fail map[string]int

	nextMessageID int
	server        *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, fail: make(map[string]int), nextMessageID: 100}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client() *Client {
	return NewClient("12345:TESTTOKEN", f.server.URL)
}

func (f *fakeAPI) handle(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]

	var payload map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Payload: payload})
	if n := f.fail[method]; n > 0 {
		f.fail[method] = n - 1
		f.mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(f.t, w, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: forced failure"})
		return
	}
	f.nextMessageID++
	msgID := f.nextMessageID
	f.mu.Unlock()

	switch method {
	case "sendMessage", "editMessageText":
		writeJSON(f.t, w, map[string]any{"ok": true, "result": map[string]any{"message_id": msgID}})
	case "answerCallbackQuery", "deleteWebhook":
		writeJSON(f.t, w, map[string]any{"ok": true, "result": true})
	case "getMe":
		writeJSON(f.t, w, map[string]any{"ok": true, "result": map[string]any{"id": 42, "is_bot": true, "first_name": "bridge"}})
	case "getUpdates":
		writeJSON(f.t, w, map[string]any{"ok": true, "result": []any{}})
	default:
		writeJSON(f.t, w, map[string]any{"ok": false, "error_code": 404, "description": "method not found"})
	}
}

// failNext makes the next n calls to method return a 400.
func (f *fakeAPI) failNext(method string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = n
}

// callsTo returns the recorded payloads for a method, in order.
func (f *fakeAPI) callsTo(method string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c.Payload)
		}
	}
	return out
}
