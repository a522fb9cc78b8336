package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseHandler writes pre-framed SSE events for one connection and then
// returns, closing the response body.
func sseHandler(conns *atomic.Int32, perConn func(conn int32, w http.ResponseWriter, flush func())) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "no flusher", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		perConn(conns.Add(1), w, flusher.Flush)
	}
}

func writeEvent(w http.ResponseWriter, flush func(), name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	flush()
}

// recorder collects dispatched events in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handlers() StreamHandlers {
	return StreamHandlers{
		OnPlan:     func(ev PlanEvent) { r.add("plan:" + ev.Status) },
		OnStep:     func(ev StepEvent) { r.add(fmt.Sprintf("step:%d:%s", ev.Step, ev.Status)) },
		OnResponse: func(ev ResponseEvent) { r.add("response:" + ev.Message) },
		OnError:    func(err error) { r.add("error") },
		OnDone: func() {
			r.add("done")
			close(r.done)
		},
	}
}

func (r *recorder) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the done sentinel")
	}
}

func TestStreamDeliversEventsUntilDone(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		writeEvent(w, flush, "plan", `{"type":"plan","status":"generated","subtasks":[{"step":1,"action":"buscar"}]}`)
		writeEvent(w, flush, "step", `{"type":"step","step":1,"status":"running"}`)
		writeEvent(w, flush, "step", `{"type":"step","step":1,"status":"completed"}`)
		writeEvent(w, flush, "response", `{"type":"response","status":"completed","message":"listo"}`)
		writeEvent(w, flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.SetReconnectPolicy(10*time.Millisecond, 20*time.Millisecond)
	s.Connect("hola", "")
	defer s.Close()

	rec.waitDone(t)

	assert.Equal(t, []string{
		"plan:generated",
		"step:1:running",
		"step:1:completed",
		"response:listo",
		"done",
	}, rec.list())

	// The sentinel is terminal: no reconnect may follow.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), conns.Load())
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		if conn == 1 {
			// Drop without a sentinel; the client must come back.
			writeEvent(w, flush, "step", `{"type":"step","step":1,"status":"running"}`)
			return
		}
		writeEvent(w, flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.SetReconnectPolicy(10*time.Millisecond, 20*time.Millisecond)
	s.Connect("hola", "conv-1")
	defer s.Close()

	rec.waitDone(t)

	assert.GreaterOrEqual(t, conns.Load(), int32(2), "expected a reconnect after the drop")
	assert.Contains(t, rec.list(), "step:1:running")
	assert.Equal(t, "done", rec.list()[len(rec.list())-1])
}

func TestStreamCloseStopsReconnect(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		// Close every connection immediately, never sending a sentinel.
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.SetReconnectPolicy(10*time.Millisecond, 20*time.Millisecond)
	s.Connect("hola", "")

	// Let at least one connection happen, then close.
	require.Eventually(t, func() bool { return conns.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Close()

	settled := conns.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, conns.Load(), "no connections may be opened after Close")

	// Close is idempotent.
	s.Close()
}

func TestStreamConnectAfterCloseIsNoOp(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		writeEvent(w, flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.Close()

	// A closed client must refuse to reconnect; the cancel path for a
	// new connection no longer exists.
	s.Connect("hola", "")

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, conns.Load(), "no connection may be opened by a closed client")
	assert.False(t, s.isActive())
}

func TestStreamSkipsMalformedEvents(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		writeEvent(w, flush, "step", `{not json`)
		writeEvent(w, flush, "response", `{"type":"response","status":"completed","message":"sobrevive"}`)
		writeEvent(w, flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.Connect("hola", "")
	defer s.Close()

	rec.waitDone(t)

	assert.Equal(t, []string{"response:sobrevive", "done"}, rec.list(),
		"malformed event is skipped, later events still arrive")
}

func TestStreamFallsBackToEventName(t *testing.T) {
	// Payload without a type field routes by the SSE event name.
	var conns atomic.Int32
	server := httptest.NewServer(sseHandler(&conns, func(conn int32, w http.ResponseWriter, flush func()) {
		writeEvent(w, flush, "response", `{"status":"completed","message":"sin tipo"}`)
		writeEvent(w, flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.Connect("hola", "")
	defer s.Close()

	rec.waitDone(t)
	assert.Equal(t, []string{"response:sin tipo", "done"}, rec.list())
}

func TestStreamSendsTurnParameters(t *testing.T) {
	var gotMessage, gotConversation string
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		gotMessage = r.URL.Query().Get("message")
		gotConversation = r.URL.Query().Get("conversation_id")
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, flusher.Flush, "done", `{"type":"done"}`)
	}))
	defer server.Close()

	rec := newRecorder()
	s := NewStreamClient(server.URL, nil, rec.handlers(), nil)
	s.Connect("¿qué eventos tengo hoy?", "conv-42")
	defer s.Close()

	rec.waitDone(t)
	assert.Equal(t, "¿qué eventos tengo hoy?", gotMessage)
	assert.Equal(t, "conv-42", gotConversation)
}
