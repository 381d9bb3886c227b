package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/logic/tracking"
)

type fakeTracker struct {
	status     tracking.Status
	rehomeErr  error
	rehomeHits int
}

func (f *fakeTracker) Status() tracking.Status { return f.status }

func (f *fakeTracker) RequestRehome() error {
	f.rehomeHits++
	return f.rehomeErr
}

func testStatic() fstest.MapFS {
	return fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>tracker</html>")},
	}
}

func newTestHandlers(tracker Tracker) *Handlers {
	return NewHandlers(NewStatusBroadcaster(), tracker, testStatic())
}

// ---------- GET /status ----------

func TestHandleStatus(t *testing.T) {
	tr := &fakeTracker{status: tracking.Status{
		State:        "idle",
		PositionDeg:  182.5,
		EncoderTicks: 89512,
		Homed:        true,
	}}
	h := newTestHandlers(tr)

	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got tracking.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State != "idle" || got.PositionDeg != 182.5 || got.EncoderTicks != 89512 || !got.Homed {
		t.Errorf("status = %+v, mismatch", got)
	}
}

func TestHandleStatus_NoTracker(t *testing.T) {
	h := newTestHandlers(nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// ---------- POST /home ----------

func TestHandleRehome(t *testing.T) {
	tr := &fakeTracker{}
	h := newTestHandlers(tr)

	rec := httptest.NewRecorder()
	h.HandleRehome(rec, httptest.NewRequest(http.MethodPost, "/home", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if tr.rehomeHits != 1 {
		t.Errorf("rehome hits = %d, want 1", tr.rehomeHits)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "queued" {
		t.Errorf("response = %v, want status queued", resp)
	}
}

func TestHandleRehome_AlreadyPending(t *testing.T) {
	tr := &fakeTracker{rehomeErr: tracking.ErrRehomePending}
	h := newTestHandlers(tr)

	rec := httptest.NewRecorder()
	h.HandleRehome(rec, httptest.NewRequest(http.MethodPost, "/home", nil))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestHandleRehome_NoTracker(t *testing.T) {
	h := newTestHandlers(nil)
	rec := httptest.NewRecorder()
	h.HandleRehome(rec, httptest.NewRequest(http.MethodPost, "/home", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// ---------- GET / ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakeTracker{})
	rec := httptest.NewRecorder()
	h.ServeIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "tracker") {
		t.Error("index body missing")
	}
}

func TestServeIndex_EmbeddedPage(t *testing.T) {
	// The real embedded page must exist and look like the diagnostics
	// UI, not a placeholder.
	srv := NewServer(":0", NewStatusBroadcaster(), &fakeTracker{}, nil)
	rec := httptest.NewRecorder()
	srv.handlers.ServeIndex(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	for _, want := range []string{"/status/stream", "/home"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("embedded page missing %q", want)
		}
	}
}

// ---------- GET /status/stream ----------

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(&fakeTracker{})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/status/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleStatusStream(rec, req)
	}()

	// Give the handler a moment to subscribe before broadcasting.
	time.Sleep(50 * time.Millisecond)
	h.Broadcaster.Broadcast("info", "streamed event")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not exit on context cancel")
	}

	body := rec.Body.String()
	if !strings.Contains(body, ": connected") {
		t.Error("stream should open with a connected comment")
	}
	if !strings.Contains(body, "streamed event") {
		t.Errorf("stream body = %q, missing broadcast", body)
	}
}

// ---------- router ----------

func TestRouter_Routes(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), &fakeTracker{status: tracking.Status{State: "idle"}}, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if resp, err := http.Get(ts.URL + "/status"); err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("GET /status: %v, %v", resp, err)
	}
	if resp, err := http.Post(ts.URL+"/home", "", nil); err != nil || resp.StatusCode != http.StatusAccepted {
		t.Errorf("POST /home: %v, %v", resp, err)
	}
	if resp, err := http.Get(ts.URL + "/home"); err != nil || resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /home: %v, %v; want 405", resp, err)
	}
	if resp, err := http.Get(ts.URL + "/metrics"); err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics: %v, %v", resp, err)
	}
	if resp, err := http.Get(ts.URL + "/"); err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("GET /: %v, %v", resp, err)
	}
}
