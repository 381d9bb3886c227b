package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/Janta-Power/Janta-Power/internal/logic/tracking"
)

// Tracker is the slice of the controller the diagnostics page needs.
type Tracker interface {
	Status() tracking.Status
	RequestRehome() error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Tracker     Tracker
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If tracker is nil, /status and /home return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, tracker Tracker, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Tracker:     tracker,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns the controller snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.Error(w, "tracker not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Tracker.Status())
}

// HandleRehome handles POST /home: queue a manual re-home, executed on
// the controller's next tick.
func (h *Handlers) HandleRehome(w http.ResponseWriter, r *http.Request) {
	if h.Tracker == nil {
		http.Error(w, "tracker not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.Tracker.RequestRehome(); err != nil {
		if errors.Is(err, tracking.ErrRehomePending) {
			http.Error(w, "re-home already queued", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.Broadcaster.BroadcastMsg("Manual re-home queued")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
