package poller

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/temperature.report/internal/httputil"
)

// Subscribe registers a channel that receives every completed cycle. Slow
// subscribers miss cycles rather than delay the poller.
func (s *Scheduler) Subscribe() (string, chan Cycle) {
	id := uuid.NewString()
	ch := make(chan Cycle, 8)
	s.subscriberMu.Lock()
	s.subscribers[id] = ch
	s.subscriberMu.Unlock()
	return id, ch
}

func (s *Scheduler) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Scheduler) publish(c Cycle) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- c:
		default:
			// if the channel is full skip so as not to block the poller
		}
	}
}

func (s *Scheduler) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("poller", "Poller state and counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Status())
	})

	// Server-Sent Events stream of completed cycles.
	debug.HandleSilentFunc("poller-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case cycle, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(cycle)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
