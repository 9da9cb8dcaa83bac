package crossbar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// Time allowed to write one event to an event stream
const sseWriteTimeout = 10 * time.Second

// ServeEvents streams the events of the rooms named by the room query
// parameters as server-sent events, for clients that cannot use websockets.
func (x *Crossbar) ServeEvents(w http.ResponseWriter, r *http.Request) {

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "event streams not supported", http.StatusInternalServerError)
		return
	}

	user, err := x.authorise(r)

	if err != nil {
		log.WithFields(log.Fields{"error": err.Error(), "remoteAddr": r.RemoteAddr}).Info("Unauthorized event stream")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	rooms := r.URL.Query()["room"]

	if len(rooms) == 0 {
		http.Error(w, "at least one room is required", http.StatusBadRequest)
		return
	}

	hc, err := x.config.Hub.Connect()

	if err != nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	defer x.config.Hub.Disconnect(hc)

	for _, room := range rooms {
		if err := x.config.Hub.Join(hc, room); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	rc := http.NewResponseController(w)

	deadlinesSupported := true

	writeAndFlush := func(eventType string, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				log.WithField("error", err.Error()).Debug("event stream write deadlines not supported")
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
			return err
		}

		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log.WithFields(log.Fields{"connection": hc.ID, "user": user, "rooms": rooms}).Debug("event stream opened")

	for {
		select {
		case e, ok := <-hc.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.WithFields(log.Fields{"error": err.Error(), "event": e.Type}).Error("event stream encoding error")
				continue
			}
			if err := writeAndFlush(e.Type, data); err != nil {
				return
			}

		case <-r.Context().Done():
			return

		case <-x.closed:
			return
		}
	}
}
