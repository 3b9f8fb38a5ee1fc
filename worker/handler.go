package worker

import (
	"encoding/json"
	"net/http"

	"workerlink/message"
)

// NewAppHandler is the default application surface:
//
//	GET  /health  → {"healthy":true,"version":"..."}
//	POST /notify  → publishes the JSON event in the body, 202
func NewAppHandler(w *Worker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"healthy": true, "version": w.Version()})
	})
	mux.HandleFunc("POST /notify", func(rw http.ResponseWriter, r *http.Request) {
		var evt message.Event
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<20)).Decode(&evt); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if evt.Type == "" {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"error": "event type is required"})
			return
		}
		w.Publish(evt)
		rw.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
