package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/linkdata/streaming"
)

// newDemoHandler answers GET /api/messages with {"hello":"world"} and
// echoes the body of any other request back to the sender.
func newDemoHandler() streaming.RequestHandler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", streaming.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]string{"hello": "world"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		io.Copy(w, r.Body)
	})
	return streaming.NewHTTPHandler(mux)
}
