package notification

import "net/http"

// Register mounts the send and lookup routes. Authentication is applied
// by the router around the whole mux.
func Register(mux *http.ServeMux, svc Sender, query StatusReader) {
	send := SendHandler{Svc: svc}
	mux.Handle("POST /notifications", send)
	mux.Handle("POST /sendNotification", send)

	mux.Handle("GET /status/{requestId}", StatusHandler{Query: query})
	mux.Handle("GET /messages/{id}", MessageHandler{Query: query})
}
