package server

import (
	"net/http"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// Routes returns the application's handler: every route wrapped in panic
// recovery and request logging.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc("GET /healthz", s.HealthzHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /test", s.TestPageHandler)
	mux.HandleFunc("GET /api/rooms/{id}", s.RoomHandler)
	mux.HandleFunc("GET /api/rooms/{id}/messages", s.RoomMessagesHandler)

	return logging.HTTPMiddleware(logging.L())(recoverer(mux))
}

// recoverer turns a handler panic into a 500 and logs it.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				l := logging.Ctx(r.Context())
				l.Error().Interface("panic", rec).Msg("handler panicked")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
