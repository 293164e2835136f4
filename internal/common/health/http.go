package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// RegisterHandler serves checker on /health: 204 when healthy, 503 with the failure otherwise.
func RegisterHandler(mux *http.ServeMux, checker Checker) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		err := checker.Check()
		if err == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.WithError(err).Warn("Health check failed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	})
}
