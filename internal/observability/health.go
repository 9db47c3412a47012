package observability

import (
	"net/http"
)

func HealthLiveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func HealthReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Readiness could probe Redis/Kafka connectivity
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
