package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/deckmate/tablesync/pkg/engine"
	"github.com/deckmate/tablesync/pkg/log"
)

func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func HandleListGames(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(e.SupportedGames()); err != nil {
			log.Error("failed to encode games list: %v", err)
			http.Error(w, "Failed to encode games list", http.StatusInternalServerError)
		}
	}
}

func HandleStats(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(e.Stats()); err != nil {
			log.Error("failed to encode stats: %v", err)
			http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		}
	}
}

func HandleConnectionMetrics(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := mux.Vars(r)["connectionID"]
		metrics, ok := e.BatchMetrics(connectionID)
		if !ok {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(metrics); err != nil {
			log.Error("failed to encode connection metrics: %v", err)
			http.Error(w, "Failed to encode connection metrics", http.StatusInternalServerError)
		}
	}
}
