package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/rs/cors"

	"go-require/journal"
	"go-require/loader"
)

// ReloadRequest is the body of POST /reload. An empty ref reloads the roots.
type ReloadRequest struct {
	Ref     string `json:"ref"`
	Cascade bool   `json:"cascade"`
	InPlace bool   `json:"inplace"`
}

// FailingResponse is the body of GET /units/failing
type FailingResponse struct {
	Failing []string `json:"failing"`
	Epoch   uint64   `json:"epoch"`
}

// newServer returns the inspection API handler
func newServer(a *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/units", a.handleUnits)
	mux.HandleFunc("/units/journal", a.handleJournal)
	mux.HandleFunc("/units/status", a.handleStatus)
	mux.HandleFunc("/units/failing", a.handleFailing)
	mux.HandleFunc("/reload", a.handleReload)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"}, // Allow any origin
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleUnits lists the registered units
func (a *App) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.Units())
}

// handleJournal returns recent executions, optionally for one identity
func (a *App) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.journal == nil {
		http.Error(w, "Journal is disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := a.journal.Recent(r.URL.Query().Get("identity"), limit)
	if err != nil {
		log.Printf("Failed to query journal: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleStatus returns the journal rollup for one identity
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.journal == nil {
		http.Error(w, "Journal is disabled", http.StatusNotFound)
		return
	}

	st, err := a.journal.Status(r.URL.Query().Get("identity"))
	if errors.Is(err, journal.ErrUnknownUnit) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleFailing lists units the journal has marked as failing, with the
// latest cascade epoch
func (a *App) handleFailing(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Only GET method is allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.journal == nil {
		http.Error(w, "Journal is disabled", http.StatusNotFound)
		return
	}

	ids, err := a.journal.Failing()
	if err != nil {
		log.Printf("Failed to query failing units: %v", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, FailingResponse{Failing: ids, Epoch: a.loader.Epoch()})
}

// handleReload reloads one unit, or all roots when no ref is given
func (a *App) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var err error
	if req.Ref == "" {
		err = a.ReloadRoots()
	} else {
		err = a.Reload(req.Ref, req.Cascade, req.InPlace)
	}
	switch {
	case errors.Is(err, loader.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Units())
}
